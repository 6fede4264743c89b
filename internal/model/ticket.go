package model

// Status is the lifecycle state of a support ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Icon returns the display glyph for a status. The switch is exhaustive so
// an unknown status shows up as a visible placeholder instead of nothing.
func (s Status) Icon() string {
	switch s {
	case StatusOpen:
		return "circle"
	case StatusInProgress:
		return "clock"
	case StatusResolved:
		return "check-circle"
	case StatusClosed:
		return "x-circle"
	default:
		return "help-circle"
	}
}

// Priority is the urgency of a support ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Color returns the display color token for a priority.
func (p Priority) Color() string {
	switch p {
	case PriorityLow:
		return "gray"
	case PriorityMedium:
		return "blue"
	case PriorityHigh:
		return "orange"
	case PriorityUrgent:
		return "red"
	default:
		return "gray"
	}
}

// TicketRef is the lightweight ticket projection carried in messages and in
// the attached-ticket set.
type TicketRef struct {
	ID           string   `json:"id"`
	TicketNumber int      `json:"ticket_number"`
	Title        string   `json:"title"`
	Status       Status   `json:"status"`
	Priority     Priority `json:"priority"`
}
