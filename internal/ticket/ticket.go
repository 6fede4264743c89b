// Package ticket provides the ticket index client used for search,
// autocomplete and tool-side ticket mutations.
package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/supportiq/assist/internal/model"
)

// ErrNotFound is returned when a ticket id or number does not resolve.
var ErrNotFound = errors.New("ticket not found")

// StatusAll disables status filtering.
const StatusAll model.Status = "all"

// Ticket is the full ticket document. TicketRef is the projection carried
// in transcripts and attachment sets.
type Ticket struct {
	ID           string         `json:"id"`
	TicketNumber int            `json:"ticket_number"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Status       model.Status   `json:"status"`
	Priority     model.Priority `json:"priority"`
	Category     string         `json:"category,omitempty"`
	UserID       string         `json:"user_id"`
	Notes        []Note         `json:"notes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Note is a comment appended to a ticket.
type Note struct {
	Content   string    `json:"content"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the lightweight projection of t.
func (t *Ticket) Ref() model.TicketRef {
	return model.TicketRef{
		ID:           t.ID,
		TicketNumber: t.TicketNumber,
		Title:        t.Title,
		Status:       t.Status,
		Priority:     t.Priority,
	}
}

// SearchResult is a page of ticket projections.
type SearchResult struct {
	Tickets []model.TicketRef `json:"tickets"`
	Count   int               `json:"count"`
}

// CreateParams are the fields for a new ticket.
type CreateParams struct {
	UserID      string
	Title       string
	Description string
	Priority    model.Priority
	Category    string
}

// UpdateParams are the mutable ticket fields. Nil fields are untouched.
type UpdateParams struct {
	Status   *model.Status
	Priority *model.Priority
	Note     *Note
}

// Index is the ticket store client. Every call is a fresh round-trip; there
// is no local caching, and results are not filtered against any attachment
// set here. Exclusion policy belongs to the caller.
type Index interface {
	// Search runs a free-text query over title and description. status
	// narrows results unless it is StatusAll.
	Search(ctx context.Context, userID, query string, status model.Status, limit int) (SearchResult, error)

	// Recent lists the most recently updated tickets. Used when the search
	// query is empty.
	Recent(ctx context.Context, userID string, status model.Status, limit int) (SearchResult, error)

	// Get fetches a single ticket by id. Returns ErrNotFound for stale ids.
	Get(ctx context.Context, id string) (*Ticket, error)

	// GetByNumber fetches a single ticket by its user-visible number.
	GetByNumber(ctx context.Context, userID string, number int) (*Ticket, error)

	// Create stores a new ticket and assigns it the next ticket number.
	Create(ctx context.Context, params CreateParams) (*Ticket, error)

	// Update applies params to an existing ticket.
	Update(ctx context.Context, id string, params UpdateParams) (*Ticket, error)
}
