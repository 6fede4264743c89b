package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Source is a knowledge-base chunk the assistant grounded a reply on.
type Source struct {
	Title string `json:"title"`
	Chunk string `json:"chunk"`
}

// Message is one transcript entry. Append-only: once written it is never
// mutated, except that historical loads may carry sources recorded at the
// time of the reply.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Populated on assistant messages only. Ticket refs are denormalized at
	// submit time; historical messages are never re-fetched.
	Sources           []Source    `json:"sources,omitempty"`
	CreatedTickets    []TicketRef `json:"created_tickets,omitempty"`
	ReferencedTickets []TicketRef `json:"referenced_tickets,omitempty"`
}

// ChatRequest is a single turn submitted to the assistant engine.
type ChatRequest struct {
	UserID            string   `json:"-"`
	Message           string   `json:"message"`
	ConversationID    string   `json:"conversation_id,omitempty"`
	AttachedTicketIDs []string `json:"attached_ticket_ids,omitempty"`
}

// ChatResult is the engine's reply for one turn.
type ChatResult struct {
	Response          string      `json:"response"`
	ConversationID    string      `json:"conversation_id"`
	Sources           []Source    `json:"sources"`
	CreatedTickets    []TicketRef `json:"created_tickets,omitempty"`
	ReferencedTickets []TicketRef `json:"referenced_tickets,omitempty"`
}
