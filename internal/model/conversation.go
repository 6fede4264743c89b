// Package model defines data structures for the assistant session platform.
package model

import (
	"time"
)

// Conversation represents a persisted chat session. Messages are only
// populated on a full fetch; list views carry the header fields alone.
type Conversation struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Title             string    `json:"title"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	AttachedTicketIDs []string  `json:"attached_ticket_ids"`
	Messages          []Message `json:"messages,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// PatchTicketsRequest replaces the attached-ticket set of a conversation.
type PatchTicketsRequest struct {
	TicketIDs []string `json:"ticket_ids"`
}

// PatchTicketsResponse confirms the replacement.
type PatchTicketsResponse struct {
	AttachedTicketIDs []string `json:"attached_ticket_ids"`
}

// TitleResponse is the result of asynchronous title generation.
type TitleResponse struct {
	Title     string `json:"title"`
	Generated bool   `json:"generated"`
}

// ProvisionalTitle derives the placeholder title shown for a new
// conversation until a generated title replaces it.
func ProvisionalTitle(message string) string {
	const max = 50
	runes := []rune(message)
	if len(runes) <= max {
		return message
	}
	return string(runes[:max]) + "..."
}
