// Package store provides the conversation store client.
package store

import (
	"context"
	"errors"

	"github.com/supportiq/assist/internal/model"
)

// ErrNotFound is returned when a conversation id does not resolve, including
// ids deleted concurrently by another session.
var ErrNotFound = errors.New("conversation not found")

// Store is the conversation store client. All operations are scoped to the
// owning user; a conversation is never visible across users.
type Store interface {
	// List returns conversation headers, most recently updated first.
	// Messages are not populated.
	List(ctx context.Context, userID string) ([]model.Conversation, error)

	// Get returns one conversation with its full transcript.
	Get(ctx context.Context, userID, id string) (*model.Conversation, error)

	// Create persists a new conversation and assigns its id.
	Create(ctx context.Context, userID, title string, attachedTicketIDs []string) (*model.Conversation, error)

	// AppendMessages appends to the transcript and bumps UpdatedAt.
	// Optionally replaces the attached-ticket set in the same write.
	AppendMessages(ctx context.Context, userID, id string, messages []model.Message, attachedTicketIDs []string) error

	// Delete removes a conversation. Deleting an absent id is not an error.
	Delete(ctx context.Context, userID, id string) error

	// ReplaceAttachedTickets replaces the attached-ticket set wholesale.
	ReplaceAttachedTickets(ctx context.Context, userID, id string, ticketIDs []string) ([]string, error)

	// SetTitle overwrites the conversation title. Touches nothing else.
	SetTitle(ctx context.Context, userID, id, title string) error
}
