package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/pkg/logger"
	"github.com/supportiq/assist/pkg/metrics"
)

const (
	// StreamName is the name of the session events stream.
	StreamName = "ASSIST_EVENTS"

	// SubjectPrefix is the prefix for all session event subjects.
	SubjectPrefix = "assist"
)

// Type identifies a session event.
type Type string

const (
	TypeConversationCreated Type = "conversation_created"
	TypeConversationDeleted Type = "conversation_deleted"
	TypeMessageAccepted     Type = "message_accepted"
	TypeTicketCreated       Type = "ticket_created"
	TypeTitleGenerated      Type = "title_generated"
)

// Event is the envelope published for every session event.
type Event struct {
	Type           Type           `json:"type"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Role           model.Role     `json:"role,omitempty"`
	TicketID       string         `json:"ticket_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Publisher publishes session events. A nil Publisher drops everything,
// so callers never need to guard for a disabled event stream.
type Publisher struct {
	client *Client
	log    *logger.Logger
}

// NewPublisher creates a publisher and ensures the events stream exists.
func NewPublisher(ctx context.Context, client *Client, log *logger.Logger) (*Publisher, error) {
	p := &Publisher{client: client, log: log}
	if err := p.ensureStream(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	js := p.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Assistant session events for analytics",
	})
	if err != nil {
		return fmt.Errorf("failed to create events stream: %w", err)
	}
	return nil
}

// Subject returns the subject for an event.
func Subject(userID, conversationID string, t Type) string {
	if conversationID == "" {
		conversationID = "none"
	}
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, userID, conversationID, t)
}

// Publish emits one event. Failures are logged and recorded, never returned:
// eventing is best-effort and must not fail a session operation.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to marshal session event", zap.Error(err))
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		return
	}

	subject := Subject(event.UserID, event.ConversationID, event.Type)
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		p.log.Error("failed to publish session event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		return
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type), "ok").Inc()
}
