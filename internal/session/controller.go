// Package session coordinates one user's live assistant session: the active
// conversation, submission lifecycle, attachment set, and sidebar state.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/attachment"
	"github.com/supportiq/assist/internal/mention"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/pkg/logger"
	"github.com/supportiq/assist/pkg/metrics"
)

// Engine is the completion surface the controller drives.
type Engine interface {
	Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResult, error)
	GenerateTitle(ctx context.Context, userID, conversationID string) (string, bool, error)
}

// ConversationStore is the read/delete slice of the store the controller
// needs; writes happen inside the engine.
type ConversationStore interface {
	List(ctx context.Context, userID string) ([]model.Conversation, error)
	Get(ctx context.Context, userID, id string) (*model.Conversation, error)
	Delete(ctx context.Context, userID, id string) error
}

// Phase is the controller's submission lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseSwitching
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSwitching:
		return "switching"
	default:
		return "unknown"
	}
}

const assistantErrorReply = "Sorry, I ran into a problem processing that message. Please try again."

// Controller owns one user's session. Conversation switches are last-wins
// and submissions are serialized; completions that land after the session
// has moved on (new chat, switch, delete) are discarded silently. The
// generation counter marks those context changes: any async completion
// holding an older generation applies nothing.
type Controller struct {
	engine        Engine
	store         ConversationStore
	attachments   *attachment.Manager
	mentions      *mention.Resolver
	log           *logger.Logger
	userID        string
	hasCredential bool

	mu            sync.Mutex
	phase         Phase
	activeID      string
	messages      []model.Message
	conversations []model.Conversation
	generation    uint64
	switchVersion uint64
	submitVersion uint64
}

// NewController creates a session controller for one user.
func NewController(
	engine Engine,
	store ConversationStore,
	attachments *attachment.Manager,
	mentions *mention.Resolver,
	userID string,
	hasCredential bool,
	log *logger.Logger,
) *Controller {
	return &Controller{
		engine:        engine,
		store:         store,
		attachments:   attachments,
		mentions:      mentions,
		log:           log,
		userID:        userID,
		hasCredential: hasCredential,
		phase:         PhaseIdle,
	}
}

// Activate loads the conversation list. The session starts on a fresh draft;
// no conversation is selected.
func (c *Controller) Activate(ctx context.Context) error {
	convs, err := c.store.List(ctx, c.userID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conversations = convs
	c.mu.Unlock()
	return nil
}

// Attachments returns the session's attachment manager.
func (c *Controller) Attachments() *attachment.Manager { return c.attachments }

// Mentions returns the session's mention resolver.
func (c *Controller) Mentions() *mention.Resolver { return c.mentions }

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ActiveConversationID returns the selected conversation id, or "" on a draft.
func (c *Controller) ActiveConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Messages returns a copy of the active transcript.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.messages...)
}

// Conversations returns a copy of the sidebar headers, most recent first.
func (c *Controller) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Conversation(nil), c.conversations...)
}

// Submit sends one user message through the engine. The attachment set is
// snapshotted at entry, so attach/detach during the round trip cannot change
// what was sent. Engine failures surface as an assistant-authored error
// reply rather than an error; callers only see errors for rejected input.
func (c *Controller) Submit(ctx context.Context, message string) (*model.ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if !c.hasCredential {
		return nil, ErrNoCredential
	}

	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		metrics.SubmitsTotal.WithLabelValues("rejected_busy").Inc()
		return nil, ErrBusy
	}
	c.phase = PhaseSubmitting
	c.submitVersion++
	submitVersion := c.submitVersion
	generation := c.generation
	conversationID := c.activeID
	attachedIDs := c.attachments.Snapshot()

	userMsg := model.Message{
		Role:      model.RoleUser,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}
	c.messages = append(c.messages, userMsg)
	c.mu.Unlock()

	result, err := c.engine.Chat(ctx, model.ChatRequest{
		UserID:            c.userID,
		Message:           message,
		ConversationID:    conversationID,
		AttachedTicketIDs: attachedIDs,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	// Only this attempt's phase gets released. A stale attempt returning
	// after the session moved on must not free a newer submit's slot.
	if submitVersion == c.submitVersion && c.phase == PhaseSubmitting {
		c.phase = PhaseIdle
	}

	if generation != c.generation {
		// The session moved on while the completion ran. The reply belongs
		// to a context that no longer exists; drop it without surfacing.
		metrics.SubmitsTotal.WithLabelValues("discarded").Inc()
		metrics.RecordStaleAttempt("submit")
		return nil, nil
	}

	if err != nil {
		c.log.Error("submit failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		metrics.SubmitsTotal.WithLabelValues("error").Inc()
		reply := model.Message{
			Role:      model.RoleAssistant,
			Content:   assistantErrorReply,
			CreatedAt: time.Now().UTC(),
		}
		c.messages = append(c.messages, reply)
		return &model.ChatResult{
			Response:       reply.Content,
			ConversationID: conversationID,
		}, nil
	}

	reply := model.Message{
		Role:              model.RoleAssistant,
		Content:           result.Response,
		CreatedAt:         time.Now().UTC(),
		Sources:           result.Sources,
		CreatedTickets:    result.CreatedTickets,
		ReferencedTickets: result.ReferencedTickets,
	}
	c.messages = append(c.messages, reply)

	if conversationID == "" {
		c.activeID = result.ConversationID
		c.insertHeaderLocked(model.Conversation{
			ID:                result.ConversationID,
			UserID:            c.userID,
			Title:             model.ProvisionalTitle(message),
			CreatedAt:         time.Now().UTC(),
			UpdatedAt:         time.Now().UTC(),
			AttachedTicketIDs: attachedIDs,
		})
		go c.generateTitle(result.ConversationID)
	} else {
		c.touchHeaderLocked(result.ConversationID)
	}

	metrics.SubmitsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// generateTitle asks the engine for a real title after the first exchange
// and applies it to the sidebar. Runs detached from the submit request.
func (c *Controller) generateTitle(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title, generated, err := c.engine.GenerateTitle(ctx, c.userID, conversationID)
	if err != nil {
		c.log.Warn("title generation failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	if !generated {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].Title = title
			break
		}
	}
}

// SelectConversation switches the session to another conversation. It is
// refused while a submit is in flight; submissions stay serialized against
// context changes. Switches are last-wins: each call takes a fresh version,
// and a load that finishes after a newer switch started applies nothing. On
// load failure the session stays where it was.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.activeID == id && id != "" {
		c.mu.Unlock()
		return nil
	}
	if c.phase == PhaseSubmitting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.switchVersion++
	version := c.switchVersion
	c.phase = PhaseSwitching
	c.mu.Unlock()

	conv, err := c.store.Get(ctx, c.userID, id)

	c.mu.Lock()
	if version != c.switchVersion {
		c.mu.Unlock()
		metrics.RecordStaleAttempt("conversation_switch")
		return nil
	}
	c.phase = PhaseIdle

	if err != nil {
		c.mu.Unlock()
		c.log.Warn("conversation switch failed",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return err
	}

	c.generation++
	c.activeID = conv.ID
	c.messages = conv.Messages
	attachedIDs := conv.AttachedTicketIDs
	c.mu.Unlock()

	c.mentions.Close()

	// Resolve outside the lock, commit only if this switch is still the
	// latest. A superseded switch with slow ticket lookups must not
	// overwrite the set hydrated by the winner.
	refs, _, err := c.attachments.Resolve(ctx, attachedIDs)
	if err != nil {
		c.log.Warn("attachment hydration failed",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return nil
	}
	c.mu.Lock()
	current := version == c.switchVersion
	if current {
		c.attachments.Replace(refs)
	}
	c.mu.Unlock()
	if !current {
		metrics.RecordStaleAttempt("attachment_hydration")
	}
	return nil
}

// NewChat resets the session to a fresh draft. Any in-flight completion for
// the prior context discards on return.
func (c *Controller) NewChat() {
	c.mu.Lock()
	c.generation++
	c.switchVersion++
	c.activeID = ""
	c.messages = nil
	c.phase = PhaseIdle
	c.mu.Unlock()

	c.attachments.Clear()
	c.mentions.Close()
}

// DeleteConversation removes a conversation. Deleting the active one resets
// the session to a fresh draft.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, c.userID, id); err != nil {
		return err
	}

	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			c.conversations = append(c.conversations[:i], c.conversations[i+1:]...)
			break
		}
	}
	wasActive := c.activeID == id
	c.mu.Unlock()

	if wasActive {
		c.NewChat()
	}
	return nil
}

// insertHeaderLocked puts a new header at the top. Caller holds mu.
func (c *Controller) insertHeaderLocked(conv model.Conversation) {
	c.conversations = append([]model.Conversation{conv}, c.conversations...)
}

// touchHeaderLocked bumps a header's UpdatedAt and moves it to the top.
// Caller holds mu.
func (c *Controller) touchHeaderLocked(id string) {
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			conv := c.conversations[i]
			conv.UpdatedAt = time.Now().UTC()
			c.conversations = append(c.conversations[:i], c.conversations[i+1:]...)
			c.conversations = append([]model.Conversation{conv}, c.conversations...)
			return
		}
	}
}
