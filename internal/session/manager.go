package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/attachment"
	"github.com/supportiq/assist/internal/mention"
	"github.com/supportiq/assist/pkg/logger"
)

// Manager hands out one Controller per user and keeps it alive across
// requests, so submission serialization and discard-by-version hold across
// a user's whole session rather than a single HTTP call.
type Manager struct {
	engine          Engine
	store           ConversationStore
	searcher        mention.Searcher
	getter          attachment.Getter
	hydrateLimit    int
	mentionLimit    int
	mentionDebounce time.Duration
	hasCredential   bool
	log             *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewManager creates the session registry.
func NewManager(
	engine Engine,
	store ConversationStore,
	searcher mention.Searcher,
	getter attachment.Getter,
	hydrateLimit int,
	mentionLimit int,
	mentionDebounce time.Duration,
	hasCredential bool,
	log *logger.Logger,
) *Manager {
	if mentionDebounce <= 0 {
		mentionDebounce = mention.DefaultDebounce
	}
	return &Manager{
		engine:          engine,
		store:           store,
		searcher:        searcher,
		getter:          getter,
		hydrateLimit:    hydrateLimit,
		mentionLimit:    mentionLimit,
		mentionDebounce: mentionDebounce,
		hasCredential:   hasCredential,
		log:             log,
		sessions:        make(map[string]*Controller),
	}
}

// GetOrCreate returns the user's controller, creating and activating it on
// first use. Activation failure is non-fatal; the sidebar loads lazily on
// the next list call.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) *Controller {
	m.mu.Lock()
	if c, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return c
	}

	attachments := attachment.NewManager(m.getter, m.hydrateLimit, m.log)
	mentions := mention.NewResolver(m.searcher, userID, m.log,
		mention.WithLimit(m.mentionLimit),
		mention.WithDebounce(m.mentionDebounce),
	)
	c := NewController(m.engine, m.store, attachments, mentions, userID, m.hasCredential, m.log)
	m.sessions[userID] = c
	m.mu.Unlock()

	if err := c.Activate(ctx); err != nil {
		m.log.Warn("session activation failed; sidebar will load lazily", zap.Error(err))
	}
	return c
}

// Remove drops a user's controller, releasing its mention timers.
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	c, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		c.Mentions().Close()
	}
}
