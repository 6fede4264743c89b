// Package attachment maintains the set of tickets explicitly attached to
// the active conversation.
package attachment

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/ticket"
	"github.com/supportiq/assist/pkg/logger"
	"github.com/supportiq/assist/pkg/metrics"
)

// Getter resolves a ticket id to its full document.
type Getter interface {
	Get(ctx context.Context, id string) (*ticket.Ticket, error)
}

// DefaultHydrateLimit bounds how many tickets are resolved when switching
// into a conversation. A deliberate latency bound: ids beyond the limit stay
// in the persisted set, they are just not shown until re-attached.
const DefaultHydrateLimit = 5

// Manager holds the attached-ticket set: deduplicated by id, insertion
// order preserved. Safe for concurrent use.
type Manager struct {
	mu           sync.Mutex
	tickets      []model.TicketRef
	getter       Getter
	hydrateLimit int
	log          *logger.Logger
}

// NewManager creates a manager. hydrateLimit <= 0 selects the default.
func NewManager(getter Getter, hydrateLimit int, log *logger.Logger) *Manager {
	if hydrateLimit <= 0 {
		hydrateLimit = DefaultHydrateLimit
	}
	return &Manager{
		getter:       getter,
		hydrateLimit: hydrateLimit,
		log:          log,
	}
}

// Attach adds a ticket to the end of the set. No-op if already present.
func (m *Manager) Attach(ref model.TicketRef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tickets {
		if existing.ID == ref.ID {
			return
		}
	}
	m.tickets = append(m.tickets, ref)
	metrics.AttachedTickets.Set(float64(len(m.tickets)))
}

// Detach removes a ticket by id. No-op if absent.
func (m *Manager) Detach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.tickets {
		if existing.ID == id {
			m.tickets = append(m.tickets[:i], m.tickets[i+1:]...)
			metrics.AttachedTickets.Set(float64(len(m.tickets)))
			return
		}
	}
}

// Clear empties the set.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = nil
	metrics.AttachedTickets.Set(0)
}

// List returns a copy of the attached tickets in insertion order.
func (m *Manager) List() []model.TicketRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TicketRef(nil), m.tickets...)
}

// Snapshot returns a copy of the attached ids. Submissions use this so a
// concurrent attach or detach cannot change what was actually sent.
func (m *Manager) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(m.tickets))
	for i, t := range m.tickets {
		ids[i] = t.ID
	}
	return ids
}

// Contains reports whether a ticket id is in the set.
func (m *Manager) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tickets {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Hydrate replaces the set from persisted ids, resolving each through the
// ticket index. At most the configured limit is resolved; truncated reports
// whether ids were left out. Individual lookup failures are logged and the
// remaining ids still resolve.
func (m *Manager) Hydrate(ctx context.Context, ids []string) (truncated bool, err error) {
	refs, truncated, err := m.Resolve(ctx, ids)
	if err != nil {
		return truncated, err
	}
	m.Replace(refs)
	return truncated, nil
}

// Resolve looks up at most the configured limit of ids without touching the
// set. Racing callers resolve first and commit with Replace only if their
// switch is still current.
func (m *Manager) Resolve(ctx context.Context, ids []string) ([]model.TicketRef, bool, error) {
	truncated := false
	toResolve := ids
	if len(toResolve) > m.hydrateLimit {
		toResolve = toResolve[:m.hydrateLimit]
		truncated = true
	}

	resolved := make([]model.TicketRef, 0, len(toResolve))
	seen := make(map[string]struct{}, len(toResolve))
	for _, id := range toResolve {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		t, err := m.getter.Get(ctx, id)
		if err != nil {
			m.log.Warn("failed to hydrate attached ticket",
				zap.String("ticket_id", id),
				zap.Error(err),
			)
			continue
		}
		resolved = append(resolved, t.Ref())
	}
	return resolved, truncated, nil
}

// Replace swaps the whole set for refs.
func (m *Manager) Replace(refs []model.TicketRef) {
	m.mu.Lock()
	m.tickets = refs
	metrics.AttachedTickets.Set(float64(len(m.tickets)))
	m.mu.Unlock()
}
