// Package mention resolves ticket-attachment autocomplete: debounced
// lookups against the ticket index with keyboard-navigable selection.
package mention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/ticket"
	"github.com/supportiq/assist/pkg/logger"
	"github.com/supportiq/assist/pkg/metrics"
)

// Searcher is the slice of the ticket index the resolver needs.
type Searcher interface {
	Search(ctx context.Context, userID, query string, status model.Status, limit int) (ticket.SearchResult, error)
	Recent(ctx context.Context, userID string, status model.Status, limit int) (ticket.SearchResult, error)
}

// State is the popover lifecycle state.
type State int

const (
	StateClosed State = iota
	StateLoading
	StateReady
	StateEmpty
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// DefaultDebounce is the delay between the last query edit and the lookup.
const DefaultDebounce = 150 * time.Millisecond

// Resolver drives one mention popover. Every load attempt carries a version;
// completions whose version no longer matches are discarded, so a slow
// response can never overwrite results for a newer query or reopen a closed
// popover. Safe for concurrent use.
type Resolver struct {
	searcher Searcher
	userID   string
	status   model.Status
	limit    int
	debounce time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	state    State
	query    string
	exclude  map[string]struct{}
	results  []model.TicketRef
	selected int
	version  uint64
	inFlight bool
	timer    *time.Timer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(r *Resolver) { r.debounce = d }
}

// WithLimit overrides the result page size.
func WithLimit(n int) Option {
	return func(r *Resolver) { r.limit = n }
}

// WithStatusFilter narrows lookups to one ticket status.
func WithStatusFilter(s model.Status) Option {
	return func(r *Resolver) { r.status = s }
}

// NewResolver creates a resolver for one user's popover.
func NewResolver(searcher Searcher, userID string, log *logger.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		searcher: searcher,
		userID:   userID,
		status:   ticket.StatusAll,
		limit:    8,
		debounce: DefaultDebounce,
		log:      log,
		state:    StateClosed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open opens the popover, excluding already-attached ids from results, and
// schedules the initial (recent-tickets) load.
func (r *Resolver) Open(excludeIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exclude = make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		r.exclude[id] = struct{}{}
	}
	r.query = ""
	r.results = nil
	r.selected = 0
	r.state = StateLoading
	r.scheduleLocked()
}

// SetQuery records a query edit and restarts the debounce timer. Edits
// faster than the window collapse into a single lookup for the final value.
func (r *Resolver) SetQuery(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		return
	}
	r.query = query
	r.state = StateLoading
	r.scheduleLocked()
}

// Close closes the popover: pending timers are cancelled and any still
// in-flight load is invalidated by the version bump.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = StateClosed
	r.results = nil
	r.selected = 0
	r.query = ""
}

// State returns the current popover state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Results returns a copy of the current candidate list.
func (r *Resolver) Results() []model.TicketRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TicketRef(nil), r.results...)
}

// SelectedIndex returns the highlighted position.
func (r *Resolver) SelectedIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// MoveDown advances the selection, clamped to the last result.
func (r *Resolver) MoveDown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected < len(r.results)-1 {
		r.selected++
	}
}

// MoveUp retreats the selection, clamped to the first result.
func (r *Resolver) MoveUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected > 0 {
		r.selected--
	}
}

// SelectCurrent returns the highlighted ticket, if any. Intended to be
// bound to the host's Enter handling.
func (r *Resolver) SelectCurrent() (model.TicketRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selected < 0 || r.selected >= len(r.results) {
		return model.TicketRef{}, false
	}
	return r.results[r.selected], true
}

// scheduleLocked (caller holds mu) arms the debounce timer for the current
// query under a fresh version.
func (r *Resolver) scheduleLocked() {
	r.version++
	version := r.version
	query := r.query

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.load(version, query)
	})
}

// load performs one lookup attempt. The reentrancy guard keeps a single
// request in flight; an attempt arriving while one is running re-arms its
// timer rather than racing it.
func (r *Resolver) load(version uint64, query string) {
	r.mu.Lock()
	if version != r.version {
		r.mu.Unlock()
		metrics.RecordStaleAttempt("mention_search")
		return
	}
	if r.inFlight {
		// Retry once the running load settles; the version stays current so
		// the running load's results will be discarded if they lose the race.
		r.timer = time.AfterFunc(r.debounce, func() {
			r.load(version, query)
		})
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result ticket.SearchResult
	var err error
	if query == "" {
		metrics.MentionSearchesTotal.WithLabelValues("recent").Inc()
		result, err = r.searcher.Recent(ctx, r.userID, r.status, r.limit)
	} else {
		metrics.MentionSearchesTotal.WithLabelValues("search").Inc()
		result, err = r.searcher.Search(ctx, r.userID, query, r.status, r.limit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Release the guard on every exit path.
	r.inFlight = false

	if version != r.version {
		metrics.RecordStaleAttempt("mention_search")
		return
	}

	if err != nil {
		r.log.Warn("mention lookup failed",
			zap.String("query", query),
			zap.Error(err),
		)
		// Prior results stay visible; the popover is no longer loading.
		if len(r.results) == 0 {
			r.state = StateEmpty
		} else {
			r.state = StateReady
		}
		return
	}

	filtered := make([]model.TicketRef, 0, len(result.Tickets))
	for _, t := range result.Tickets {
		if _, attached := r.exclude[t.ID]; attached {
			continue
		}
		filtered = append(filtered, t)
	}

	r.results = filtered
	if r.selected >= len(filtered) {
		r.selected = 0
	}
	if len(filtered) == 0 {
		r.state = StateEmpty
	} else {
		r.state = StateReady
	}
}
