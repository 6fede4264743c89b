package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportiq/assist/internal/attachment"
	"github.com/supportiq/assist/internal/mention"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/store"
	"github.com/supportiq/assist/internal/ticket"
	"github.com/supportiq/assist/pkg/logger"
)

type fakeEngine struct {
	mu        sync.Mutex
	chatCalls []model.ChatRequest
	result    *model.ChatResult
	err       error
	delay     time.Duration
	delays    map[string]time.Duration
	started   chan struct{}

	title          string
	titleGenerated bool
}

func (f *fakeEngine) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResult, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, req)
	result, err, delay := f.result, f.err, f.delay
	if d, ok := f.delays[req.Message]; ok {
		delay = d
	}
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return result, err
}

func (f *fakeEngine) GenerateTitle(ctx context.Context, userID, conversationID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, f.titleGenerated, nil
}

func (f *fakeEngine) calls() []model.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ChatRequest(nil), f.chatCalls...)
}

type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	getDelay      map[string]time.Duration
	getErr        error
	deleted       []string
}

func newFakeStore(convs ...*model.Conversation) *fakeStore {
	s := &fakeStore{
		conversations: make(map[string]*model.Conversation),
		getDelay:      make(map[string]time.Duration),
	}
	for _, c := range convs {
		s.conversations[c.ID] = c
	}
	return s
}

func (s *fakeStore) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Conversation
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, userID, id string) (*model.Conversation, error) {
	s.mu.Lock()
	c, ok := s.conversations[id]
	delay := s.getDelay[id]
	err := s.getErr
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *fakeStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type nopGetter struct{}

func (nopGetter) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	return &ticket.Ticket{ID: id, Title: "Ticket " + id, Status: model.StatusOpen}, nil
}

type delayGetter struct {
	delays map[string]time.Duration
}

func (g delayGetter) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	if d := g.delays[id]; d > 0 {
		time.Sleep(d)
	}
	return &ticket.Ticket{ID: id, Title: "Ticket " + id, Status: model.StatusOpen}, nil
}

type nopSearcher struct{}

func (nopSearcher) Search(ctx context.Context, userID, query string, status model.Status, limit int) (ticket.SearchResult, error) {
	return ticket.SearchResult{}, nil
}

func (nopSearcher) Recent(ctx context.Context, userID string, status model.Status, limit int) (ticket.SearchResult, error) {
	return ticket.SearchResult{}, nil
}

func newTestController(eng Engine, st ConversationStore) *Controller {
	log := logger.NewNop()
	attachments := attachment.NewManager(nopGetter{}, 0, log)
	mentions := mention.NewResolver(nopSearcher{}, "user-1", log)
	return NewController(eng, st, attachments, mentions, "user-1", true, log)
}

func TestSubmitEmptyMessage(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(eng, newFakeStore())

	_, err := c.Submit(context.Background(), "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, eng.calls())
	assert.Empty(t, c.Messages())
}

func TestSubmitWithoutCredential(t *testing.T) {
	eng := &fakeEngine{}
	log := logger.NewNop()
	c := NewController(eng, newFakeStore(),
		attachment.NewManager(nopGetter{}, 0, log),
		mention.NewResolver(nopSearcher{}, "user-1", log),
		"user-1", false, log)

	_, err := c.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Empty(t, eng.calls())
}

func TestSubmitFromDraftCreatesSidebarEntry(t *testing.T) {
	eng := &fakeEngine{
		result:         &model.ChatResult{Response: "Hi there!", ConversationID: "conv-1"},
		title:          "Login troubleshooting",
		titleGenerated: true,
	}
	c := newTestController(eng, newFakeStore())

	result, err := c.Submit(context.Background(), "My login is broken")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "Hi there!", result.Response)

	assert.Equal(t, "conv-1", c.ActiveConversationID())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "My login is broken", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)

	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "conv-1", convs[0].ID)

	// The generated title replaces the provisional one without adding a
	// second entry.
	require.Eventually(t, func() bool {
		convs := c.Conversations()
		return len(convs) == 1 && convs[0].Title == "Login troubleshooting"
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitProvisionalTitleTruncates(t *testing.T) {
	long := "This is a very long first message that keeps going well past fifty characters total"
	eng := &fakeEngine{result: &model.ChatResult{Response: "ok", ConversationID: "conv-1"}}
	c := newTestController(eng, newFakeStore())

	_, err := c.Submit(context.Background(), long)
	require.NoError(t, err)

	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, model.ProvisionalTitle(long), convs[0].Title)
	assert.Len(t, []rune(convs[0].Title), 53)
}

func TestSubmitEngineFailureYieldsAssistantErrorReply(t *testing.T) {
	eng := &fakeEngine{err: errors.New("llm unavailable")}
	c := newTestController(eng, newFakeStore())

	result, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.NotNil(t, result)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, assistantErrorReply, msgs[1].Content)

	// No conversation was created, so the sidebar stays empty.
	assert.Empty(t, c.Conversations())
	assert.Empty(t, c.ActiveConversationID())
}

func TestSubmitWhileBusy(t *testing.T) {
	eng := &fakeEngine{
		result:  &model.ChatResult{Response: "ok", ConversationID: "conv-1"},
		delay:   50 * time.Millisecond,
		started: make(chan struct{}, 1),
	}
	c := newTestController(eng, newFakeStore())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Submit(context.Background(), "first")
		assert.NoError(t, err)
	}()

	<-eng.started
	_, err := c.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	<-done

	assert.Len(t, eng.calls(), 1)
}

func TestSelectConversationWhileSubmitting(t *testing.T) {
	st := newFakeStore(&model.Conversation{ID: "conv-2", UserID: "user-1"})
	eng := &fakeEngine{
		result:  &model.ChatResult{Response: "reply", ConversationID: "conv-1"},
		delay:   50 * time.Millisecond,
		started: make(chan struct{}, 1),
	}
	c := newTestController(eng, st)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Submit(context.Background(), "first")
		assert.NoError(t, err)
	}()

	<-eng.started
	// A switch must not slip in and free the submit slot, even when the
	// target does not exist.
	assert.ErrorIs(t, c.SelectConversation(context.Background(), "conv-missing"), ErrBusy)
	assert.ErrorIs(t, c.SelectConversation(context.Background(), "conv-2"), ErrBusy)
	assert.Equal(t, PhaseSubmitting, c.Phase())

	_, err := c.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	<-done

	require.Len(t, eng.calls(), 1)
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestStaleSubmitDoesNotFreeNewerSubmit(t *testing.T) {
	eng := &fakeEngine{
		result:  &model.ChatResult{Response: "ok", ConversationID: "conv-1"},
		started: make(chan struct{}, 2),
		delays: map[string]time.Duration{
			"stale": 50 * time.Millisecond,
			"fresh": 150 * time.Millisecond,
		},
	}
	c := newTestController(eng, newFakeStore())

	staleDone := make(chan struct{})
	go func() {
		defer close(staleDone)
		res, err := c.Submit(context.Background(), "stale")
		assert.NoError(t, err)
		assert.Nil(t, res)
	}()
	<-eng.started
	c.NewChat()

	freshDone := make(chan struct{})
	go func() {
		defer close(freshDone)
		res, err := c.Submit(context.Background(), "fresh")
		assert.NoError(t, err)
		assert.NotNil(t, res)
	}()
	<-eng.started

	// The discarded attempt's return must not release the slot the newer
	// submit holds.
	<-staleDone
	assert.Equal(t, PhaseSubmitting, c.Phase())
	_, err := c.Submit(context.Background(), "third")
	assert.ErrorIs(t, err, ErrBusy)

	<-freshDone
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestSubmitSnapshotsAttachments(t *testing.T) {
	eng := &fakeEngine{
		result:  &model.ChatResult{Response: "ok", ConversationID: "conv-1"},
		delay:   30 * time.Millisecond,
		started: make(chan struct{}, 1),
	}
	c := newTestController(eng, newFakeStore())
	c.Attachments().Attach(model.TicketRef{ID: "t1"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Submit(context.Background(), "hello")
	}()

	<-eng.started
	// Detaching mid-flight must not change what was sent.
	c.Attachments().Detach("t1")
	<-done

	calls := eng.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"t1"}, calls[0].AttachedTicketIDs)
}

func TestSubmitDiscardedAfterNewChat(t *testing.T) {
	eng := &fakeEngine{
		result:  &model.ChatResult{Response: "late reply", ConversationID: "conv-1"},
		delay:   50 * time.Millisecond,
		started: make(chan struct{}, 1),
	}
	c := newTestController(eng, newFakeStore())

	type submitResult struct {
		result *model.ChatResult
		err    error
	}
	resultCh := make(chan submitResult, 1)
	go func() {
		res, err := c.Submit(context.Background(), "hello")
		resultCh <- submitResult{res, err}
	}()

	<-eng.started
	c.NewChat()

	got := <-resultCh
	assert.NoError(t, got.err)
	assert.Nil(t, got.result)

	// The late reply never lands anywhere.
	assert.Empty(t, c.Messages())
	assert.Empty(t, c.Conversations())
	assert.Empty(t, c.ActiveConversationID())
}

func TestSelectConversationLoadsTranscript(t *testing.T) {
	st := newFakeStore(&model.Conversation{
		ID:     "conv-1",
		UserID: "user-1",
		Title:  "Billing question",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
		},
		AttachedTicketIDs: []string{"t1"},
	})
	c := newTestController(&fakeEngine{}, st)

	require.NoError(t, c.SelectConversation(context.Background(), "conv-1"))

	assert.Equal(t, "conv-1", c.ActiveConversationID())
	assert.Len(t, c.Messages(), 2)
	assert.Equal(t, []string{"t1"}, c.Attachments().Snapshot())
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestSelectConversationLastWins(t *testing.T) {
	st := newFakeStore(
		&model.Conversation{ID: "conv-slow", UserID: "user-1", Messages: []model.Message{{Role: model.RoleUser, Content: "slow"}}},
		&model.Conversation{ID: "conv-fast", UserID: "user-1", Messages: []model.Message{{Role: model.RoleUser, Content: "fast"}}},
	)
	st.getDelay["conv-slow"] = 50 * time.Millisecond
	c := newTestController(&fakeEngine{}, st)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.SelectConversation(context.Background(), "conv-slow")
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.SelectConversation(context.Background(), "conv-fast"))
	<-done

	// The slower, earlier switch must not overwrite the newer one.
	assert.Equal(t, "conv-fast", c.ActiveConversationID())
	require.Len(t, c.Messages(), 1)
	assert.Equal(t, "fast", c.Messages()[0].Content)
}

func TestSelectConversationStaleHydrationDiscarded(t *testing.T) {
	st := newFakeStore(
		&model.Conversation{ID: "conv-a", UserID: "user-1", AttachedTicketIDs: []string{"slow-A"}},
		&model.Conversation{ID: "conv-b", UserID: "user-1", AttachedTicketIDs: []string{"fast-B"}},
	)
	log := logger.NewNop()
	getter := delayGetter{delays: map[string]time.Duration{"slow-A": 80 * time.Millisecond}}
	c := NewController(&fakeEngine{}, st,
		attachment.NewManager(getter, 0, log),
		mention.NewResolver(nopSearcher{}, "user-1", log),
		"user-1", true, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.SelectConversation(context.Background(), "conv-a")
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.SelectConversation(context.Background(), "conv-b"))
	<-done

	// The earlier switch's slow ticket lookups must not overwrite the set
	// the winning switch hydrated.
	assert.Equal(t, "conv-b", c.ActiveConversationID())
	assert.Equal(t, []string{"fast-B"}, c.Attachments().Snapshot())
}

func TestSelectConversationFailureKeepsPriorState(t *testing.T) {
	st := newFakeStore(&model.Conversation{
		ID:       "conv-1",
		UserID:   "user-1",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	c := newTestController(&fakeEngine{}, st)
	require.NoError(t, c.SelectConversation(context.Background(), "conv-1"))

	err := c.SelectConversation(context.Background(), "conv-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, "conv-1", c.ActiveConversationID())
	assert.Len(t, c.Messages(), 1)
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestNewChatResetsSession(t *testing.T) {
	st := newFakeStore(&model.Conversation{
		ID:                "conv-1",
		UserID:            "user-1",
		Messages:          []model.Message{{Role: model.RoleUser, Content: "hi"}},
		AttachedTicketIDs: []string{"t1"},
	})
	c := newTestController(&fakeEngine{}, st)
	require.NoError(t, c.SelectConversation(context.Background(), "conv-1"))

	c.NewChat()

	assert.Empty(t, c.ActiveConversationID())
	assert.Empty(t, c.Messages())
	assert.Empty(t, c.Attachments().Snapshot())
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestDeleteActiveConversationResetsSession(t *testing.T) {
	st := newFakeStore(&model.Conversation{
		ID:       "conv-1",
		UserID:   "user-1",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	c := newTestController(&fakeEngine{}, st)
	require.NoError(t, c.Activate(context.Background()))
	require.NoError(t, c.SelectConversation(context.Background(), "conv-1"))

	require.NoError(t, c.DeleteConversation(context.Background(), "conv-1"))

	assert.Empty(t, c.ActiveConversationID())
	assert.Empty(t, c.Messages())
	assert.Empty(t, c.Conversations())
}

func TestDeleteInactiveConversationKeepsSession(t *testing.T) {
	st := newFakeStore(
		&model.Conversation{ID: "conv-1", UserID: "user-1", Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}},
		&model.Conversation{ID: "conv-2", UserID: "user-1"},
	)
	c := newTestController(&fakeEngine{}, st)
	require.NoError(t, c.Activate(context.Background()))
	require.NoError(t, c.SelectConversation(context.Background(), "conv-1"))

	require.NoError(t, c.DeleteConversation(context.Background(), "conv-2"))

	assert.Equal(t, "conv-1", c.ActiveConversationID())
	assert.Len(t, c.Messages(), 1)
	assert.Len(t, c.Conversations(), 1)
}

func TestSubmitToExistingConversationTouchesHeader(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	st := newFakeStore(
		&model.Conversation{ID: "conv-1", UserID: "user-1", UpdatedAt: old},
		&model.Conversation{ID: "conv-2", UserID: "user-1", UpdatedAt: time.Now()},
	)
	eng := &fakeEngine{result: &model.ChatResult{Response: "ok", ConversationID: "conv-1"}}
	c := newTestController(eng, st)
	require.NoError(t, c.Activate(context.Background()))
	require.NoError(t, c.SelectConversation(context.Background(), "conv-1"))

	_, err := c.Submit(context.Background(), "follow up")
	require.NoError(t, err)

	convs := c.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "conv-1", convs[0].ID)
	assert.True(t, convs[0].UpdatedAt.After(old))
}
