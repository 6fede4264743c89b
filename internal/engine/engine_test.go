package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportiq/assist/internal/llm"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/store"
	"github.com/supportiq/assist/internal/ticket"
	"github.com/supportiq/assist/pkg/logger"
)

type memStore struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	nextID        int
}

func newMemStore() *memStore {
	return &memStore{conversations: make(map[string]*model.Conversation)}
}

func (s *memStore) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, userID, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, store.ErrNotFound
	}
	copied := *c
	copied.Messages = append([]model.Message(nil), c.Messages...)
	return &copied, nil
}

func (s *memStore) Create(ctx context.Context, userID, title string, attachedTicketIDs []string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &model.Conversation{
		ID:                fmt.Sprintf("conv-%d", s.nextID),
		UserID:            userID,
		Title:             title,
		AttachedTicketIDs: attachedTicketIDs,
	}
	s.conversations[c.ID] = c
	copied := *c
	return &copied, nil
}

func (s *memStore) AppendMessages(ctx context.Context, userID, id string, messages []model.Message, attachedTicketIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return store.ErrNotFound
	}
	c.Messages = append(c.Messages, messages...)
	if attachedTicketIDs != nil {
		c.AttachedTicketIDs = attachedTicketIDs
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

func (s *memStore) ReplaceAttachedTickets(ctx context.Context, userID, id string, ticketIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.AttachedTicketIDs = ticketIDs
	return ticketIDs, nil
}

func (s *memStore) SetTitle(ctx context.Context, userID, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Title = title
	return nil
}

type memIndex struct {
	mu         sync.Mutex
	tickets    map[string]*ticket.Ticket
	nextNumber int
}

func newMemIndex() *memIndex {
	return &memIndex{tickets: make(map[string]*ticket.Ticket)}
}

func (x *memIndex) Search(ctx context.Context, userID, query string, status model.Status, limit int) (ticket.SearchResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var refs []model.TicketRef
	for _, t := range x.tickets {
		if t.UserID == userID && strings.Contains(strings.ToLower(t.Title), strings.ToLower(query)) {
			refs = append(refs, t.Ref())
		}
	}
	return ticket.SearchResult{Tickets: refs, Count: len(refs)}, nil
}

func (x *memIndex) Recent(ctx context.Context, userID string, status model.Status, limit int) (ticket.SearchResult, error) {
	return x.Search(ctx, userID, "", status, limit)
}

func (x *memIndex) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	t, ok := x.tickets[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	return t, nil
}

func (x *memIndex) GetByNumber(ctx context.Context, userID string, number int) (*ticket.Ticket, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, t := range x.tickets {
		if t.UserID == userID && t.TicketNumber == number {
			return t, nil
		}
	}
	return nil, ticket.ErrNotFound
}

func (x *memIndex) Create(ctx context.Context, params ticket.CreateParams) (*ticket.Ticket, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.nextNumber++
	t := &ticket.Ticket{
		ID:           fmt.Sprintf("ticket-%d", x.nextNumber),
		TicketNumber: x.nextNumber,
		UserID:       params.UserID,
		Title:        params.Title,
		Description:  params.Description,
		Status:       model.StatusOpen,
		Priority:     params.Priority,
	}
	x.tickets[t.ID] = t
	return t, nil
}

func (x *memIndex) Update(ctx context.Context, id string, params ticket.UpdateParams) (*ticket.Ticket, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	t, ok := x.tickets[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	if params.Status != nil {
		t.Status = *params.Status
	}
	return t, nil
}

// plainLLM supports only plain completions.
type plainLLM struct {
	response string
	err      error
	requests []*llm.CompletionRequest
}

func (p *plainLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Content: p.response, Model: "test-model"}, nil
}

func (p *plainLLM) Name() string     { return "plain" }
func (p *plainLLM) Models() []string { return []string{"test-model"} }

// toolLLM supports tool calling; the follow-up summarization goes through
// Complete.
type toolLLM struct {
	plainLLM
	toolCalls    []llm.ToolCall
	toolResponse string
}

func (p *toolLLM) CompleteWithTools(ctx context.Context, req *llm.CompletionRequest, tools []llm.ToolDefinition) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{
		Content:   p.toolResponse,
		Model:     "test-model",
		ToolCalls: p.toolCalls,
	}, nil
}

func newTestService(client llm.Client, st store.Store, idx ticket.Index) *Service {
	return NewService(client, st, idx, nil, nil, 10, logger.NewNop())
}

func TestChatEmptyMessage(t *testing.T) {
	svc := newTestService(&plainLLM{}, newMemStore(), newMemIndex())

	_, err := svc.Chat(context.Background(), model.ChatRequest{UserID: "u1", Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChatCreatesConversationWithProvisionalTitle(t *testing.T) {
	st := newMemStore()
	svc := newTestService(&plainLLM{response: "Happy to help."}, st, newMemIndex())

	result, err := svc.Chat(context.Background(), model.ChatRequest{
		UserID:  "u1",
		Message: "My printer refuses to print anything at all today",
	})
	require.NoError(t, err)
	assert.Equal(t, "Happy to help.", result.Response)
	require.NotEmpty(t, result.ConversationID)

	conv, err := st.Get(context.Background(), "u1", result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "My printer refuses to print anything at all today", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
}

func TestChatContinuesExistingConversation(t *testing.T) {
	st := newMemStore()
	client := &plainLLM{response: "Again, happy to help."}
	svc := newTestService(client, st, newMemIndex())

	first, err := svc.Chat(context.Background(), model.ChatRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)

	second, err := svc.Chat(context.Background(), model.ChatRequest{
		UserID:         "u1",
		Message:        "one more thing",
		ConversationID: first.ConversationID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	conv, err := st.Get(context.Background(), "u1", first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)

	// The second completion saw the first exchange as history.
	last := client.requests[len(client.requests)-1]
	require.Len(t, last.Messages, 3)
	assert.Equal(t, "hello", last.Messages[0].Content)
}

func TestChatUnknownConversation(t *testing.T) {
	svc := newTestService(&plainLLM{}, newMemStore(), newMemIndex())

	_, err := svc.Chat(context.Background(), model.ChatRequest{
		UserID:         "u1",
		Message:        "hello",
		ConversationID: "missing",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChatMergesRequestAttachments(t *testing.T) {
	st := newMemStore()
	idx := newMemIndex()
	t1, err := idx.Create(context.Background(), ticket.CreateParams{UserID: "u1", Title: "VPN down"})
	require.NoError(t, err)
	t2, err := idx.Create(context.Background(), ticket.CreateParams{UserID: "u1", Title: "Printer jam"})
	require.NoError(t, err)

	svc := newTestService(&plainLLM{response: "ok"}, st, idx)

	first, err := svc.Chat(context.Background(), model.ChatRequest{
		UserID:            "u1",
		Message:           "hello",
		AttachedTicketIDs: []string{t1.ID},
	})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), model.ChatRequest{
		UserID:            "u1",
		Message:           "also this",
		ConversationID:    first.ConversationID,
		AttachedTicketIDs: []string{t2.ID, t1.ID},
	})
	require.NoError(t, err)

	conv, err := st.Get(context.Background(), "u1", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []string{t1.ID, t2.ID}, conv.AttachedTicketIDs)
}

func TestChatWithoutModel(t *testing.T) {
	svc := newTestService(nil, newMemStore(), newMemIndex())

	_, err := svc.Chat(context.Background(), model.ChatRequest{UserID: "u1", Message: "hello"})
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestChatCompletionFailure(t *testing.T) {
	st := newMemStore()
	svc := newTestService(&plainLLM{err: errors.New("rate limited")}, st, newMemIndex())

	_, err := svc.Chat(context.Background(), model.ChatRequest{UserID: "u1", Message: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completion failed")
}

func TestChatToolCallCreatesTicket(t *testing.T) {
	st := newMemStore()
	idx := newMemIndex()
	client := &toolLLM{
		toolResponse: "Let me create that for you.",
		toolCalls: []llm.ToolCall{{
			Name: "create_ticket",
			Arguments: map[string]any{
				"title":       "VPN keeps dropping",
				"description": "Disconnects every few minutes",
				"priority":    "high",
			},
		}},
	}
	client.response = "I've created ticket #1 for your VPN issue."
	svc := newTestService(client, st, idx)

	result, err := svc.Chat(context.Background(), model.ChatRequest{UserID: "u1", Message: "my vpn keeps dropping"})
	require.NoError(t, err)

	assert.Equal(t, "I've created ticket #1 for your VPN issue.", result.Response)
	require.Len(t, result.CreatedTickets, 1)
	assert.Equal(t, 1, result.CreatedTickets[0].TicketNumber)
	assert.Equal(t, "VPN keeps dropping", result.CreatedTickets[0].Title)

	created, err := idx.Get(context.Background(), result.CreatedTickets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, created.Status)
	assert.Equal(t, model.PriorityHigh, created.Priority)

	// Creation is denormalized onto the message, not attached.
	conv, err := st.Get(context.Background(), "u1", result.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, conv.AttachedTicketIDs)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, result.CreatedTickets, conv.Messages[1].CreatedTickets)
}

func TestChatToolCallReferencesTicket(t *testing.T) {
	st := newMemStore()
	idx := newMemIndex()
	existing, err := idx.Create(context.Background(), ticket.CreateParams{UserID: "u1", Title: "Printer jam"})
	require.NoError(t, err)

	client := &toolLLM{
		toolCalls: []llm.ToolCall{{
			Name:      "get_ticket",
			Arguments: map[string]any{"ticket_number": float64(existing.TicketNumber)},
		}},
	}
	client.response = "Ticket #1 is still open."
	svc := newTestService(client, st, idx)

	result, err := svc.Chat(context.Background(), model.ChatRequest{UserID: "u1", Message: "what's the status of ticket 1?"})
	require.NoError(t, err)

	require.Len(t, result.ReferencedTickets, 1)
	assert.Equal(t, existing.ID, result.ReferencedTickets[0].ID)
	assert.Empty(t, result.CreatedTickets)
}

func TestGenerateTitle(t *testing.T) {
	st := newMemStore()
	conv, err := st.Create(context.Background(), "u1", "provisional", nil)
	require.NoError(t, err)
	require.NoError(t, st.AppendMessages(context.Background(), "u1", conv.ID, []model.Message{
		{Role: model.RoleUser, Content: "my vpn keeps dropping"},
		{Role: model.RoleAssistant, Content: "let's look into it"},
	}, nil))

	svc := newTestService(&plainLLM{response: `"VPN Connection Issues"`}, st, newMemIndex())

	title, generated, err := svc.GenerateTitle(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Equal(t, "VPN Connection Issues", title)

	stored, err := st.Get(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "VPN Connection Issues", stored.Title)
}

func TestGenerateTitleEmptyConversation(t *testing.T) {
	st := newMemStore()
	conv, err := st.Create(context.Background(), "u1", "provisional", nil)
	require.NoError(t, err)

	svc := newTestService(&plainLLM{}, st, newMemIndex())

	title, generated, err := svc.GenerateTitle(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, "New Chat", title)
}

func TestGenerateTitleFallbackOnModelFailure(t *testing.T) {
	st := newMemStore()
	conv, err := st.Create(context.Background(), "u1", "provisional", nil)
	require.NoError(t, err)
	require.NoError(t, st.AppendMessages(context.Background(), "u1", conv.ID, []model.Message{
		{Role: model.RoleUser, Content: "my vpn keeps dropping"},
	}, nil))

	svc := newTestService(&plainLLM{err: errors.New("unavailable")}, st, newMemIndex())

	title, generated, err := svc.GenerateTitle(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, "my vpn keeps dropping", title)

	// A fallback title is never persisted.
	stored, err := st.Get(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "provisional", stored.Title)
}

func TestGenerateTitleWithoutModel(t *testing.T) {
	st := newMemStore()
	conv, err := st.Create(context.Background(), "u1", "provisional", nil)
	require.NoError(t, err)
	require.NoError(t, st.AppendMessages(context.Background(), "u1", conv.ID, []model.Message{
		{Role: model.RoleUser, Content: "my vpn keeps dropping"},
	}, nil))

	svc := newTestService(nil, st, newMemIndex())

	title, generated, err := svc.GenerateTitle(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, "my vpn keeps dropping", title)

	stored, err := st.Get(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "provisional", stored.Title)
}

func TestGenerateTitleClampsLength(t *testing.T) {
	st := newMemStore()
	conv, err := st.Create(context.Background(), "u1", "provisional", nil)
	require.NoError(t, err)
	require.NoError(t, st.AppendMessages(context.Background(), "u1", conv.ID, []model.Message{
		{Role: model.RoleUser, Content: "hello"},
	}, nil))

	long := strings.Repeat("word ", 30)
	svc := newTestService(&plainLLM{response: long}, st, newMemIndex())

	title, generated, err := svc.GenerateTitle(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.LessOrEqual(t, len(title), titleMaxLen)
	assert.True(t, strings.HasSuffix(title, "..."))
}

func TestGenerateTitleClampsMultibyteOnRunes(t *testing.T) {
	st := newMemStore()
	conv, err := st.Create(context.Background(), "u1", "provisional", nil)
	require.NoError(t, err)
	require.NoError(t, st.AppendMessages(context.Background(), "u1", conv.ID, []model.Message{
		{Role: model.RoleUser, Content: strings.Repeat("日本語", 100)},
	}, nil))

	client := &plainLLM{response: strings.Repeat("サポート", 30)}
	svc := newTestService(client, st, newMemIndex())

	title, generated, err := svc.GenerateTitle(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Len(t, []rune(title), titleMaxLen)
	assert.True(t, utf8.ValidString(title))
	assert.True(t, strings.HasSuffix(title, "..."))

	// The prompt context is trimmed on rune boundaries too.
	require.Len(t, client.requests, 1)
	assert.True(t, utf8.ValidString(client.requests[0].Messages[0].Content))
}

func TestMergeIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, mergeIDs([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, []string{"a"}, mergeIDs([]string{"a"}, nil))
	assert.Equal(t, []string{"a"}, mergeIDs(nil, []string{"a", "a"}))
	assert.Empty(t, mergeIDs(nil, nil))
}
