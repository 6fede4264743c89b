// Package engine implements the assistant engine: it resolves the target
// conversation, grounds the model with knowledge sources and attached
// tickets, executes ticket tools, and persists both turns of the exchange.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/events"
	"github.com/supportiq/assist/internal/knowledge"
	"github.com/supportiq/assist/internal/llm"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/store"
	"github.com/supportiq/assist/internal/ticket"
	"github.com/supportiq/assist/pkg/logger"
	"github.com/supportiq/assist/pkg/metrics"
)

// ErrEmptyMessage is returned for a blank chat message.
var ErrEmptyMessage = errors.New("message cannot be empty")

// ErrNoModel is returned when no completion provider is configured.
var ErrNoModel = errors.New("no completion model configured")

// Service is the assistant engine implementation.
type Service struct {
	llm           llm.Client
	store         store.Store
	tickets       ticket.Index
	retriever     knowledge.Retriever
	publisher     *events.Publisher
	log           *logger.Logger
	historyWindow int
}

// NewService creates the engine. retriever and publisher may be nil; the
// engine then answers without knowledge sources and without eventing.
func NewService(
	llmClient llm.Client,
	convStore store.Store,
	tickets ticket.Index,
	retriever knowledge.Retriever,
	publisher *events.Publisher,
	historyWindow int,
	log *logger.Logger,
) *Service {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Service{
		llm:           llmClient,
		store:         convStore,
		tickets:       tickets,
		retriever:     retriever,
		publisher:     publisher,
		log:           log,
		historyWindow: historyWindow,
	}
}

// Chat handles one turn: conversation resolution, grounding, tool execution
// and transcript persistence.
func (s *Service) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if s.llm == nil {
		return nil, ErrNoModel
	}

	conv, isNew, attachedIDs, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	attachedTickets := s.loadAttachedTickets(ctx, attachedIDs)
	sources := s.retrieveSources(ctx, req.UserID, message)

	system := buildSystemPrompt(sources, attachedTickets)
	messages := s.historyMessages(conv)
	messages = append(messages, llm.ChatMessage{Role: string(model.RoleUser), Content: message})

	start := time.Now()
	response, created, referenced, err := s.complete(ctx, req.UserID, system, messages)
	if err != nil {
		metrics.RecordLLM(s.llm.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	now := time.Now().UTC()
	userMsg := model.Message{
		Role:      model.RoleUser,
		Content:   message,
		CreatedAt: now,
	}
	assistantMsg := model.Message{
		Role:              model.RoleAssistant,
		Content:           response,
		CreatedAt:         now,
		Sources:           sources,
		CreatedTickets:    created,
		ReferencedTickets: referenced,
	}

	if err := s.store.AppendMessages(ctx, req.UserID, conv.ID, []model.Message{userMsg, assistantMsg}, attachedIDs); err != nil {
		return nil, fmt.Errorf("failed to persist transcript: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	s.publishTurn(ctx, req.UserID, conv.ID, isNew, created)

	return &model.ChatResult{
		Response:          response,
		ConversationID:    conv.ID,
		Sources:           sources,
		CreatedTickets:    created,
		ReferencedTickets: referenced,
	}, nil
}

// resolveConversation loads the target conversation or creates a draft one,
// merging request attachments with whatever is already persisted.
func (s *Service) resolveConversation(ctx context.Context, req model.ChatRequest) (*model.Conversation, bool, []string, error) {
	if req.ConversationID != "" {
		conv, err := s.store.Get(ctx, req.UserID, req.ConversationID)
		if err != nil {
			return nil, false, nil, err
		}
		return conv, false, mergeIDs(conv.AttachedTicketIDs, req.AttachedTicketIDs), nil
	}

	title := model.ProvisionalTitle(strings.TrimSpace(req.Message))
	conv, err := s.store.Create(ctx, req.UserID, title, req.AttachedTicketIDs)
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, true, conv.AttachedTicketIDs, nil
}

func (s *Service) loadAttachedTickets(ctx context.Context, ids []string) []*ticket.Ticket {
	tickets := make([]*ticket.Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := s.tickets.Get(ctx, id)
		if err != nil {
			s.log.Warn("failed to load attached ticket",
				zap.String("ticket_id", id),
				zap.Error(err),
			)
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets
}

func (s *Service) retrieveSources(ctx context.Context, userID, query string) []model.Source {
	if s.retriever == nil {
		return nil
	}
	sources, err := s.retriever.Retrieve(ctx, userID, query, 5)
	if err != nil {
		s.log.Warn("knowledge retrieval failed", zap.Error(err))
		return nil
	}
	return sources
}

func (s *Service) historyMessages(conv *model.Conversation) []llm.ChatMessage {
	history := conv.Messages
	if len(history) > s.historyWindow {
		history = history[len(history)-s.historyWindow:]
	}
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return messages
}

// complete runs the model, executing ticket tools and a follow-up pass when
// the provider supports tool calling.
func (s *Service) complete(ctx context.Context, userID, system string, messages []llm.ChatMessage) (string, []model.TicketRef, []model.TicketRef, error) {
	tc, hasTools := s.llm.(llm.ToolCompleter)
	if !hasTools {
		resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
			System:   system,
			Messages: messages,
		})
		if err != nil {
			return "", nil, nil, err
		}
		metrics.RecordLLM(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
		return resp.Content, nil, nil, nil
	}

	resp, err := tc.CompleteWithTools(ctx, &llm.CompletionRequest{
		System:   system + ticketToolsInfo,
		Messages: messages,
	}, ticketTools())
	if err != nil {
		return "", nil, nil, err
	}
	metrics.RecordLLM(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)

	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil, nil, nil
	}

	outcomes := make([]toolOutcome, 0, len(resp.ToolCalls))
	var created, referenced []model.TicketRef
	for _, call := range resp.ToolCalls {
		outcome := s.executeTool(ctx, userID, call)
		outcomes = append(outcomes, outcome)
		if outcome.created != nil {
			created = append(created, *outcome.created)
		}
		if outcome.referenced != nil {
			referenced = append(referenced, *outcome.referenced)
		}
	}

	followUp, err := s.followUp(ctx, messages, resp.Content, outcomes)
	if err != nil {
		return "", nil, nil, err
	}
	return followUp, created, referenced, nil
}

// followUp asks the model to phrase the tool results as a reply.
func (s *Service) followUp(ctx context.Context, messages []llm.ChatMessage, priorContent string, outcomes []toolOutcome) (string, error) {
	results := formatToolResults(outcomes)

	followUpMessages := append(append([]llm.ChatMessage(nil), messages...),
		llm.ChatMessage{Role: string(model.RoleAssistant), Content: priorContent},
		llm.ChatMessage{
			Role:    string(model.RoleUser),
			Content: "Based on these tool results, please provide a natural response to the user:" + results,
		},
	)

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		System:    "You are a helpful assistant. Summarize the tool results in a friendly, conversational way. When mentioning tickets, use format 'ticket #[number]'.",
		Messages:  followUpMessages,
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	metrics.RecordLLM(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

func (s *Service) publishTurn(ctx context.Context, userID, conversationID string, isNew bool, created []model.TicketRef) {
	if isNew {
		s.publisher.Publish(ctx, events.Event{
			Type:           events.TypeConversationCreated,
			UserID:         userID,
			ConversationID: conversationID,
		})
	}
	s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeMessageAccepted,
		UserID:         userID,
		ConversationID: conversationID,
		Role:           model.RoleUser,
	})
	for _, ref := range created {
		s.publisher.Publish(ctx, events.Event{
			Type:           events.TypeTicketCreated,
			UserID:         userID,
			ConversationID: conversationID,
			TicketID:       ref.ID,
		})
	}
}

// mergeIDs unions b into a, preserving a's order.
func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range b {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	return merged
}
