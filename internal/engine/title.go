package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/events"
	"github.com/supportiq/assist/internal/llm"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/pkg/metrics"
)

const titleMaxLen = 60

// GenerateTitle asks the model for a short conversation title based on the
// opening exchange. Only a generated title is persisted; on model failure
// the first user message is returned as a non-generated fallback.
func (s *Service) GenerateTitle(ctx context.Context, userID, conversationID string) (string, bool, error) {
	conv, err := s.store.Get(ctx, userID, conversationID)
	if err != nil {
		return "", false, err
	}
	if len(conv.Messages) == 0 {
		return "New Chat", false, nil
	}
	if s.llm == nil {
		metrics.TitleGenerationsTotal.WithLabelValues("fallback").Inc()
		return fallbackTitle(conv.Messages), false, nil
	}

	// First two exchanges are enough context.
	contextMessages := conv.Messages
	if len(contextMessages) > 4 {
		contextMessages = contextMessages[:4]
	}
	var contextText strings.Builder
	for _, msg := range contextMessages {
		content := msg.Content
		if r := []rune(content); len(r) > 200 {
			content = string(r[:200])
		}
		fmt.Fprintf(&contextText, "%s: %s\n", msg.Role, content)
	}

	prompt := fmt.Sprintf(`Based on this conversation, generate a short descriptive title (3-6 words, no quotes).
The title should capture the main topic or request.

Conversation:
%s
Title:`, contextText.String())

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		Messages:    []llm.ChatMessage{{Role: string(model.RoleUser), Content: prompt}},
		MaxTokens:   20,
		Temperature: 0.3,
	})
	if err != nil {
		s.log.Warn("title generation failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		metrics.TitleGenerationsTotal.WithLabelValues("fallback").Inc()
		return fallbackTitle(conv.Messages), false, nil
	}

	title := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	title = strings.TrimSpace(title)
	if title == "" {
		metrics.TitleGenerationsTotal.WithLabelValues("fallback").Inc()
		return fallbackTitle(conv.Messages), false, nil
	}
	if r := []rune(title); len(r) > titleMaxLen {
		title = string(r[:titleMaxLen-3]) + "..."
	}

	if err := s.store.SetTitle(ctx, userID, conversationID, title); err != nil {
		return "", false, fmt.Errorf("failed to store title: %w", err)
	}

	s.publisher.Publish(ctx, events.Event{
		Type:           events.TypeTitleGenerated,
		UserID:         userID,
		ConversationID: conversationID,
		Title:          title,
	})

	metrics.TitleGenerationsTotal.WithLabelValues("generated").Inc()
	return title, true, nil
}

func fallbackTitle(messages []model.Message) string {
	for _, msg := range messages {
		if msg.Role == model.RoleUser {
			return model.ProvisionalTitle(msg.Content)
		}
	}
	return "New Chat"
}
