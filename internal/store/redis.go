package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/supportiq/assist/internal/model"
)

const (
	conversationKeyPrefix = "conversation:"
	userIndexKeyPrefix    = "user:"
	userIndexKeySuffix    = ":conversations"
)

// RedisStore persists each conversation as a JSON blob keyed by id, with a
// per-user sorted set (scored by last update) as the listing index.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed conversation store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping reports whether the backing Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func conversationKey(id string) string {
	return conversationKeyPrefix + id
}

func userIndexKey(userID string) string {
	return userIndexKeyPrefix + userID + userIndexKeySuffix
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(ids) == 0 {
		return []model.Conversation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = conversationKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	conversations := make([]model.Conversation, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry whose blob expired or was deleted out of band.
			continue
		}
		var conv model.Conversation
		if err := json.Unmarshal([]byte(raw), &conv); err != nil {
			continue
		}
		conv.Messages = nil
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, userID, id string) (*model.Conversation, error) {
	conv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, userID, title string, attachedTicketIDs []string) (*model.Conversation, error) {
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:                uuid.Must(uuid.NewV7()).String(),
		UserID:            userID,
		Title:             title,
		CreatedAt:         now,
		UpdatedAt:         now,
		AttachedTicketIDs: append([]string(nil), attachedTicketIDs...),
		Messages:          []model.Message{},
	}

	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessages implements Store.
func (s *RedisStore) AppendMessages(ctx context.Context, userID, id string, messages []model.Message, attachedTicketIDs []string) error {
	conv, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, messages...)
	if attachedTicketIDs != nil {
		conv.AttachedTicketIDs = append([]string(nil), attachedTicketIDs...)
	}
	conv.UpdatedAt = time.Now().UTC()

	return s.save(ctx, conv)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, userID, id string) error {
	conv, err := s.Get(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, conversationKey(conv.ID))
	pipe.ZRem(ctx, userIndexKey(userID), conv.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// ReplaceAttachedTickets implements Store.
func (s *RedisStore) ReplaceAttachedTickets(ctx context.Context, userID, id string, ticketIDs []string) ([]string, error) {
	conv, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	conv.AttachedTicketIDs = append([]string(nil), ticketIDs...)
	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv.AttachedTicketIDs, nil
}

// SetTitle implements Store.
func (s *RedisStore) SetTitle(ctx context.Context, userID, id, title string) error {
	conv, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	// Title patches must not bump UpdatedAt: generation races later
	// submissions and only ever touches the sidebar label.
	conv.Title = title
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := s.client.Set(ctx, conversationKey(conv.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, id string) (*model.Conversation, error) {
	raw, err := s.client.Get(ctx, conversationKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// save writes the blob and refreshes the user index score in one transaction.
func (s *RedisStore) save(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, conversationKey(conv.ID), data, 0)
	pipe.ZAdd(ctx, userIndexKey(conv.UserID), redis.Z{
		Score:  float64(conv.UpdatedAt.UnixMilli()),
		Member: conv.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}
