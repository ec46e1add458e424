package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"pype/internal/core/domain"
	"pype/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisChatArchive mirrors committed chat messages into a per-session Redis
// list, RPUSH order matching seq order.
type RedisChatArchive struct {
	client *redis.Client
	prefix string
}

func NewRedisChatArchive(client *redis.Client) ports.ChatArchive {
	return &RedisChatArchive{
		client: client,
		prefix: "pype:chat:",
	}
}

func (r *RedisChatArchive) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisChatArchive) Append(ctx context.Context, msg domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	key := r.sessionKey(msg.SessionID)
	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append chat message to Redis: %w", err)
	}
	return nil
}

func (r *RedisChatArchive) Load(ctx context.Context, id domain.SessionID) ([]domain.ChatMessage, error) {
	key := r.sessionKey(id)
	entries, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history from Redis: %w", err)
	}

	msgs := make([]domain.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (r *RedisChatArchive) Purge(ctx context.Context, id domain.SessionID) error {
	if err := r.client.Del(ctx, r.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to purge chat history from Redis: %w", err)
	}
	return nil
}
