// Package redis adapts the external append-only chat log to Redis.
// Each room has a counter key for id assignment and a list of JSON-encoded
// messages trimmed to a retention cap.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feched/watch-party/backend/model"
)

const (
	defaultRetention = 500

	keyPrefixLog     = "chat:log:"
	keyPrefixCounter = "chat:seq:"
)

type ChatLog struct {
	client    *redis.Client
	retention int64
}

func NewChatLog(client *redis.Client) *ChatLog {
	return &ChatLog{
		client:    client,
		retention: defaultRetention,
	}
}

// Append assigns the next per-room id via INCR, stamps CreatedAt, pushes the
// encoded message and trims the list to the retention cap.
func (l *ChatLog) Append(ctx context.Context, msg model.ChatMessage) (model.ChatMessage, error) {
	id, err := l.client.Incr(ctx, keyPrefixCounter+msg.RoomID).Result()
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("chatlog incr: %w", err)
	}
	msg.ID = id
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("chatlog marshal: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, keyPrefixLog+msg.RoomID, b)
	pipe.LTrim(ctx, keyPrefixLog+msg.RoomID, -l.retention, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.ChatMessage{}, fmt.Errorf("chatlog push: %w", err)
	}
	return msg, nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (l *ChatLog) Recent(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	start := int64(-limit)
	if limit <= 0 {
		start = 0
	}
	raw, err := l.client.LRange(ctx, keyPrefixLog+roomID, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("chatlog range: %w", err)
	}

	msgs := make([]model.ChatMessage, 0, len(raw))
	for _, entry := range raw {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			// Skip unreadable entries rather than failing the whole
			// bootstrap.
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Purge deletes the room's log and counter.
func (l *ChatLog) Purge(ctx context.Context, roomID string) error {
	if err := l.client.Del(ctx, keyPrefixLog+roomID, keyPrefixCounter+roomID).Err(); err != nil {
		return fmt.Errorf("chatlog purge: %w", err)
	}
	return nil
}
