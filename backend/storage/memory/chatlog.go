package memory

import (
	"context"
	"sync"
	"time"

	"github.com/feched/watch-party/backend/model"
)

// ChatLog is an in-memory append-only chat log. It backs tests and
// single-node dev runs; production points at the Redis implementation.
type ChatLog struct {
	mx     *sync.Mutex
	nextID int64
	logs   map[string][]model.ChatMessage
}

func NewChatLog() *ChatLog {
	return &ChatLog{
		mx:     &sync.Mutex{},
		nextID: 1,
		logs:   make(map[string][]model.ChatMessage),
	}
}

// Append assigns the next id, stamps CreatedAt and stores the message.
func (l *ChatLog) Append(_ context.Context, msg model.ChatMessage) (model.ChatMessage, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	msg.ID = l.nextID
	l.nextID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}
	l.logs[msg.RoomID] = append(l.logs[msg.RoomID], msg)
	return msg, nil
}

// Recent returns up to limit of the newest messages for the room,
// oldest first.
func (l *ChatLog) Recent(_ context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	msgs := l.logs[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (l *ChatLog) Purge(_ context.Context, roomID string) error {
	l.mx.Lock()
	defer l.mx.Unlock()

	delete(l.logs, roomID)
	return nil
}
