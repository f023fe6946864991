// Package readstate decides whether a participant has unread messages and
// advances their read watermark when they look at a conversation.
package readstate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lettz/internal/app/docstore"
	"lettz/internal/domain/conversation"
)

var ErrNotParticipant = errors.New("readstate: user is not a participant")

// HasNewMessage is the unread rule: no watermark, or a watermark strictly older
// than the server timestamp of the last message.
func HasNewMessage(c *conversation.Conversation, uid string) bool {
	if c == nil {
		return false
	}
	return c.HasNewMessage(uid)
}

// Tracker belongs to one browsing session. It remembers which last-message
// timestamps it already acknowledged so every message triggers at most one
// successful watermark write.
type Tracker struct {
	writer docstore.MessageWriter
	logger *slog.Logger

	mu    sync.Mutex
	acked map[string]time.Time
}

func NewTracker(writer docstore.MessageWriter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{writer: writer, logger: logger, acked: make(map[string]time.Time)}
}

// Observe computes hasNewMessage for uid and, the first time it is true for the
// current last message, advances the watermark. A failed write is logged and
// forgotten so the next observation retries; it never changes the result.
func (t *Tracker) Observe(ctx context.Context, c *conversation.Conversation, uid string) (bool, error) {
	if c == nil || !c.IsParticipant(uid) {
		return false, ErrNotParticipant
	}
	if !c.HasNewMessage(uid) {
		return false, nil
	}
	last := c.LastMessage.Timestamp
	key := ackKey(c.ID, uid)

	t.mu.Lock()
	if prev, ok := t.acked[key]; ok && !prev.Before(last) {
		t.mu.Unlock()
		return true, nil
	}
	prev, hadPrev := t.acked[key]
	t.acked[key] = last
	t.mu.Unlock()

	if _, err := t.writer.AdvanceLastRead(ctx, c.ID, uid); err != nil {
		t.logger.Warn("watermark write failed", "conversation_id", c.ID, "uid", uid, "error", err)
		t.mu.Lock()
		if cur := t.acked[key]; cur.Equal(last) {
			if hadPrev {
				t.acked[key] = prev
			} else {
				delete(t.acked, key)
			}
		}
		t.mu.Unlock()
		return true, nil
	}
	return true, nil
}

// Forget drops what the tracker knows about a conversation, e.g. after it was
// deleted.
func (t *Tracker) Forget(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := conversationID + "\x00"
	for k := range t.acked {
		if strings.HasPrefix(k, prefix) {
			delete(t.acked, k)
		}
	}
}

func ackKey(conversationID, uid string) string {
	return conversationID + "\x00" + uid
}
