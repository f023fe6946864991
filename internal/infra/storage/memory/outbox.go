package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "lettz/internal/app/outbox"
)

// Outbox keeps event records in memory and hands them to the relay worker.
type Outbox struct {
	mu      sync.Mutex
	now     func() time.Time
	order   []string
	records map[string]*outboxEntry
}

type outboxEntry struct {
	record    appoutbox.EventRecord
	attempts  int
	nextAt    time.Time
	claimedBy string
	sent      bool
	lastError string
}

func NewOutbox() *Outbox {
	return &Outbox{now: time.Now, records: make(map[string]*outboxEntry)}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.records[record.ID]; exists {
		return nil
	}
	o.order = append(o.order, record.ID)
	o.records[record.ID] = &outboxEntry{record: record, nextAt: o.now()}
	return nil
}

// Flush is a no-op: records stay until the relay marks them sent.
func (o *Outbox) Flush(ctx context.Context) error {
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.PendingRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, id := range o.order {
		e := o.records[id]
		if e.sent || e.claimedBy != "" || e.nextAt.After(now) {
			continue
		}
		e.claimedBy = workerID
		return &appoutbox.PendingRecord{EventRecord: e.record, Attempts: e.attempts}, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.records[id]; ok {
		e.sent = true
		e.claimedBy = ""
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.records[id]; ok {
		e.attempts++
		e.nextAt = next
		e.claimedBy = ""
		e.lastError = errMsg
	}
	return nil
}

// Pending lists records not yet sent, oldest first.
func (o *Outbox) Pending() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []appoutbox.EventRecord
	for _, id := range o.order {
		if e := o.records[id]; !e.sent {
			out = append(out, e.record)
		}
	}
	return out
}

var (
	_ appoutbox.Outbox     = (*Outbox)(nil)
	_ appoutbox.RelayStore = (*Outbox)(nil)
)
