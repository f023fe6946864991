package memory

import (
	"context"
	"sync"
	"time"

	"lettz/internal/app/middleware"
)

// IdempotencyTTL matches the expiry index of the Mongo store.
const IdempotencyTTL = 7 * 24 * time.Hour

// IdempotencyStore keeps command results in memory until they expire.
type IdempotencyStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]middleware.IdempotencyRecord
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{now: time.Now, items: make(map[string]middleware.IdempotencyRecord)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	if ok && s.now().Sub(rec.OccurredAt) > IdempotencyTTL {
		delete(s.items, key)
		return middleware.IdempotencyRecord{}, false, nil
	}
	return rec, ok, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.Key] = rec
	return nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
