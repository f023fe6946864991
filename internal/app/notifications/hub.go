package notifications

import (
	"context"
	"log/slog"
	"sync"
)

// Hub shares one running aggregator per user between concurrent sessions (tabs,
// streams) and closes it when the last one lets go.
type Hub struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*hubEntry
}

type hubEntry struct {
	agg    *Aggregator
	refs   int
	run    context.Context
	cancel context.CancelFunc

	// ready is closed once the first Acquire has loaded agg; err holds the
	// load failure.
	ready chan struct{}
	err   error
}

func NewHub(store Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{store: store, logger: logger, entries: make(map[string]*hubEntry)}
}

// Acquire returns the loaded, running aggregator for uid and a release func.
// The first caller for a user loads it outside the hub lock; concurrent
// callers for the same user wait for that load.
func (h *Hub) Acquire(ctx context.Context, uid string) (*Aggregator, func(), error) {
	h.mu.Lock()
	entry, ok := h.entries[uid]
	if !ok {
		runCtx, cancel := context.WithCancel(context.Background())
		entry = &hubEntry{
			agg:    NewAggregator(uid, h.store, h.logger),
			run:    runCtx,
			cancel: cancel,
			ready:  make(chan struct{}),
		}
		h.entries[uid] = entry
	}
	entry.refs++
	h.mu.Unlock()

	if !ok {
		h.load(ctx, uid, entry)
	}
	select {
	case <-entry.ready:
	case <-ctx.Done():
		h.release(uid, entry)
		return nil, nil, ctx.Err()
	}
	if entry.err != nil {
		h.unref(entry)
		return nil, nil, entry.err
	}
	var once sync.Once
	release := func() { once.Do(func() { h.release(uid, entry) }) }
	return entry.agg, release, nil
}

func (h *Hub) load(ctx context.Context, uid string, entry *hubEntry) {
	defer close(entry.ready)
	if err := entry.agg.Load(ctx); err != nil {
		entry.err = err
		entry.cancel()
		h.drop(uid, entry)
		return
	}
	go func() {
		if err := entry.agg.Run(entry.run); err != nil && entry.run.Err() == nil && err != ErrClosed {
			h.logger.Warn("notification aggregator stopped", "uid", uid, "error", err)
			h.drop(uid, entry)
		}
	}()
}

func (h *Hub) unref(entry *hubEntry) {
	h.mu.Lock()
	entry.refs--
	h.mu.Unlock()
}

func (h *Hub) release(uid string, entry *hubEntry) {
	h.mu.Lock()
	entry.refs--
	last := entry.refs <= 0 && h.entries[uid] == entry
	if last {
		delete(h.entries, uid)
	}
	h.mu.Unlock()
	if last {
		entry.cancel()
		entry.agg.Close()
	}
}

// drop forgets a failed aggregator so the next Acquire starts a fresh one.
func (h *Hub) drop(uid string, entry *hubEntry) {
	h.mu.Lock()
	if h.entries[uid] == entry {
		delete(h.entries, uid)
	}
	h.mu.Unlock()
}

// Logout closes the user's aggregator regardless of holders.
func (h *Hub) Logout(uid string) {
	h.mu.Lock()
	entry, ok := h.entries[uid]
	delete(h.entries, uid)
	h.mu.Unlock()
	if ok {
		entry.cancel()
		entry.agg.Close()
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*hubEntry)
	h.mu.Unlock()
	for _, entry := range entries {
		entry.cancel()
		entry.agg.Close()
	}
}
