// Package notifications keeps the global notification flags of one user in
// sync with their conversations.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"lettz/internal/app/docstore"
	"lettz/internal/app/readstate"
	"lettz/internal/domain/conversation"
	"lettz/internal/domain/user"
)

var (
	ErrWriteFailed = errors.New("notifications: write failed")
	ErrClosed      = errors.New("notifications: aggregator closed")
	ErrRunning     = errors.New("notifications: aggregator already running")
)

// Store is what the aggregator needs from the document store.
type Store interface {
	docstore.Reader
	docstore.Watcher
	docstore.BatchWriter
}

// Listener receives a copy of the flags after every change.
type Listener func(user.Notifications)

// Aggregator is the explicit per-user notification context. It is the only
// writer of users/{uid}.notifications for that user.
type Aggregator struct {
	uid    string
	store  Store
	logger *slog.Logger

	// writeMu orders persistence so merge writes land in state order.
	writeMu sync.Mutex

	mu           sync.Mutex
	state        user.Notifications
	listeners    map[int]Listener
	nextListener int
	closed       bool

	running    bool
	generation uint64
	runCtx     context.Context
	userUnsub  docstore.Unsubscribe
	convUnsubs map[string]docstore.Unsubscribe
	convs      map[string]*conversation.Conversation
	// pending holds conversations subscribed to but not yet observed.
	pending map[string]struct{}
	failed  chan error
}

func NewAggregator(uid string, store Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		uid:        uid,
		store:      store,
		logger:     logger.With("uid", uid),
		listeners:  make(map[int]Listener),
		convUnsubs: make(map[string]docstore.Unsubscribe),
		convs:      make(map[string]*conversation.Conversation),
		pending:    make(map[string]struct{}),
	}
}

func (a *Aggregator) UID() string { return a.uid }

// Load reads the user's flags, initialising the defaults with a merge write
// when the user has none, then recomputes the messages flag.
func (a *Aggregator) Load(ctx context.Context) error {
	u, err := a.store.GetUser(ctx, a.uid)
	if err != nil && !docstore.IsNotFound(err) {
		return fmt.Errorf("notifications: load user %s: %w", a.uid, err)
	}
	var (
		current user.Notifications
		ids     []string
	)
	if u != nil {
		current = u.Notifications
		ids = u.ConversationIDs
	}
	if current == nil {
		if err := a.replace(ctx, user.DefaultNotifications()); err != nil {
			return err
		}
	} else {
		a.adopt(current)
	}

	convs, err := a.store.ConversationsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("notifications: load conversations: %w", err)
	}
	a.mu.Lock()
	a.convs = make(map[string]*conversation.Conversation, len(convs))
	for i := range convs {
		a.convs[convs[i].ID] = convs[i].Clone()
	}
	a.mu.Unlock()
	return a.Recompute(ctx)
}

// Add raises category and persists the full map.
func (a *Aggregator) Add(ctx context.Context, category user.Category) error {
	return a.set(ctx, category, true, false)
}

// Clear lowers category and persists the full map. Clearing a clear flag still
// writes.
func (a *Aggregator) Clear(ctx context.Context, category user.Category) error {
	return a.set(ctx, category, false, false)
}

// Snapshot returns a copy of the current flags.
func (a *Aggregator) Snapshot() user.Notifications {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() user.Notifications {
	if a.state == nil {
		return user.DefaultNotifications()
	}
	return a.state.Clone()
}

// Subscribe calls fn with the current flags and after every change until the
// returned cancel func runs.
func (a *Aggregator) Subscribe(fn Listener) func() {
	a.mu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	snap := a.snapshotLocked()
	a.mu.Unlock()
	fn(snap)
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Recompute sets the messages flag to the OR of hasNewMessage over the known
// conversations. Nothing is written when the flag already has that value or
// while a conversation of the set has not been observed yet.
func (a *Aggregator) Recompute(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) > 0 {
		a.mu.Unlock()
		return nil
	}
	value := false
	for _, c := range a.convs {
		if c.IsParticipant(a.uid) && readstate.HasNewMessage(c, a.uid) {
			value = true
			break
		}
	}
	a.mu.Unlock()
	return a.set(ctx, user.CategoryMessages, value, true)
}

func (a *Aggregator) set(ctx context.Context, category user.Category, value, onlyIfChanged bool) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if onlyIfChanged && a.state != nil {
		if cur, ok := a.state[category]; ok && cur == value {
			a.mu.Unlock()
			return nil
		}
	}
	next := a.state.With(category, value)
	a.state = next
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, next)
	return a.persist(ctx, next)
}

// replace swaps the whole map, used to initialise defaults.
func (a *Aggregator) replace(ctx context.Context, next user.Notifications) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.state = next.Clone()
	listeners := a.listenersLocked()
	a.mu.Unlock()
	notify(listeners, next)
	return a.persist(ctx, next)
}

func (a *Aggregator) adopt(current user.Notifications) {
	a.mu.Lock()
	a.state = current.Clone()
	listeners := a.listenersLocked()
	a.mu.Unlock()
	notify(listeners, current)
}

func (a *Aggregator) persist(ctx context.Context, next user.Notifications) error {
	var batch docstore.Batch
	batch.Add(docstore.MergeNotifications{UID: a.uid, Notifications: next.Clone()})
	if err := a.store.Commit(ctx, batch); err != nil {
		a.logger.Error("notifications write failed", "error", err)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

func (a *Aggregator) listenersLocked() []Listener {
	out := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, state user.Notifications) {
	for _, l := range listeners {
		l(state.Clone())
	}
}
