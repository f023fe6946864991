package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lettz/internal/app/docstore"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

var errNilHandler = errors.New("memory: snapshot handler required")

// watcher is one live subscription. snapshot runs under the store lock and
// returns the delivery for the document's current state.
type watcher struct {
	id       uint64
	ref      docstore.Ref
	snapshot func() func()
	onError  docstore.ErrorHandler
	feed     *feed
	stopOnce sync.Once
	stopped  chan struct{}
}

func (s *Store) SubscribeUser(ctx context.Context, uid string, onSnapshot docstore.UserHandler, onError docstore.ErrorHandler) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, errNilHandler
	}
	ref := docstore.Ref{Collection: docstore.CollectionUsers, ID: uid}
	return s.subscribe(ctx, ref, onError, func() func() {
		snap := docstore.Snapshot[domainuser.User]{ID: uid}
		if u, ok := s.users[uid]; ok {
			snap.Exists = true
			snap.Data = *u.Clone()
		}
		return func() { onSnapshot(snap) }
	})
}

func (s *Store) SubscribeConversation(ctx context.Context, id string, onSnapshot docstore.ConversationHandler, onError docstore.ErrorHandler) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, errNilHandler
	}
	ref := docstore.Ref{Collection: docstore.CollectionConversations, ID: id}
	return s.subscribe(ctx, ref, onError, func() func() {
		snap := docstore.Snapshot[domainconversation.Conversation]{ID: id}
		if c, ok := s.conversations[id]; ok {
			snap.Exists = true
			snap.Data = *c.Clone()
		}
		return func() { onSnapshot(snap) }
	})
}

func (s *Store) SubscribeListing(ctx context.Context, id string, onSnapshot docstore.ListingHandler, onError docstore.ErrorHandler) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, errNilHandler
	}
	ref := docstore.Ref{Collection: docstore.CollectionListings, ID: id}
	return s.subscribe(ctx, ref, onError, func() func() {
		snap := docstore.Snapshot[domainlistings.Listing]{ID: id}
		if l, ok := s.listings[id]; ok {
			snap.Exists = true
			snap.Data = *l.Clone()
		}
		return func() { onSnapshot(snap) }
	})
}

// subscribe registers the watcher and queues the current state as the first
// snapshot. Cancelling ctx unsubscribes.
func (s *Store) subscribe(ctx context.Context, ref docstore.Ref, onError docstore.ErrorHandler, snapshot func() func()) (docstore.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.faults.takeSubscribe(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %w", docstore.ErrSubscription, ref, err)
	}
	s.nextID++
	w := &watcher{
		id:       s.nextID,
		ref:      ref,
		snapshot: snapshot,
		onError:  onError,
		feed:     newFeed(),
		stopped:  make(chan struct{}),
	}
	if s.watchers[ref] == nil {
		s.watchers[ref] = make(map[uint64]*watcher)
	}
	s.watchers[ref][w.id] = w
	w.feed.push(snapshot())
	s.mu.Unlock()

	unsubscribe := func() { s.unsubscribe(w) }
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				unsubscribe()
			case <-w.stopped:
			}
		}()
	}
	return unsubscribe, nil
}

func (s *Store) unsubscribe(w *watcher) {
	w.stopOnce.Do(func() {
		s.mu.Lock()
		s.dropLocked(w)
		s.mu.Unlock()
		w.feed.close()
		close(w.stopped)
	})
}

func (s *Store) dropLocked(w *watcher) {
	if set, ok := s.watchers[w.ref]; ok {
		delete(set, w.id)
		if len(set) == 0 {
			delete(s.watchers, w.ref)
		}
	}
}

func (s *Store) notifyLocked(ref docstore.Ref) {
	for _, w := range s.watchers[ref] {
		w.feed.push(w.snapshot())
	}
}

// Teardown breaks every live subscription on the document: each receives one
// error wrapping docstore.ErrSubscription and then stops.
func (s *Store) Teardown(collection, id string) {
	ref := docstore.Ref{Collection: collection, ID: id}
	s.mu.Lock()
	var broken []*watcher
	for _, w := range s.watchers[ref] {
		broken = append(broken, w)
	}
	for _, w := range broken {
		s.dropLocked(w)
	}
	s.mu.Unlock()
	for _, w := range broken {
		w := w
		err := fmt.Errorf("%w: %s torn down", docstore.ErrSubscription, ref)
		w.feed.push(func() {
			if w.onError != nil {
				w.onError(err)
			}
			w.feed.close()
		})
		w.stopOnce.Do(func() { close(w.stopped) })
	}
}

// Subscribers counts live subscriptions on the document.
func (s *Store) Subscribers(collection, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[docstore.Ref{Collection: collection, ID: id}])
}

// feed runs deliveries for one subscription on its own goroutine, in push
// order. After close no new delivery starts.
type feed struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

func newFeed() *feed {
	f := &feed{wake: make(chan struct{}, 1)}
	go f.run()
	return f
}

func (f *feed) push(fn func()) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, fn)
	f.mu.Unlock()
	f.signal()
}

func (f *feed) close() {
	f.mu.Lock()
	f.closed = true
	f.queue = nil
	f.mu.Unlock()
	f.signal()
}

func (f *feed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) run() {
	for range f.wake {
		for {
			f.mu.Lock()
			if f.closed {
				f.mu.Unlock()
				return
			}
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			fn := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			fn()
		}
	}
}
