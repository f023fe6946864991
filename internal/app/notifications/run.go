package notifications

import (
	"context"
	"fmt"

	"lettz/internal/app/docstore"
	"lettz/internal/domain/conversation"
	"lettz/internal/domain/user"
)

// Run follows the user document and one conversation per entry of its
// conversationIDs, recomputing the messages flag on every snapshot. It blocks
// until ctx is done, Close is called, or the user subscription fails.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.running {
		a.mu.Unlock()
		return ErrRunning
	}
	a.running = true
	a.generation++
	gen := a.generation
	a.runCtx = ctx
	a.failed = make(chan error, 1)
	failed := a.failed
	a.mu.Unlock()

	defer a.stop(gen)

	unsub, err := a.store.SubscribeUser(ctx, a.uid,
		func(snap docstore.Snapshot[user.User]) { a.onUser(gen, snap) },
		func(err error) { a.fail(gen, err) },
	)
	if err != nil {
		return fmt.Errorf("notifications: subscribe user %s: %w", a.uid, err)
	}
	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		unsub()
		return ErrClosed
	}
	a.userUnsub = unsub
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-failed:
		return err
	}
}

// Close unsubscribes everything and resets the flags to the defaults without
// writing. It is the logout path; the aggregator cannot be reused.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	gen := a.generation
	failed := a.failed
	running := a.running
	a.state = user.DefaultNotifications()
	listeners := a.listenersLocked()
	snap := a.state.Clone()
	a.mu.Unlock()

	if running {
		select {
		case failed <- ErrClosed:
		default:
		}
	}
	a.stop(gen)
	notify(listeners, snap)
}

// stop drops every subscription owned by generation gen.
func (a *Aggregator) stop(gen uint64) {
	a.mu.Lock()
	if a.generation != gen || !a.running {
		a.mu.Unlock()
		return
	}
	a.generation++
	a.running = false
	unsubs := make([]docstore.Unsubscribe, 0, len(a.convUnsubs)+1)
	if a.userUnsub != nil {
		unsubs = append(unsubs, a.userUnsub)
		a.userUnsub = nil
	}
	for id, u := range a.convUnsubs {
		if u != nil {
			unsubs = append(unsubs, u)
		}
		delete(a.convUnsubs, id)
	}
	a.pending = make(map[string]struct{})
	a.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (a *Aggregator) fail(gen uint64, err error) {
	a.logger.Warn("user subscription failed", "error", err)
	a.mu.Lock()
	failed := a.failed
	live := a.generation == gen && a.running
	a.mu.Unlock()
	if !live {
		return
	}
	select {
	case failed <- fmt.Errorf("notifications: %w", err):
	default:
	}
}

func (a *Aggregator) onUser(gen uint64, snap docstore.Snapshot[user.User]) {
	a.mu.Lock()
	if a.closed || a.generation != gen {
		a.mu.Unlock()
		return
	}
	ctx := a.runCtx
	seedState := a.state == nil && snap.Exists && snap.Data.Notifications != nil
	wanted := make(map[string]struct{})
	if snap.Exists {
		for _, id := range snap.Data.ConversationIDs {
			wanted[id] = struct{}{}
		}
	}
	var removed []docstore.Unsubscribe
	for id, unsub := range a.convUnsubs {
		if _, ok := wanted[id]; !ok {
			removed = append(removed, unsub)
			delete(a.convUnsubs, id)
			delete(a.pending, id)
		}
	}
	for id := range a.convs {
		if _, ok := wanted[id]; !ok {
			delete(a.convs, id)
		}
	}
	var added []string
	for id := range wanted {
		if _, ok := a.convUnsubs[id]; !ok {
			added = append(added, id)
			a.convUnsubs[id] = nil
			if _, cached := a.convs[id]; !cached {
				a.pending[id] = struct{}{}
			}
		}
	}
	a.mu.Unlock()

	if seedState {
		a.adopt(snap.Data.Notifications)
	}
	for _, u := range removed {
		if u != nil {
			u()
		}
	}
	for _, id := range added {
		a.watchConversation(ctx, gen, id)
	}
	if err := a.Recompute(ctx); err != nil {
		a.logger.Warn("messages flag recompute failed", "error", err)
	}
}

func (a *Aggregator) watchConversation(ctx context.Context, gen uint64, id string) {
	unsub, err := a.store.SubscribeConversation(ctx, id,
		func(snap docstore.Snapshot[conversation.Conversation]) { a.onConversation(gen, snap) },
		func(err error) {
			a.logger.Warn("conversation subscription failed", "conversation_id", id, "error", err)
			a.settle(gen, id)
		},
	)
	if err != nil {
		a.logger.Warn("conversation subscribe failed", "conversation_id", id, "error", err)
		a.mu.Lock()
		if a.generation == gen {
			delete(a.convUnsubs, id)
		}
		a.mu.Unlock()
		a.settle(gen, id)
		return
	}
	a.mu.Lock()
	slot, tracked := a.convUnsubs[id]
	if a.closed || a.generation != gen || !tracked || slot != nil {
		a.mu.Unlock()
		unsub()
		return
	}
	a.convUnsubs[id] = unsub
	a.mu.Unlock()
}

func (a *Aggregator) onConversation(gen uint64, snap docstore.Snapshot[conversation.Conversation]) {
	a.mu.Lock()
	if a.closed || a.generation != gen {
		a.mu.Unlock()
		return
	}
	if _, tracked := a.convUnsubs[snap.ID]; !tracked {
		a.mu.Unlock()
		return
	}
	if snap.Exists {
		a.convs[snap.ID] = snap.Data.Clone()
	} else {
		delete(a.convs, snap.ID)
	}
	delete(a.pending, snap.ID)
	ctx := a.runCtx
	a.mu.Unlock()
	if err := a.Recompute(ctx); err != nil {
		a.logger.Warn("messages flag recompute failed", "error", err)
	}
}

// settle stops waiting for a conversation whose stream failed, keeping the last
// snapshot seen, and recomputes.
func (a *Aggregator) settle(gen uint64, id string) {
	a.mu.Lock()
	if a.closed || a.generation != gen {
		a.mu.Unlock()
		return
	}
	_, waiting := a.pending[id]
	delete(a.pending, id)
	ctx := a.runCtx
	a.mu.Unlock()
	if !waiting {
		return
	}
	if err := a.Recompute(ctx); err != nil {
		a.logger.Warn("messages flag recompute failed", "error", err)
	}
}
