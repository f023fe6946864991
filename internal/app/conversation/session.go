// Package conversation drives live conversation views and the contact flow
// that creates conversations.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"lettz/internal/app/docstore"
	"lettz/internal/app/readstate"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
)

var (
	ErrNotAuthenticated = errors.New("conversation: no active user")
	ErrSendFailed       = errors.New("conversation: send failed")
	ErrNotReady         = errors.New("conversation: session is not ready")
	ErrClosed           = errors.New("conversation: session closed")
	ErrSubscription     = errors.New("conversation: subscription failed")
)

type State int

const (
	StateLoading State = iota
	StateReady
	StateSending
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SessionStore is what a live view needs from the document store.
type SessionStore interface {
	docstore.Watcher
	docstore.MessageWriter
}

type Config struct {
	Store SessionStore
	// UID is the active user. Empty means nobody is signed in: the view still
	// loads but sends fail with ErrNotAuthenticated.
	UID     string
	Tracker *readstate.Tracker
	Clock   *LocalClock
	Logger  *slog.Logger
}

// View is an immutable copy of the session state. Conversation and Listing are
// independent: either may be nil while the other is present.
type View struct {
	ConversationID string
	State          State
	Conversation   *domainconversation.Conversation
	Listing        *domainlistings.Listing
	Messages       []domainconversation.Message
	Draft          string
	HasNewMessage  bool
	Err            error
}

// Session joins the conversation stream and the listing stream of one view.
type Session struct {
	id      string
	uid     string
	store   SessionStore
	tracker *readstate.Tracker
	clock   *LocalClock
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	err          error
	conv         *domainconversation.Conversation
	listing      *domainlistings.Listing
	listingID    string
	hasNew       bool
	pending      []domainconversation.Message
	draft        string
	closed       bool
	gen          uint64
	convUnsub    docstore.Unsubscribe
	listingUnsub docstore.Unsubscribe
	watchers     map[int]func(View)
	nextWatcher  int
}

// Open subscribes to the conversation. The session starts in StateLoading and
// moves to StateReady on the first snapshot. When the subscription cannot be
// registered the session is returned in StateError together with the error, so
// the caller can Reconnect.
func Open(ctx context.Context, cfg Config, conversationID string) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewLocalClock(nil)
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       conversationID,
		uid:      strings.TrimSpace(cfg.UID),
		store:    cfg.Store,
		tracker:  cfg.Tracker,
		clock:    clock,
		logger:   logger.With("conversation_id", conversationID),
		ctx:      sctx,
		cancel:   cancel,
		state:    StateLoading,
		watchers: make(map[int]func(View)),
	}
	if err := s.subscribe(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) subscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	unsub, err := s.store.SubscribeConversation(s.ctx, s.id,
		func(snap docstore.Snapshot[domainconversation.Conversation]) { s.onConversation(gen, snap) },
		func(err error) { s.onConversationError(gen, err) },
	)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrSubscription, err)
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.state = StateError
			s.err = wrapped
		}
		s.mu.Unlock()
		s.logger.Warn("conversation subscribe failed", "error", err)
		s.publish()
		return wrapped
	}
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		unsub()
		return ErrClosed
	}
	s.convUnsub = unsub
	s.mu.Unlock()
	return nil
}

func (s *Session) onConversation(gen uint64, snap docstore.Snapshot[domainconversation.Conversation]) {
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	var conv *domainconversation.Conversation
	if snap.Exists {
		conv = snap.Data.Clone()
		s.pending = dropDelivered(s.pending, conv.Messages)
	}
	s.conv = conv
	if s.state == StateLoading {
		s.state = StateReady
		s.err = nil
	}
	wantListing := ""
	if conv != nil {
		wantListing = conv.ListingID
	}
	var oldListing docstore.Unsubscribe
	switchListing := wantListing != s.listingID
	if switchListing {
		oldListing = s.listingUnsub
		s.listingUnsub = nil
		s.listingID = wantListing
		s.listing = nil
	}
	uid := s.uid
	s.mu.Unlock()

	if oldListing != nil {
		oldListing()
	}
	if switchListing && wantListing != "" {
		s.watchListing(gen, wantListing)
	}
	if conv != nil && uid != "" && conv.IsParticipant(uid) {
		hasNew := readstate.HasNewMessage(conv, uid)
		if s.tracker != nil {
			var err error
			hasNew, err = s.tracker.Observe(s.ctx, conv, uid)
			if err != nil {
				s.logger.Debug("read state skipped", "error", err)
			}
		}
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.hasNew = hasNew
		}
		s.mu.Unlock()
	}
	s.publish()
}

func (s *Session) onConversationError(gen uint64, err error) {
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.err = fmt.Errorf("%w: %w", ErrSubscription, err)
	s.mu.Unlock()
	s.logger.Warn("conversation stream failed", "error", err)
	s.publish()
}

// watchListing follows the listing best-effort: failures are logged and the
// listing side of the view stays empty.
func (s *Session) watchListing(gen uint64, listingID string) {
	unsub, err := s.store.SubscribeListing(s.ctx, listingID,
		func(snap docstore.Snapshot[domainlistings.Listing]) { s.onListing(gen, listingID, snap) },
		func(err error) {
			s.logger.Warn("listing stream failed", "listing_id", listingID, "error", err)
		},
	)
	if err != nil {
		s.logger.Warn("listing subscribe failed", "listing_id", listingID, "error", err)
		return
	}
	s.mu.Lock()
	if s.closed || s.gen != gen || s.listingID != listingID || s.listingUnsub != nil {
		s.mu.Unlock()
		unsub()
		return
	}
	s.listingUnsub = unsub
	s.mu.Unlock()
}

func (s *Session) onListing(gen uint64, listingID string, snap docstore.Snapshot[domainlistings.Listing]) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.listingID != listingID {
		s.mu.Unlock()
		return
	}
	if snap.Exists {
		s.listing = snap.Data.Clone()
	} else {
		s.listing = nil
	}
	s.mu.Unlock()
	s.publish()
}

// SetDraft replaces the local input buffer.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.draft = text
	s.mu.Unlock()
	s.publish()
}

// SendMessage shows the message optimistically and appends it with the atomic
// append-and-denormalize write. On failure the draft keeps text and the error
// wraps ErrSendFailed; nothing is retried automatically. A draft edited while
// the send was in flight survives its success.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return domainconversation.ErrEmptyMessage
	}
	if s.uid == "" {
		return ErrNotAuthenticated
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReady, state)
	}
	msg, err := domainconversation.NewMessage(s.uid, text, s.clock.Next())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StateSending
	s.draft = text
	s.pending = append(s.pending, msg)
	s.mu.Unlock()
	s.publish()

	stored, err := s.store.AppendMessage(ctx, s.id, msg)

	s.mu.Lock()
	if s.state == StateSending {
		s.state = StateReady
	}
	if err != nil {
		s.pending = removeSend(s.pending, msg)
	} else {
		if s.draft == text {
			s.draft = ""
		}
		for i := range s.pending {
			if s.pending[i].SameSend(stored) {
				s.pending[i].Timestamp = stored.Timestamp
			}
		}
	}
	s.mu.Unlock()
	s.publish()

	if err != nil {
		s.logger.Warn("message send failed", "uid", s.uid, "error", err)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// Reconnect re-subscribes a session that is in StateError.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateError {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: reconnect from %s", ErrNotReady, state)
	}
	s.state = StateLoading
	s.err = nil
	unsubs := s.detachLocked()
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	s.publish()
	return s.subscribe()
}

// Close unsubscribes both streams. Snapshots that arrive later are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	unsubs := s.detachLocked()
	s.watchers = make(map[int]func(View))
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	s.cancel()
}

func (s *Session) detachLocked() []docstore.Unsubscribe {
	var out []docstore.Unsubscribe
	if s.convUnsub != nil {
		out = append(out, s.convUnsub)
		s.convUnsub = nil
	}
	if s.listingUnsub != nil {
		out = append(out, s.listingUnsub)
		s.listingUnsub = nil
	}
	s.listingID = ""
	return out
}

// View returns the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ConversationID: s.id,
		State:          s.state,
		Conversation:   s.conv.Clone(),
		Listing:        s.listing.Clone(),
		Draft:          s.draft,
		HasNewMessage:  s.hasNew,
		Err:            s.err,
	}
	v.Messages = displayOrder(s.conv, s.pending)
	return v
}

// Watch calls fn with the current view and after every change until the
// returned cancel func runs or the session closes.
func (s *Session) Watch(fn func(View)) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	v := s.viewLocked()
	s.mu.Unlock()
	fn(v)
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Session) publish() {
	s.mu.Lock()
	if s.closed || len(s.watchers) == 0 {
		s.mu.Unlock()
		return
	}
	v := s.viewLocked()
	fns := make([]func(View), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// displayOrder is the stored log followed by this client's not yet delivered
// sends, which are ordered by their local timestamp.
func displayOrder(conv *domainconversation.Conversation, pending []domainconversation.Message) []domainconversation.Message {
	var out []domainconversation.Message
	if conv != nil {
		out = append(out, conv.Messages...)
	}
	local := append([]domainconversation.Message(nil), pending...)
	sort.SliceStable(local, func(i, j int) bool { return local[i].LocalTimestamp < local[j].LocalTimestamp })
	return append(out, local...)
}

func dropDelivered(pending, delivered []domainconversation.Message) []domainconversation.Message {
	if len(pending) == 0 {
		return pending
	}
	out := pending[:0:0]
	for _, p := range pending {
		found := false
		for _, d := range delivered {
			if p.SameSend(d) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, p)
		}
	}
	return out
}

func removeSend(pending []domainconversation.Message, msg domainconversation.Message) []domainconversation.Message {
	out := pending[:0:0]
	for _, p := range pending {
		if !p.SameSend(msg) {
			out = append(out, p)
		}
	}
	return out
}
