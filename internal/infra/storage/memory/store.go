package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lettz/internal/app/docstore"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

// Store is an in-process document store. Every write runs under one mutex, so
// batches are atomic and snapshots of one document are queued in write order.
type Store struct {
	mu            sync.Mutex
	users         map[string]*domainuser.User
	conversations map[string]*domainconversation.Conversation
	listings      map[string]*domainlistings.Listing

	clock    func() time.Time
	lastTick time.Time
	maxOps   int

	watchers map[docstore.Ref]map[uint64]*watcher
	nextID   uint64

	faults     faults
	writeCalls int
}

type Option func(*Store)

// WithClock replaces the server clock. The store still never hands out the same
// instant twice.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithMaxBatchOps(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOps = n
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		users:         make(map[string]*domainuser.User),
		conversations: make(map[string]*domainconversation.Conversation),
		listings:      make(map[string]*domainlistings.Listing),
		clock:         time.Now,
		maxOps:        docstore.DefaultMaxBatchOps,
		watchers:      make(map[docstore.Ref]map[uint64]*watcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) MaxBatchOps() int {
	return s.maxOps
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) GetUser(ctx context.Context, uid string) (*domainuser.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return nil, notFound(docstore.CollectionUsers, uid)
	}
	return u.Clone(), nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domainconversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, notFound(docstore.CollectionConversations, id)
	}
	return c.Clone(), nil
}

func (s *Store) GetListing(ctx context.Context, id string) (*domainlistings.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, notFound(docstore.CollectionListings, id)
	}
	return l.Clone(), nil
}

// ConversationsByListing returns every conversation whose listingId matches,
// ordered by id.
func (s *Store) ConversationsByListing(ctx context.Context, listingID string) ([]domainconversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults.takeQuery(); err != nil {
		return nil, err
	}
	var out []domainconversation.Conversation
	for _, c := range s.conversations {
		if c.ListingID == listingID {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ConversationsByIDs skips ids that no longer exist and keeps the input order.
func (s *Store) ConversationsByIDs(ctx context.Context, ids []string) ([]domainconversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domainconversation.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.conversations[id]; ok {
			out = append(out, *c.Clone())
		}
	}
	return out, nil
}

// Commit applies every mutation to a staged copy and swaps it in only when all
// of them succeeded.
func (s *Store) Commit(ctx context.Context, batch docstore.Batch) error {
	if err := ctx.Err(); err != nil {
		return &docstore.BatchError{Ops: batch.Len(), Cause: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	if batch.Len() > s.maxOps {
		return &docstore.BatchError{
			Ops:   batch.Len(),
			Cause: fmt.Errorf("%w: %d > %d", docstore.ErrBatchTooLarge, batch.Len(), s.maxOps),
		}
	}
	if err := s.faults.takeCommit(); err != nil {
		return &docstore.BatchError{Ops: batch.Len(), Cause: err}
	}
	now := s.tickLocked()
	stage := s.stage()
	for _, m := range batch.Mutations {
		if err := stage.apply(m, now); err != nil {
			return &docstore.BatchError{Ops: batch.Len(), Cause: fmt.Errorf("%s: %w", m.Describe(), err)}
		}
	}
	s.users, s.conversations, s.listings = stage.users, stage.conversations, stage.listings
	for _, ref := range batch.Refs() {
		s.notifyLocked(ref)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg domainconversation.Message) (domainconversation.Message, error) {
	if err := ctx.Err(); err != nil {
		return domainconversation.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	if err := s.faults.takeAppend(); err != nil {
		return domainconversation.Message{}, err
	}
	current, ok := s.conversations[conversationID]
	if !ok {
		return domainconversation.Message{}, notFound(docstore.CollectionConversations, conversationID)
	}
	if !current.IsParticipant(msg.Sender) {
		return domainconversation.Message{}, docstore.ErrNotParticipant
	}
	ts := s.tickLocked()
	if ts.Before(current.LastMessage.Timestamp) {
		ts = current.LastMessage.Timestamp
	}
	msg.Timestamp = ts
	next := current.Clone()
	next.Messages = append(next.Messages, msg)
	next.LastMessage = domainconversation.LastMessage{Text: msg.Text, Timestamp: ts}
	s.conversations[conversationID] = next
	s.notifyLocked(docstore.Ref{Collection: docstore.CollectionConversations, ID: conversationID})
	return msg, nil
}

func (s *Store) AdvanceLastRead(ctx context.Context, conversationID, uid string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	if err := s.faults.takeLastRead(); err != nil {
		return time.Time{}, err
	}
	current, ok := s.conversations[conversationID]
	if !ok {
		return time.Time{}, notFound(docstore.CollectionConversations, conversationID)
	}
	if !current.IsParticipant(uid) {
		return time.Time{}, docstore.ErrNotParticipant
	}
	now := s.tickLocked()
	if existing, ok := current.Watermark(uid); ok && !existing.Before(now) {
		return existing, nil
	}
	next := current.Clone()
	if next.LastRead == nil {
		next.LastRead = make(map[string]time.Time)
	}
	next.LastRead[uid] = now
	s.conversations[conversationID] = next
	s.notifyLocked(docstore.Ref{Collection: docstore.CollectionConversations, ID: conversationID})
	return now, nil
}

// tickLocked reads the server clock, forcing strictly increasing values.
func (s *Store) tickLocked() time.Time {
	now := s.clock().UTC()
	if !now.After(s.lastTick) {
		now = s.lastTick.Add(time.Microsecond)
	}
	s.lastTick = now
	return now
}

func notFound(collection, id string) error {
	return fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
}

type stagedDocs struct {
	users         map[string]*domainuser.User
	conversations map[string]*domainconversation.Conversation
	listings      map[string]*domainlistings.Listing
}

func (s *Store) stage() *stagedDocs {
	st := &stagedDocs{
		users:         make(map[string]*domainuser.User, len(s.users)),
		conversations: make(map[string]*domainconversation.Conversation, len(s.conversations)),
		listings:      make(map[string]*domainlistings.Listing, len(s.listings)),
	}
	for k, v := range s.users {
		st.users[k] = v
	}
	for k, v := range s.conversations {
		st.conversations[k] = v
	}
	for k, v := range s.listings {
		st.listings[k] = v
	}
	return st
}

// userForWrite returns a private copy of the staged user, creating one when
// create is set. A nil result means the user is absent and must stay absent.
func (st *stagedDocs) userForWrite(uid string, create bool) *domainuser.User {
	if u, ok := st.users[uid]; ok {
		cp := u.Clone()
		st.users[uid] = cp
		return cp
	}
	if !create {
		return nil
	}
	u := &domainuser.User{UID: uid}
	st.users[uid] = u
	return u
}

func (st *stagedDocs) apply(m docstore.Mutation, now time.Time) error {
	switch op := m.(type) {
	case docstore.CreateConversation:
		c := op.Conversation.Clone()
		if strings.TrimSpace(c.ID) == "" {
			return domainconversation.ErrIDRequired
		}
		if _, exists := st.conversations[c.ID]; exists {
			return docstore.ErrAlreadyExists
		}
		stampCreated(c, now)
		st.conversations[c.ID] = c
	case docstore.DeleteConversation:
		delete(st.conversations, op.ConversationID)
	case docstore.DeleteListing:
		delete(st.listings, op.ListingID)
	case docstore.AddConversationRef:
		if op.UID == "" {
			return domainuser.ErrIDRequired
		}
		st.userForWrite(op.UID, true).AddConversation(op.ConversationID)
	case docstore.RemoveConversationRef:
		if u := st.userForWrite(op.UID, false); u != nil {
			u.RemoveConversation(op.ConversationID)
		}
	case docstore.RemoveListingRef:
		if u := st.userForWrite(op.UID, false); u != nil {
			u.RemoveListing(op.ListingID)
		}
	case docstore.MergeNotifications:
		if op.UID == "" {
			return domainuser.ErrIDRequired
		}
		st.userForWrite(op.UID, true).Notifications = op.Notifications.Clone()
	case docstore.RequireListing:
		if _, ok := st.listings[op.ListingID]; !ok {
			return notFound(docstore.CollectionListings, op.ListingID)
		}
	case docstore.RequireNoConversations:
		for _, c := range st.conversations {
			if c.ListingID == op.ListingID {
				return fmt.Errorf("%w: conversation %s references listing %s", docstore.ErrPrecondition, c.ID, op.ListingID)
			}
		}
	default:
		return fmt.Errorf("memory: unsupported mutation %T", m)
	}
	return nil
}

// stampCreated applies server timestamps to a new conversation. The author of
// the first message has read it.
func stampCreated(c *domainconversation.Conversation, now time.Time) {
	c.CreatedAt = now
	for i := range c.Messages {
		c.Messages[i].Timestamp = now
	}
	if newest, ok := c.Newest(); ok {
		c.LastMessage = domainconversation.LastMessage{Text: newest.Text, Timestamp: now}
		if c.LastRead == nil {
			c.LastRead = make(map[string]time.Time)
		}
		c.LastRead[newest.Sender] = now
	}
}
