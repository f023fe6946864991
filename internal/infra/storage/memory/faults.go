package memory

import (
	"context"

	"lettz/internal/app/docstore"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

// faults holds one-shot errors returned by the next matching call.
type faults struct {
	commit    []error
	appendMsg []error
	lastRead  []error
	subscribe []error
	query     []error
}

func takeFirst(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *faults) takeCommit() error    { return takeFirst(&f.commit) }
func (f *faults) takeAppend() error    { return takeFirst(&f.appendMsg) }
func (f *faults) takeLastRead() error  { return takeFirst(&f.lastRead) }
func (f *faults) takeSubscribe() error { return takeFirst(&f.subscribe) }
func (f *faults) takeQuery() error     { return takeFirst(&f.query) }

// FailNextCommit makes the next Commit fail with err and no effect.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.commit = append(s.faults.commit, err)
}

func (s *Store) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.appendMsg = append(s.faults.appendMsg, err)
}

func (s *Store) FailNextLastRead(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.lastRead = append(s.faults.lastRead, err)
}

func (s *Store) FailNextSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.subscribe = append(s.faults.subscribe, err)
}

func (s *Store) FailNextQuery(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.query = append(s.faults.query, err)
}

// WriteCalls counts every Commit, AppendMessage and AdvanceLastRead call,
// including those that failed.
func (s *Store) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCalls
}

// State is a deep copy of every document.
type State struct {
	Users         map[string]domainuser.User
	Conversations map[string]domainconversation.Conversation
	Listings      map[string]domainlistings.Listing
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := State{
		Users:         make(map[string]domainuser.User, len(s.users)),
		Conversations: make(map[string]domainconversation.Conversation, len(s.conversations)),
		Listings:      make(map[string]domainlistings.Listing, len(s.listings)),
	}
	for k, v := range s.users {
		out.Users[k] = *v.Clone()
	}
	for k, v := range s.conversations {
		out.Conversations[k] = *v.Clone()
	}
	for k, v := range s.listings {
		out.Listings[k] = *v.Clone()
	}
	return out
}

// PutUser stores u as-is, replacing any existing document. It does not count as
// a write call.
func (s *Store) PutUser(ctx context.Context, u domainuser.User) error {
	if u.UID == "" {
		return domainuser.ErrIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UID] = u.Clone()
	s.notifyLocked(docstore.Ref{Collection: docstore.CollectionUsers, ID: u.UID})
	return nil
}

// PutConversation stores c with the timestamps it carries.
func (s *Store) PutConversation(ctx context.Context, c domainconversation.Conversation) error {
	if c.ID == "" {
		return domainconversation.ErrIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c.Clone()
	if last := c.LastMessage.Timestamp; last.After(s.lastTick) {
		s.lastTick = last
	}
	s.notifyLocked(docstore.Ref{Collection: docstore.CollectionConversations, ID: c.ID})
	return nil
}

func (s *Store) PutListing(ctx context.Context, l domainlistings.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l.Clone()
	s.notifyLocked(docstore.Ref{Collection: docstore.CollectionListings, ID: l.ID})
	return nil
}
