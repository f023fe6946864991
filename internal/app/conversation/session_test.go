package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettz/internal/app/docstore"
	"lettz/internal/app/readstate"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
	"lettz/internal/infra/storage/memory"
)

var (
	t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func newStore(t *testing.T, withListing bool) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "bob", DisplayName: "Bob", Listings: []string{"L"}, ConversationIDs: []string{"C"}}))
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "alice", DisplayName: "Alice", ConversationIDs: []string{"C"}}))
	if withListing {
		require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "L", Owner: "bob", Title: "Flat"}))
	}
	require.NoError(t, s.PutConversation(ctx, domainconversation.Conversation{
		ID:           "C",
		ListingID:    "L",
		Participants: []domainconversation.Participant{{UID: "alice", DisplayName: "Alice"}, {UID: "bob", DisplayName: "Bob"}},
		Messages:     []domainconversation.Message{{Sender: "bob", Text: "welcome", LocalTimestamp: 1, Timestamp: t1}},
		LastMessage:  domainconversation.LastMessage{Text: "welcome", Timestamp: t1},
		LastRead:     map[string]time.Time{"alice": t0, "bob": t1},
	}))
	return s
}

func open(t *testing.T, s *memory.Store, uid string, tracker *readstate.Tracker) *Session {
	t.Helper()
	sess, err := Open(context.Background(), Config{Store: s, UID: uid, Tracker: tracker}, "C")
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func waitView(t *testing.T, sess *Session, cond func(View) bool) View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(sess.View()) }, 2*time.Second, 5*time.Millisecond)
	return sess.View()
}

func TestOpenReachesReadyAndJoinsListing(t *testing.T) {
	s := newStore(t, true)
	sess := open(t, s, "bob", nil)

	v := waitView(t, sess, func(v View) bool { return v.State == StateReady && v.Listing != nil })
	require.NotNil(t, v.Conversation)
	assert.Equal(t, "Flat", v.Listing.Title)
	assert.Equal(t, 1, s.Subscribers(docstore.CollectionListings, "L"))
}

func TestMissingListingDoesNotBlockReady(t *testing.T) {
	s := newStore(t, false)
	sess := open(t, s, "bob", nil)

	v := waitView(t, sess, func(v View) bool { return v.State == StateReady })
	assert.NotNil(t, v.Conversation)
	assert.Nil(t, v.Listing)

	require.NoError(t, s.PutListing(context.Background(), domainlistings.Listing{ID: "L", Owner: "bob", Title: "Late"}))
	v = waitView(t, sess, func(v View) bool { return v.Listing != nil })
	assert.Equal(t, "Late", v.Listing.Title)
}

func TestMissingConversationStillReady(t *testing.T) {
	s := memory.NewStore()
	sess, err := Open(context.Background(), Config{Store: s, UID: "bob"}, "nope")
	require.NoError(t, err)
	defer sess.Close()

	v := waitView(t, sess, func(v View) bool { return v.State == StateReady })
	assert.Nil(t, v.Conversation)
	assert.ErrorIs(t, sess.SendMessage(context.Background(), "hi"), ErrSendFailed)
}

func TestSendRejectsEmptyMessageWithoutWrites(t *testing.T) {
	s := newStore(t, true)
	sess := open(t, s, "bob", nil)
	waitView(t, sess, func(v View) bool { return v.State == StateReady })
	before := s.WriteCalls()

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, sess.SendMessage(context.Background(), text), domainconversation.ErrEmptyMessage)
	}
	assert.Equal(t, before, s.WriteCalls())
	assert.Equal(t, StateReady, sess.State())
}

func TestSendRequiresActiveUser(t *testing.T) {
	s := newStore(t, true)
	sess := open(t, s, "", nil)
	waitView(t, sess, func(v View) bool { return v.State == StateReady })
	before := s.WriteCalls()

	assert.ErrorIs(t, sess.SendMessage(context.Background(), "hello"), ErrNotAuthenticated)
	assert.Equal(t, before, s.WriteCalls())
}

func TestSendAppendsAndClearsDraft(t *testing.T) {
	s := newStore(t, true)
	sess := open(t, s, "bob", nil)
	waitView(t, sess, func(v View) bool { return v.State == StateReady })

	sess.SetDraft("see you at 5")
	require.NoError(t, sess.SendMessage(context.Background(), "see you at 5"))
	v := waitView(t, sess, func(v View) bool {
		return v.Conversation != nil && v.Conversation.LastMessage.Text == "see you at 5"
	})
	assert.Equal(t, StateReady, v.State)
	assert.Empty(t, v.Draft)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "see you at 5", v.Messages[1].Text)
	assert.False(t, v.Messages[1].Timestamp.IsZero())
}

func TestFailedSendKeepsDraft(t *testing.T) {
	s := newStore(t, true)
	sess := open(t, s, "bob", nil)
	waitView(t, sess, func(v View) bool { return v.State == StateReady })
	s.FailNextAppend(errors.New("unavailable"))

	sess.SetDraft("are pets ok?")
	err := sess.SendMessage(context.Background(), "are pets ok?")
	require.ErrorIs(t, err, ErrSendFailed)

	v := sess.View()
	assert.Equal(t, StateReady, v.State)
	assert.Equal(t, "are pets ok?", v.Draft)
	assert.Len(t, v.Messages, 1, "failed send must not stay on screen")

	require.NoError(t, sess.SendMessage(context.Background(), v.Draft))
}

// heldAppends blocks AppendMessage until release is closed.
type heldAppends struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (h *heldAppends) AppendMessage(ctx context.Context, conversationID string, msg domainconversation.Message) (domainconversation.Message, error) {
	close(h.entered)
	<-h.release
	return h.Store.AppendMessage(ctx, conversationID, msg)
}

func TestDraftTypedDuringSendSurvivesSuccess(t *testing.T) {
	s := &heldAppends{Store: newStore(t, true), entered: make(chan struct{}), release: make(chan struct{})}
	sess, err := Open(context.Background(), Config{Store: s, UID: "bob"}, "C")
	require.NoError(t, err)
	defer sess.Close()
	waitView(t, sess, func(v View) bool { return v.State == StateReady })

	sess.SetDraft("first")
	sent := make(chan error, 1)
	go func() { sent <- sess.SendMessage(context.Background(), "first") }()
	<-s.entered
	sess.SetDraft("second thoughts")
	close(s.release)
	require.NoError(t, <-sent)

	assert.Equal(t, "second thoughts", sess.View().Draft)
}

func TestSendToDeletedConversationIsNotFatal(t *testing.T) {
	s := newStore(t, true)
	sess := open(t, s, "bob", nil)
	waitView(t, sess, func(v View) bool { return v.State == StateReady })

	var batch docstore.Batch
	batch.Add(docstore.DeleteConversation{ConversationID: "C"})
	require.NoError(t, s.Commit(context.Background(), batch))
	waitView(t, sess, func(v View) bool { return v.Conversation == nil })

	err := sess.SendMessage(context.Background(), "still there?")
	require.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.Equal(t, StateReady, sess.State())
}

func TestCloseUnsubscribesBothStreams(t *testing.T) {
	s := newStore(t, true)
	sess, err := Open(context.Background(), Config{Store: s, UID: "bob"}, "C")
	require.NoError(t, err)
	waitView(t, sess, func(v View) bool { return v.State == StateReady && v.Listing != nil })

	sess.Close()
	assert.Zero(t, s.Subscribers(docstore.CollectionConversations, "C"))
	assert.Zero(t, s.Subscribers(docstore.CollectionListings, "L"))

	before := sess.View()
	_, err = s.AppendMessage(context.Background(), "C", domainconversation.Message{Sender: "alice", Text: "late"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, sess.View())
	assert.ErrorIs(t, sess.SendMessage(context.Background(), "x"), ErrClosed)
}

func TestSubscriptionFailureAndReconnect(t *testing.T) {
	s := newStore(t, true)
	s.FailNextSubscribe(errors.New("offline"))
	sess, err := Open(context.Background(), Config{Store: s, UID: "bob"}, "C")
	require.ErrorIs(t, err, ErrSubscription)
	defer sess.Close()
	assert.Equal(t, StateError, sess.State())
	assert.ErrorIs(t, sess.SendMessage(context.Background(), "hi"), ErrNotReady)

	require.NoError(t, sess.Reconnect(context.Background()))
	waitView(t, sess, func(v View) bool { return v.State == StateReady })

	s.Teardown(docstore.CollectionConversations, "C")
	v := waitView(t, sess, func(v View) bool { return v.State == StateError })
	assert.ErrorIs(t, v.Err, ErrSubscription)

	require.NoError(t, sess.Reconnect(context.Background()))
	waitView(t, sess, func(v View) bool { return v.State == StateReady && v.Listing != nil })
}

func TestViewingMarksConversationRead(t *testing.T) {
	s := newStore(t, true)
	tracker := readstate.NewTracker(s, nil)
	sess := open(t, s, "alice", tracker)

	waitView(t, sess, func(v View) bool { return v.State == StateReady })
	require.Eventually(t, func() bool {
		c, err := s.GetConversation(context.Background(), "C")
		return err == nil && !c.HasNewMessage("alice")
	}, 2*time.Second, 5*time.Millisecond)
	waitView(t, sess, func(v View) bool { return !v.HasNewMessage })

	c, err := s.GetConversation(context.Background(), "C")
	require.NoError(t, err)
	watermark, _ := c.Watermark("alice")
	assert.False(t, watermark.Before(t1))
}

func TestObserversNeverSeeTornLastMessage(t *testing.T) {
	s := newStore(t, true)
	var (
		mu   sync.Mutex
		torn []string
	)
	unsub, err := s.SubscribeConversation(context.Background(), "C", func(snap docstore.Snapshot[domainconversation.Conversation]) {
		newest, ok := snap.Data.Newest()
		if !ok {
			return
		}
		if newest.Text != snap.Data.LastMessage.Text || !newest.Timestamp.Equal(snap.Data.LastMessage.Timestamp) {
			mu.Lock()
			torn = append(torn, newest.Text)
			mu.Unlock()
		}
	}, nil)
	require.NoError(t, err)
	defer unsub()

	bob := open(t, s, "bob", nil)
	alice := open(t, s, "alice", nil)
	waitView(t, bob, func(v View) bool { return v.State == StateReady })
	waitView(t, alice, func(v View) bool { return v.State == StateReady })

	var wg sync.WaitGroup
	for _, sess := range []*Session{bob, alice} {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = sess.SendMessage(context.Background(), fmt.Sprintf("%s-%d", sess.uid, i))
			}
		}(sess)
	}
	wg.Wait()

	c, err := s.GetConversation(context.Background(), "C")
	require.NoError(t, err)
	assert.Len(t, c.Messages, 41)
	for i := 1; i < len(c.Messages); i++ {
		assert.False(t, c.Messages[i].Timestamp.Before(c.Messages[i-1].Timestamp))
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, torn)
}

func TestDisplayOrderUsesLocalTimestampForPendingSends(t *testing.T) {
	conv := &domainconversation.Conversation{Messages: []domainconversation.Message{{Sender: "bob", Text: "a", LocalTimestamp: 50, Timestamp: t1}}}
	pending := []domainconversation.Message{
		{Sender: "alice", Text: "second", LocalTimestamp: 20},
		{Sender: "alice", Text: "first", LocalTimestamp: 10},
	}
	got := displayOrder(conv, pending)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "first", "second"}, []string{got[0].Text, got[1].Text, got[2].Text})
}

func TestLocalClockIsStrictlyIncreasing(t *testing.T) {
	clock := NewLocalClock(func() time.Time { return t0 })
	a, b := clock.Next(), clock.Next()
	assert.Greater(t, b, a)
}
