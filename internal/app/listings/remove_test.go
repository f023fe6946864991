package listings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettz/internal/app/docstore"
	"lettz/internal/app/outbox"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
	"lettz/internal/infra/storage/memory"
)

var at = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, opts ...memory.Option) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore(opts...)
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "bob", Listings: []string{"L", "K"}, ConversationIDs: []string{"C1", "C2", "C3"}}))
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "alice", ConversationIDs: []string{"C1", "C3"}}))
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "carol", ConversationIDs: []string{"C2"}}))
	require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "L", Owner: "bob", Images: []string{"https://cdn/l/1.jpg"}}))
	require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "K", Owner: "bob"}))
	conv := func(id, listing, other string) domainconversation.Conversation {
		return domainconversation.Conversation{
			ID:           id,
			ListingID:    listing,
			Participants: []domainconversation.Participant{{UID: other}, {UID: "bob"}},
			Messages:     []domainconversation.Message{{Sender: other, Text: "hi", Timestamp: at}},
			LastMessage:  domainconversation.LastMessage{Text: "hi", Timestamp: at},
		}
	}
	require.NoError(t, s.PutConversation(ctx, conv("C1", "L", "alice")))
	require.NoError(t, s.PutConversation(ctx, conv("C2", "L", "carol")))
	require.NoError(t, s.PutConversation(ctx, conv("C3", "K", "alice")))
	return s
}

func assertNoDanglingRefs(t *testing.T, st memory.State) {
	t.Helper()
	for uid, u := range st.Users {
		for _, id := range u.ConversationIDs {
			_, ok := st.Conversations[id]
			assert.Truef(t, ok, "%s references missing conversation %s", uid, id)
		}
	}
}

func TestRemoveListingCascades(t *testing.T) {
	s := seed(t)
	c := NewCoordinator(s)

	report, err := c.RemoveListing(context.Background(), "L", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.ElementsMatch(t, []string{"C1", "C2"}, report.ConversationIDs)
	assert.Equal(t, 1, s.WriteCalls())

	st := s.State()
	assert.NotContains(t, st.Listings, "L")
	assert.NotContains(t, st.Conversations, "C1")
	assert.NotContains(t, st.Conversations, "C2")
	assert.Contains(t, st.Conversations, "C3")
	assert.Equal(t, []string{"K"}, st.Users["bob"].Listings)
	assert.Equal(t, []string{"C3"}, st.Users["bob"].ConversationIDs)
	assert.Equal(t, []string{"C3"}, st.Users["alice"].ConversationIDs)
	assert.Empty(t, st.Users["carol"].ConversationIDs)
	assertNoDanglingRefs(t, st)
}

func TestRemoveListingFailureLeavesStateUntouched(t *testing.T) {
	s := seed(t)
	before := s.State()
	s.FailNextCommit(errors.New("backend unavailable"))

	_, err := NewCoordinator(s).RemoveListing(context.Background(), "L", "bob")
	require.ErrorIs(t, err, ErrDeletionFailed)
	assert.ErrorIs(t, err, docstore.ErrBatch)
	assert.Equal(t, before, s.State())
}

func TestRemoveListingIsIdempotent(t *testing.T) {
	s := seed(t)
	c := NewCoordinator(s)
	_, err := c.RemoveListing(context.Background(), "L", "bob")
	require.NoError(t, err)
	writes := s.WriteCalls()

	report, err := c.RemoveListing(context.Background(), "L", "bob")
	require.NoError(t, err)
	assert.True(t, report.Noop)
	assert.Zero(t, report.Mutations)
	assert.Equal(t, writes, s.WriteCalls())
}

func TestRemoveListingRejectsOtherOwners(t *testing.T) {
	s := seed(t)
	before := s.State()

	_, err := NewCoordinator(s).RemoveListing(context.Background(), "L", "alice")
	assert.ErrorIs(t, err, domainlistings.ErrNotOwner)
	_, err = NewCoordinator(s).RemoveListing(context.Background(), " ", "bob")
	assert.ErrorIs(t, err, domainlistings.ErrIDRequired)
	_, err = NewCoordinator(s).RemoveListing(context.Background(), "L", "")
	assert.ErrorIs(t, err, domainlistings.ErrOwnerRequired)
	assert.Zero(t, s.WriteCalls())
	assert.Equal(t, before, s.State())
}

func TestRemoveListingQueryFailure(t *testing.T) {
	s := seed(t)
	s.FailNextQuery(errors.New("index building"))

	_, err := NewCoordinator(s).RemoveListing(context.Background(), "L", "bob")
	assert.ErrorIs(t, err, ErrDeletionFailed)
	assert.Zero(t, s.WriteCalls())
}

// failingCommits fails the commit calls whose 1-based index is listed.
type failingCommits struct {
	*memory.Store
	mu    sync.Mutex
	calls int
	fail  map[int]bool
	seen  []docstore.Batch
}

func (f *failingCommits) Commit(ctx context.Context, batch docstore.Batch) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.seen = append(f.seen, batch)
	f.mu.Unlock()
	if f.fail[n] {
		return &docstore.BatchError{Ops: batch.Len(), Cause: errors.New("deadline exceeded")}
	}
	return f.Store.Commit(ctx, batch)
}

func TestRemoveListingChunksKeepListingLast(t *testing.T) {
	s := &failingCommits{Store: seed(t, memory.WithMaxBatchOps(4))}

	report, err := NewCoordinator(s).RemoveListing(context.Background(), "L", "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	require.Len(t, s.seen, 3)
	for _, batch := range s.seen {
		assert.LessOrEqual(t, batch.Len(), 4)
	}
	last := s.seen[len(s.seen)-1]
	assert.Contains(t, last.Mutations, docstore.Mutation(docstore.DeleteListing{ListingID: "L"}))
	assert.Contains(t, last.Mutations, docstore.Mutation(docstore.RemoveListingRef{UID: "bob", ListingID: "L"}))
	for _, batch := range s.seen[:len(s.seen)-1] {
		assert.NotContains(t, batch.Mutations, docstore.Mutation(docstore.DeleteListing{ListingID: "L"}))
	}
	assertNoDanglingRefs(t, s.State())
}

func TestInterruptedChunkedRemovalCanBeRetried(t *testing.T) {
	s := &failingCommits{Store: seed(t, memory.WithMaxBatchOps(4)), fail: map[int]bool{2: true}}
	c := NewCoordinator(s)

	_, err := c.RemoveListing(context.Background(), "L", "bob")
	require.ErrorIs(t, err, ErrDeletionFailed)
	st := s.State()
	assert.Contains(t, st.Listings, "L", "listing must go last")
	assert.Len(t, st.Conversations, 2)
	assertNoDanglingRefs(t, st)

	_, err = c.RemoveListing(context.Background(), "L", "bob")
	require.NoError(t, err)
	st = s.State()
	assert.NotContains(t, st.Listings, "L")
	assert.NotContains(t, st.Conversations, "C1")
	assert.NotContains(t, st.Conversations, "C2")
	assert.Equal(t, []string{"K"}, st.Users["bob"].Listings)
	assertNoDanglingRefs(t, st)
}

// lateContact opens a conversation on the listing right before the first
// commit, after the removal has already queried the conversations.
type lateContact struct {
	*memory.Store
	once sync.Once
	t    *testing.T
}

func (l *lateContact) Commit(ctx context.Context, batch docstore.Batch) error {
	l.once.Do(func() {
		var b docstore.Batch
		b.Add(
			docstore.RequireListing{ListingID: "L"},
			docstore.CreateConversation{Conversation: domainconversation.Conversation{
				ID:           "C9",
				ListingID:    "L",
				Participants: []domainconversation.Participant{{UID: "dave"}, {UID: "bob"}},
				Messages:     []domainconversation.Message{{Sender: "dave", Text: "still free?", Timestamp: at}},
			}},
			docstore.AddConversationRef{UID: "dave", ConversationID: "C9"},
			docstore.AddConversationRef{UID: "bob", ConversationID: "C9"},
		)
		require.NoError(l.t, l.Store.Commit(ctx, b))
	})
	return l.Store.Commit(ctx, batch)
}

func TestRemoveListingTakesAlongConversationOpenedMidway(t *testing.T) {
	s := &lateContact{Store: seed(t), t: t}

	report, err := NewCoordinator(s).RemoveListing(context.Background(), "L", "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"C1", "C2", "C9"}, report.ConversationIDs)

	st := s.State()
	assert.NotContains(t, st.Listings, "L")
	assert.NotContains(t, st.Conversations, "C9")
	assert.Empty(t, st.Users["dave"].ConversationIDs)
	assert.Equal(t, []string{"C3"}, st.Users["bob"].ConversationIDs)
	assertNoDanglingRefs(t, st)
}

// crowdedListing fails every commit as if another conversation had just been
// opened on the listing.
type crowdedListing struct {
	*memory.Store
	calls int
}

func (c *crowdedListing) Commit(_ context.Context, batch docstore.Batch) error {
	c.calls++
	return &docstore.BatchError{Ops: batch.Len(), Cause: docstore.ErrPrecondition}
}

func TestRemoveListingGivesUpWhenConversationsKeepArriving(t *testing.T) {
	s := &crowdedListing{Store: seed(t)}

	_, err := NewCoordinator(s).RemoveListing(context.Background(), "L", "bob")
	require.ErrorIs(t, err, ErrDeletionFailed)
	assert.ErrorIs(t, err, docstore.ErrPrecondition)
	assert.Equal(t, maxRemoveAttempts, s.calls)
	assert.Contains(t, s.State().Listings, "L")
}

func TestPlanBatchesPacksTrailingGroupsWithListing(t *testing.T) {
	convs := []domainconversation.Conversation{
		{ID: "C1", Participants: []domainconversation.Participant{{UID: "a"}, {UID: "o"}}},
		{ID: "C2", Participants: []domainconversation.Participant{{UID: "b"}, {UID: "o"}, {UID: "b"}}},
	}
	batches, err := planBatches("L", "o", convs, 6)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 3, batches[0].Len())
	assert.Equal(t, docstore.Mutation(docstore.DeleteConversation{ConversationID: "C2"}), batches[1].Mutations[0])
	assert.Equal(t, 6, batches[1].Len())
	assert.Equal(t, docstore.Mutation(docstore.RequireNoConversations{ListingID: "L"}), batches[1].Mutations[3])

	single, err := planBatches("L", "o", convs, 0)
	require.NoError(t, err)
	assert.Len(t, single, 1)
}

func TestPlanBatchesRejectsOversizedConversation(t *testing.T) {
	s := seed(t, memory.WithMaxBatchOps(2))
	_, err := NewCoordinator(s).RemoveListing(context.Background(), "L", "bob")
	require.ErrorIs(t, err, ErrDeletionFailed)
	assert.ErrorIs(t, err, docstore.ErrBatchTooLarge)
	assert.Zero(t, s.WriteCalls())
}

func TestRemoveListingRecordsEvent(t *testing.T) {
	s := seed(t)
	box := memory.NewOutbox()
	c := NewCoordinator(s, WithOutbox(box, outbox.JSONEventEncoder{IDGenerator: func() string { return "evt-1" }}))

	_, err := c.RemoveListing(context.Background(), "L", "bob")
	require.NoError(t, err)
	pending := box.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-1", pending[0].ID)
	assert.Equal(t, "listing.removed", pending[0].Name)
	assert.Equal(t, "L", pending[0].Aggregate)
	assert.Equal(t, "bob", pending[0].Headers[outbox.HeaderActor])

	var ev domainlistings.ListingRemoved
	require.NoError(t, json.Unmarshal(pending[0].Payload, &ev))
	assert.Equal(t, []string{"https://cdn/l/1.jpg"}, ev.Images)
	assert.ElementsMatch(t, []string{"C1", "C2"}, ev.ConversationIDs)
}

type fakePhotos struct {
	mu      sync.Mutex
	removed [][]string
	err     error
}

func (f *fakePhotos) RemovePhotos(ctx context.Context, urls []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		err := f.err
		f.err = nil
		return err
	}
	f.removed = append(f.removed, urls)
	return nil
}

func TestCleanupDeduplicatesAndRetries(t *testing.T) {
	photos := &fakePhotos{err: errors.New("s3 down")}
	cleanup := &Cleanup{Photos: photos, Inbox: memory.NewInbox()}
	ev := domainlistings.ListingRemoved{ListingID: "L", Images: []string{"a.jpg", "b.jpg"}}
	ctx := context.Background()

	require.Error(t, cleanup.HandleRemoved(ctx, "evt-1", ev))
	require.NoError(t, cleanup.HandleRemoved(ctx, "evt-1", ev))
	require.NoError(t, cleanup.HandleRemoved(ctx, "evt-1", ev))
	assert.Equal(t, [][]string{{"a.jpg", "b.jpg"}}, photos.removed)

	assert.ErrorIs(t, (&Cleanup{}).HandleRemoved(ctx, "evt-2", ev), ErrCleanupNotConfigured)
}
