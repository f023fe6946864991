package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettz/internal/app/docstore"
	"lettz/internal/app/listings"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
	"lettz/internal/infra/storage/memory"
)

func contactStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "bob", DisplayName: "Bob", AvatarURL: "bob.png", Listings: []string{"L"}}))
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "alice", DisplayName: "Alice"}))
	require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "L", Owner: "bob"}))
	return s
}

func TestContactListingCreatesConversationAtomically(t *testing.T) {
	s := contactStore(t)
	ctx := context.Background()

	res, err := ContactListing(ctx, s, ContactParams{ListingID: "L", SenderUID: "alice", Text: " Is it free? ", LocalTimestamp: 7, ConversationID: "C1"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "C1", res.Conversation.ID)
	assert.Equal(t, "Is it free?", res.Conversation.LastMessage.Text)
	assert.False(t, res.Conversation.LastMessage.Timestamp.IsZero())
	assert.Equal(t, []domainconversation.Participant{
		{UID: "alice", DisplayName: "Alice"},
		{UID: "bob", DisplayName: "Bob", AvatarURL: "bob.png"},
	}, res.Conversation.Participants)
	assert.False(t, res.Conversation.HasNewMessage("alice"))
	assert.True(t, res.Conversation.HasNewMessage("bob"))

	st := s.State()
	assert.Equal(t, []string{"C1"}, st.Users["alice"].ConversationIDs)
	assert.Equal(t, []string{"C1"}, st.Users["bob"].ConversationIDs)
	assert.Equal(t, 1, s.WriteCalls())
}

func TestContactListingReusesExistingConversation(t *testing.T) {
	s := contactStore(t)
	ctx := context.Background()
	_, err := ContactListing(ctx, s, ContactParams{ListingID: "L", SenderUID: "alice", Text: "hi", ConversationID: "C1"})
	require.NoError(t, err)

	res, err := ContactListing(ctx, s, ContactParams{ListingID: "L", SenderUID: "alice", Text: "hello again"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "C1", res.Conversation.ID)
	assert.Len(t, res.Conversation.Messages, 2)
	assert.Len(t, s.State().Conversations, 1)
}

func TestContactListingRejections(t *testing.T) {
	s := contactStore(t)
	ctx := context.Background()

	_, err := ContactListing(ctx, s, ContactParams{ListingID: "L", SenderUID: "bob", Text: "me"})
	assert.ErrorIs(t, err, ErrSelfContact)
	_, err = ContactListing(ctx, s, ContactParams{ListingID: "L", SenderUID: "", Text: "x"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = ContactListing(ctx, s, ContactParams{ListingID: "L", SenderUID: "alice", Text: " "})
	assert.ErrorIs(t, err, domainconversation.ErrEmptyMessage)
	_, err = ContactListing(ctx, s, ContactParams{ListingID: "missing", SenderUID: "alice", Text: "x"})
	assert.ErrorIs(t, err, domainlistings.ErrNotFound)
	assert.Zero(t, s.WriteCalls())

	before := s.State()
	s.FailNextCommit(errors.New("unavailable"))
	_, err = ContactListing(ctx, s, ContactParams{ListingID: "L", SenderUID: "alice", Text: "x"})
	assert.ErrorIs(t, err, ErrContactFailed)
	assert.ErrorIs(t, err, docstore.ErrBatch)
	assert.Equal(t, before, s.State())
}

// removedBeforeCommit deletes the listing between the contact's read and its
// commit.
type removedBeforeCommit struct {
	*memory.Store
	once sync.Once
	err  error
}

func (r *removedBeforeCommit) Commit(ctx context.Context, batch docstore.Batch) error {
	r.once.Do(func() {
		_, r.err = listings.NewCoordinator(r.Store).RemoveListing(ctx, "L", "bob")
	})
	return r.Store.Commit(ctx, batch)
}

func TestContactListingLosesRaceWithRemoval(t *testing.T) {
	s := &removedBeforeCommit{Store: contactStore(t)}

	_, err := ContactListing(context.Background(), s, ContactParams{ListingID: "L", SenderUID: "alice", Text: "hi", ConversationID: "C1"})
	require.NoError(t, s.err)
	require.ErrorIs(t, err, domainlistings.ErrNotFound)
	assert.NotErrorIs(t, err, ErrContactFailed)

	st := s.State()
	assert.NotContains(t, st.Listings, "L")
	assert.Empty(t, st.Conversations)
	assert.Empty(t, st.Users["alice"].ConversationIDs)
	assert.Empty(t, st.Users["bob"].ConversationIDs)
	assert.Empty(t, st.Users["bob"].Listings)
}

func TestListConversationsSortsAndFlagsUnread(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "alice", ConversationIDs: []string{"old", "new", "gone"}}))
	mk := func(id string, last time.Time, read time.Time) domainconversation.Conversation {
		return domainconversation.Conversation{
			ID:           id,
			Participants: []domainconversation.Participant{{UID: "alice"}, {UID: "bob", DisplayName: "Bob"}},
			Messages:     []domainconversation.Message{{Sender: "bob", Text: id, Timestamp: last}},
			LastMessage:  domainconversation.LastMessage{Text: id, Timestamp: last},
			LastRead:     map[string]time.Time{"alice": read},
		}
	}
	require.NoError(t, s.PutConversation(ctx, mk("old", t0, t0)))
	require.NoError(t, s.PutConversation(ctx, mk("new", t1, t0)))

	got, err := ListConversations(ctx, s, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Conversation.ID)
	assert.True(t, got[0].HasNewMessage)
	assert.Equal(t, "Bob", got[0].Counterpart.DisplayName)
	assert.Equal(t, "old", got[1].Conversation.ID)
	assert.False(t, got[1].HasNewMessage)
	assert.Zero(t, s.WriteCalls())

	empty, err := ListConversations(ctx, s, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
	_, err = ListConversations(ctx, s, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
