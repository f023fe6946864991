package conversations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettz/internal/app/outbox"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
	"lettz/internal/infra/storage/memory"
)

func TestContactListingRecordsEvents(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "bob", DisplayName: "Bob", Listings: []string{"L"}}))
	require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "L", Owner: "bob"}))
	box := memory.NewOutbox()
	h := &ContactListingHandler{Store: s, Outbox: box, Encoder: outbox.JSONEventEncoder{}}

	res, err := h.Handle(ctx, ContactListingCommand{ListingID: "L", SenderID: "alice", Text: "hello", LocalTimestamp: 1})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Conversation.HasNewMessage)
	require.Len(t, res.Conversation.Participants, 2)
	assert.Equal(t, "Guest", res.Conversation.Participants[0].DisplayName)

	_, err = h.Handle(ctx, ContactListingCommand{ListingID: "L", SenderID: "alice", Text: "again", LocalTimestamp: 2})
	require.NoError(t, err)

	var names []string
	for _, rec := range box.Pending() {
		names = append(names, rec.Name)
		assert.Equal(t, res.Conversation.ID, rec.Aggregate)
	}
	assert.Equal(t, []string{"conversation.started", "conversation.message_sent", "conversation.message_sent"}, names)
}

func TestListConversationsQuery(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "bob", Listings: []string{"L"}}))
	require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "L", Owner: "bob"}))
	contact := &ContactListingHandler{Store: s}
	_, err := contact.Handle(ctx, ContactListingCommand{ListingID: "L", SenderID: "alice", Text: "hi"})
	require.NoError(t, err)

	list, err := (&ListConversationsHandler{Reader: s}).Handle(ctx, ListConversationsQuery{UID: "bob"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.True(t, list.Items[0].HasNewMessage)
	assert.Equal(t, "alice", list.Items[0].Counterpart.UID)
	assert.Equal(t, "hi", list.Items[0].LastMessage)
}
