package listings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettz/internal/app/commands"
	"lettz/internal/app/dto"
	applistings "lettz/internal/app/listings"
	"lettz/internal/app/middleware"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
	"lettz/internal/infra/storage/memory"
)

func TestRemoveListingThroughBusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "bob", Listings: []string{"L"}, ConversationIDs: []string{"C1"}}))
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "alice", ConversationIDs: []string{"C1"}}))
	require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "L", Owner: "bob"}))
	require.NoError(t, s.PutConversation(ctx, domainconversation.Conversation{
		ID: "C1", ListingID: "L",
		Participants: []domainconversation.Participant{{UID: "alice"}, {UID: "bob"}},
	}))

	base := commands.NewInMemoryBus()
	commands.RegisterHandler[RemoveListingCommand, *dto.ListingRemoval](base, removeListingKey, &RemoveListingHandler{
		Coordinator: applistings.NewCoordinator(s),
	})
	bus := middleware.ChainCommands(base,
		middleware.Authorization(middleware.RequireActor),
		middleware.Idempotency(memory.NewIdempotencyStore(), nil),
	)

	cmd := RemoveListingCommand{ListingID: "L", OwnerID: "bob", RequestKey: "req-1"}
	first, err := commands.Dispatch[RemoveListingCommand, *dto.ListingRemoval](ctx, bus, cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, first.ConversationIDs)
	assert.False(t, first.AlreadyRemoved)

	replayed, err := commands.Dispatch[RemoveListingCommand, *dto.ListingRemoval](ctx, bus, cmd)
	require.NoError(t, err)
	assert.Equal(t, first, replayed)
	assert.Equal(t, 1, s.WriteCalls())

	cmd.RequestKey = "req-2"
	again, err := commands.Dispatch[RemoveListingCommand, *dto.ListingRemoval](ctx, bus, cmd)
	require.NoError(t, err)
	assert.True(t, again.AlreadyRemoved)
	assert.Equal(t, 1, s.WriteCalls())

	_, err = commands.Dispatch[RemoveListingCommand, *dto.ListingRemoval](ctx, bus, RemoveListingCommand{ListingID: "L"})
	assert.ErrorIs(t, err, middleware.ErrUnauthenticated)
}
