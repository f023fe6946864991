package listings

import (
	"context"
	"log/slog"

	"lettz/internal/app/commands"
	"lettz/internal/app/dto"
	applistings "lettz/internal/app/listings"
)

const removeListingKey = "listings.remove"

type RemoveListingCommand struct {
	ListingID string
	OwnerID   string
	// RequestKey is the client's Idempotency-Key, if any.
	RequestKey string
}

func (c RemoveListingCommand) Key() string            { return removeListingKey }
func (c RemoveListingCommand) ActorUID() string       { return c.OwnerID }
func (c RemoveListingCommand) IdempotencyKey() string { return c.RequestKey }
func (c RemoveListingCommand) ResultPrototype() any   { return &dto.ListingRemoval{} }

type RemoveListingHandler struct {
	Coordinator *applistings.Coordinator
	Logger      *slog.Logger
}

func (h *RemoveListingHandler) Handle(ctx context.Context, cmd RemoveListingCommand) (*dto.ListingRemoval, error) {
	report, err := h.Coordinator.RemoveListing(ctx, cmd.ListingID, cmd.OwnerID)
	if err != nil {
		return nil, err
	}
	if report.Noop && h.Logger != nil {
		h.Logger.Info("listing already removed", "listing_id", report.ListingID, "owner", cmd.OwnerID)
	}
	out := dto.MapRemoval(report)
	return &out, nil
}

var _ commands.Handler[RemoveListingCommand, *dto.ListingRemoval] = (*RemoveListingHandler)(nil)
