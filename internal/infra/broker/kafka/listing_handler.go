package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"lettz/internal/app/listings"
	domainlistings "lettz/internal/domain/listings"
	"lettz/internal/infra/outbox"
)

// ListingEventsHandler routes listing.events to the post-removal cleanup.
// Other event types on the topic are acknowledged and ignored.
type ListingEventsHandler struct {
	Cleanup *listings.Cleanup
	Logger  *slog.Logger
}

func (h *ListingEventsHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	env, err := outbox.DecodeEnvelope(msg.Value)
	if err != nil {
		h.logger().Warn("dropping malformed listing event", "offset", msg.Offset, "error", err)
		return nil
	}
	var removed domainlistings.ListingRemoved
	if env.EventName() != removed.EventName() {
		return nil
	}
	if err := json.Unmarshal(env.Data, &removed); err != nil {
		h.logger().Warn("dropping undecodable listing.removed", "event_id", env.ID, "error", err)
		return nil
	}
	if err := h.Cleanup.HandleRemoved(ctx, env.ID, removed); err != nil {
		return fmt.Errorf("kafka: listing.removed %s: %w", env.ID, err)
	}
	return nil
}

func (h *ListingEventsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ MessageHandler = (*ListingEventsHandler)(nil)
