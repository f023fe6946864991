package listings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	domainlistings "lettz/internal/domain/listings"
)

var ErrCleanupNotConfigured = errors.New("listings: cleanup missing dependencies")

// PhotoRemover deletes stored listing photos by their public URL.
type PhotoRemover interface {
	RemovePhotos(ctx context.Context, urls []string) error
}

// Inbox deduplicates broker deliveries.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Cleanup purges what a removed listing leaves outside the document store.
// It runs after the removal batch has committed and is never part of it.
type Cleanup struct {
	Photos PhotoRemover
	Inbox  Inbox
	Logger *slog.Logger
}

// HandleRemoved processes one listing.removed delivery. Redelivered events are
// skipped; a failed purge releases the inbox entry so the next delivery retries.
func (c *Cleanup) HandleRemoved(ctx context.Context, eventID string, ev domainlistings.ListingRemoved) error {
	if c.Photos == nil {
		return ErrCleanupNotConfigured
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if c.Inbox != nil && eventID != "" {
		seen, err := c.Inbox.Seen(ctx, eventID)
		if err != nil {
			return fmt.Errorf("listings: inbox: %w", err)
		}
		if seen {
			logger.Debug("listing.removed already handled", "event_id", eventID, "listing_id", ev.ListingID)
			return nil
		}
	}
	if len(ev.Images) == 0 {
		return nil
	}
	if err := c.Photos.RemovePhotos(ctx, ev.Images); err != nil {
		if c.Inbox != nil && eventID != "" {
			if ferr := c.Inbox.Forget(ctx, eventID); ferr != nil {
				err = errors.Join(err, ferr)
			}
		}
		logger.Warn("listing photo cleanup failed", "listing_id", ev.ListingID, "error", err)
		return fmt.Errorf("listings: remove photos of %s: %w", ev.ListingID, err)
	}
	logger.Info("listing photos removed", "listing_id", ev.ListingID, "count", len(ev.Images))
	return nil
}
