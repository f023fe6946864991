// Package listings removes listings together with everything that points at
// them.
package listings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lettz/internal/app/docstore"
	"lettz/internal/app/outbox"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
)

var ErrDeletionFailed = errors.New("listings: deletion failed")

const maxRemoveAttempts = 3

// Store is what the coordinator needs from the document store.
type Store interface {
	docstore.Reader
	docstore.BatchWriter
}

// Coordinator runs cascading listing removals.
type Coordinator struct {
	store   Store
	outbox  outbox.Outbox
	encoder outbox.EventEncoder
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Coordinator)

// WithOutbox records listing.removed after every successful removal.
func WithOutbox(box outbox.Outbox, encoder outbox.EventEncoder) Option {
	return func(c *Coordinator) {
		c.outbox = box
		c.encoder = encoder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report describes what a removal did.
type Report struct {
	ListingID       string
	ConversationIDs []string
	Mutations       int
	Batches         int
	Noop            bool
}

// RemoveListing deletes the listing, every conversation attached to it and all
// back-references to them. A plan that fits MaxBatchOps is one atomic batch.
// Larger plans are split so that each conversation leaves together with its
// back-references and the listing itself goes in the last batch; an
// interrupted sequence therefore never leaves a dangling reference and a retry
// finishes the job. A conversation opened while the removal runs fails the
// last batch, and the plan is rebuilt. Removing an already removed listing is
// a no-op.
func (c *Coordinator) RemoveListing(ctx context.Context, listingID, ownerUID string) (*Report, error) {
	listingID = strings.TrimSpace(listingID)
	ownerUID = strings.TrimSpace(ownerUID)
	if listingID == "" {
		return nil, domainlistings.ErrIDRequired
	}
	if ownerUID == "" {
		return nil, domainlistings.ErrOwnerRequired
	}

	listing, err := c.store.GetListing(ctx, listingID)
	switch {
	case err == nil:
		if !listing.OwnedBy(ownerUID) {
			return nil, fmt.Errorf("%w: %s", domainlistings.ErrNotOwner, listingID)
		}
	case docstore.IsNotFound(err):
		listing = nil
	default:
		return nil, fmt.Errorf("%w: load listing %s: %w", ErrDeletionFailed, listingID, err)
	}

	owner, err := c.store.GetUser(ctx, ownerUID)
	if err != nil && !docstore.IsNotFound(err) {
		return nil, fmt.Errorf("%w: load owner %s: %w", ErrDeletionFailed, ownerUID, err)
	}
	ownerHasRef := owner != nil && owner.HasListing(listingID)

	report := &Report{ListingID: listingID}
	seen := make(map[string]struct{})
	for attempt := 1; ; attempt++ {
		convs, err := c.store.ConversationsByListing(ctx, listingID)
		if err != nil {
			return nil, fmt.Errorf("%w: query conversations: %w", ErrDeletionFailed, err)
		}
		for _, conv := range convs {
			if _, ok := seen[conv.ID]; !ok {
				seen[conv.ID] = struct{}{}
				report.ConversationIDs = append(report.ConversationIDs, conv.ID)
			}
		}
		if attempt == 1 && listing == nil && len(convs) == 0 && !ownerHasRef {
			report.Noop = true
			return report, nil
		}
		err = c.commitPlan(ctx, listingID, ownerUID, convs, report)
		if err == nil {
			break
		}
		// A conversation opened after the query; plan again to take it along.
		if errors.Is(err, docstore.ErrPrecondition) && attempt < maxRemoveAttempts {
			c.logger.Warn("listing gained a conversation during removal, replanning",
				"listing_id", listingID, "attempt", attempt)
			continue
		}
		return nil, err
	}
	c.logger.Info("listing removed",
		"listing_id", listingID, "owner", ownerUID, "conversations", len(report.ConversationIDs), "batches", report.Batches)

	c.recordRemoved(ctx, listing, listingID, ownerUID, report.ConversationIDs)
	return report, nil
}

func (c *Coordinator) commitPlan(ctx context.Context, listingID, ownerUID string, convs []domainconversation.Conversation, report *Report) error {
	batches, err := planBatches(listingID, ownerUID, convs, c.store.MaxBatchOps())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeletionFailed, err)
	}
	for i, batch := range batches {
		if err := c.store.Commit(ctx, batch); err != nil {
			c.logger.Error("listing removal batch failed",
				"listing_id", listingID, "batch", i+1, "batches", len(batches), "error", err)
			return fmt.Errorf("%w: batch %d of %d: %w", ErrDeletionFailed, i+1, len(batches), err)
		}
		report.Batches++
		report.Mutations += batch.Len()
	}
	return nil
}

// recordRemoved hands listing.removed to the outbox. The removal has already
// committed, so failures are only logged.
func (c *Coordinator) recordRemoved(ctx context.Context, listing *domainlistings.Listing, listingID, ownerUID string, convIDs []string) {
	if c.outbox == nil {
		return
	}
	ev := domainlistings.ListingRemoved{
		ListingID:       listingID,
		OwnerID:         ownerUID,
		ConversationIDs: convIDs,
		At:              c.now().UTC(),
	}
	if listing != nil {
		ev.Images = append([]string(nil), listing.Images...)
	}
	if err := outbox.RecordDomainEvents(ctx, c.outbox, c.encoder, ev); err != nil {
		c.logger.Warn("listing.removed not recorded", "listing_id", listingID, "error", err)
	}
}

// planBatches groups each conversation delete with the removal of its id from
// every participant, then packs groups into batches of at most maxOps. The
// listing delete and the owner's back-reference form the final group, which is
// always packed into the last batch behind a guard that no conversation still
// points at the listing.
func planBatches(listingID, ownerUID string, convs []domainconversation.Conversation, maxOps int) ([]docstore.Batch, error) {
	if maxOps <= 0 {
		maxOps = docstore.DefaultMaxBatchOps
	}
	groups := make([][]docstore.Mutation, 0, len(convs))
	for _, conv := range convs {
		group := []docstore.Mutation{docstore.DeleteConversation{ConversationID: conv.ID}}
		seen := make(map[string]struct{}, len(conv.Participants))
		for _, p := range conv.Participants {
			if _, ok := seen[p.UID]; ok || p.UID == "" {
				continue
			}
			seen[p.UID] = struct{}{}
			group = append(group, docstore.RemoveConversationRef{UID: p.UID, ConversationID: conv.ID})
		}
		groups = append(groups, group)
	}
	final := []docstore.Mutation{
		docstore.RequireNoConversations{ListingID: listingID},
		docstore.DeleteListing{ListingID: listingID},
		docstore.RemoveListingRef{UID: ownerUID, ListingID: listingID},
	}

	total := len(final)
	for _, g := range groups {
		total += len(g)
	}
	if total <= maxOps {
		var batch docstore.Batch
		for _, g := range groups {
			batch.Add(g...)
		}
		batch.Add(final...)
		return []docstore.Batch{batch}, nil
	}

	for _, g := range groups {
		if len(g) > maxOps {
			return nil, fmt.Errorf("%w: conversation %s needs %d operations", docstore.ErrBatchTooLarge,
				g[0].(docstore.DeleteConversation).ConversationID, len(g))
		}
	}
	if len(final) > maxOps {
		return nil, docstore.ErrBatchTooLarge
	}

	// Fill the last batch first, from the end, so the listing group never waits
	// on a batch of its own when there is room.
	var (
		batches []docstore.Batch
		last    docstore.Batch
	)
	last.Add(final...)
	rest := groups
	for len(rest) > 0 && last.Len()+len(rest[len(rest)-1]) <= maxOps {
		g := rest[len(rest)-1]
		rest = rest[:len(rest)-1]
		last.Mutations = append(append([]docstore.Mutation(nil), g...), last.Mutations...)
	}
	var current docstore.Batch
	for _, g := range rest {
		if current.Len()+len(g) > maxOps {
			batches = append(batches, current)
			current = docstore.Batch{}
		}
		current.Add(g...)
	}
	if current.Len() > 0 {
		batches = append(batches, current)
	}
	return append(batches, last), nil
}
