package dto

import (
	"time"

	"lettz/internal/app/listings"
	domainlistings "lettz/internal/domain/listings"
)

type Listing struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	Title         string    `json:"title,omitempty"`
	City          string    `json:"city,omitempty"`
	RentCents     int64     `json:"rent_cents,omitempty"`
	AvailableFrom time.Time `json:"available_from,omitempty"`
	Images        []string  `json:"images,omitempty"`
}

// ListingRemoval reports a cascading removal.
type ListingRemoval struct {
	ListingID       string   `json:"listing_id"`
	ConversationIDs []string `json:"conversation_ids"`
	Mutations       int      `json:"mutations"`
	Batches         int      `json:"batches"`
	AlreadyRemoved  bool     `json:"already_removed,omitempty"`
}

func MapListing(l *domainlistings.Listing) Listing {
	return Listing{
		ID:            l.ID,
		Owner:         l.Owner,
		Title:         l.Title,
		City:          l.Address.City,
		RentCents:     l.RentCents,
		AvailableFrom: l.AvailableFrom,
		Images:        append([]string(nil), l.Images...),
	}
}

func MapRemoval(r *listings.Report) ListingRemoval {
	ids := r.ConversationIDs
	if ids == nil {
		ids = []string{}
	}
	return ListingRemoval{
		ListingID:       r.ListingID,
		ConversationIDs: ids,
		Mutations:       r.Mutations,
		Batches:         r.Batches,
		AlreadyRemoved:  r.Noop,
	}
}
