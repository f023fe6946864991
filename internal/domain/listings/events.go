package listings

import "time"

// ListingRemoved is recorded after a cascading removal has committed.
type ListingRemoved struct {
	ListingID       string    `json:"listing_id"`
	OwnerID         string    `json:"owner_id"`
	ConversationIDs []string  `json:"conversation_ids"`
	Images          []string  `json:"images"`
	At              time.Time `json:"at"`
}

func (e ListingRemoved) EventName() string     { return "listing.removed" }
func (e ListingRemoved) AggregateID() string   { return e.ListingID }
func (e ListingRemoved) OccurredAt() time.Time { return e.At }
func (e ListingRemoved) ActorUID() string      { return e.OwnerID }
