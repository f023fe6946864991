package docstore

import (
	"fmt"

	"lettz/internal/domain/conversation"
	"lettz/internal/domain/user"
)

// Collection names shared by every adapter.
const (
	CollectionUsers         = "users"
	CollectionConversations = "conversations"
	CollectionListings      = "listings"
)

// Ref addresses a document.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Mutation is one typed write inside a batch.
type Mutation interface {
	Target() Ref
	Describe() string
}

// CreateConversation inserts a new conversation. The store stamps CreatedAt,
// LastMessage.Timestamp and every message timestamp with server time.
type CreateConversation struct {
	Conversation conversation.Conversation
}

func (m CreateConversation) Target() Ref {
	return Ref{Collection: CollectionConversations, ID: m.Conversation.ID}
}
func (m CreateConversation) Describe() string { return "create " + m.Target().String() }

type DeleteConversation struct {
	ConversationID string
}

func (m DeleteConversation) Target() Ref {
	return Ref{Collection: CollectionConversations, ID: m.ConversationID}
}
func (m DeleteConversation) Describe() string { return "delete " + m.Target().String() }

type DeleteListing struct {
	ListingID string
}

func (m DeleteListing) Target() Ref      { return Ref{Collection: CollectionListings, ID: m.ListingID} }
func (m DeleteListing) Describe() string { return "delete " + m.Target().String() }

// AddConversationRef is a merge-write union into users/{uid}.conversationIDs.
// A missing user document is created.
type AddConversationRef struct {
	UID            string
	ConversationID string
}

func (m AddConversationRef) Target() Ref { return Ref{Collection: CollectionUsers, ID: m.UID} }
func (m AddConversationRef) Describe() string {
	return fmt.Sprintf("add %s to %s.conversationIDs", m.ConversationID, m.Target())
}

// RemoveConversationRef removes an id from users/{uid}.conversationIDs. A
// missing user document is left untouched.
type RemoveConversationRef struct {
	UID            string
	ConversationID string
}

func (m RemoveConversationRef) Target() Ref { return Ref{Collection: CollectionUsers, ID: m.UID} }
func (m RemoveConversationRef) Describe() string {
	return fmt.Sprintf("remove %s from %s.conversationIDs", m.ConversationID, m.Target())
}

// RemoveListingRef removes an id from users/{uid}.listings.
type RemoveListingRef struct {
	UID       string
	ListingID string
}

func (m RemoveListingRef) Target() Ref { return Ref{Collection: CollectionUsers, ID: m.UID} }
func (m RemoveListingRef) Describe() string {
	return fmt.Sprintf("remove %s from %s.listings", m.ListingID, m.Target())
}

// MergeNotifications replaces users/{uid}.notifications without touching any
// sibling field. A missing user document is created.
type MergeNotifications struct {
	UID           string
	Notifications user.Notifications
}

func (m MergeNotifications) Target() Ref { return Ref{Collection: CollectionUsers, ID: m.UID} }
func (m MergeNotifications) Describe() string {
	return "merge " + m.Target().String() + ".notifications"
}

// Guard is a mutation that writes nothing visible and fails the batch when
// its condition does not hold at commit time.
type Guard interface {
	Mutation
	guard()
}

// RequireListing fails the batch with ErrNotFound when the listing is gone.
// Adapters without serialized commits must register a write on the listing
// so that a concurrent DeleteListing conflicts with the batch.
type RequireListing struct {
	ListingID string
}

func (m RequireListing) Target() Ref      { return Ref{Collection: CollectionListings, ID: m.ListingID} }
func (m RequireListing) Describe() string { return "require " + m.Target().String() }
func (RequireListing) guard()             {}

// RequireNoConversations fails the batch with ErrPrecondition when any
// conversation still references the listing once the mutations before it
// have been applied.
type RequireNoConversations struct {
	ListingID string
}

func (m RequireNoConversations) Target() Ref {
	return Ref{Collection: CollectionListings, ID: m.ListingID}
}
func (m RequireNoConversations) Describe() string {
	return "require no conversations on " + m.Target().String()
}
func (RequireNoConversations) guard() {}

// Batch is an ordered set of mutations committed all-or-nothing.
type Batch struct {
	Mutations []Mutation
}

func (b *Batch) Add(m ...Mutation) {
	b.Mutations = append(b.Mutations, m...)
}

func (b Batch) Len() int { return len(b.Mutations) }

// Refs lists the distinct documents the batch writes, in first-touch order.
// Guards are left out.
func (b Batch) Refs() []Ref {
	seen := make(map[Ref]struct{}, len(b.Mutations))
	out := make([]Ref, 0, len(b.Mutations))
	for _, m := range b.Mutations {
		if _, ok := m.(Guard); ok {
			continue
		}
		ref := m.Target()
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// BatchError carries the backend cause of a failed batch.
type BatchError struct {
	Ops   int
	Cause error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("docstore: batch of %d ops failed: %v", e.Ops, e.Cause)
}

func (e *BatchError) Unwrap() []error { return []error{ErrBatch, e.Cause} }
