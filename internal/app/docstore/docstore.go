// Package docstore is the typed port the engine uses to reach the document
// backend. Adapters translate backend documents into domain records at this
// boundary; nothing behind it sees untyped maps.
package docstore

import (
	"context"
	"errors"
	"time"

	"lettz/internal/domain/conversation"
	"lettz/internal/domain/listings"
	"lettz/internal/domain/user"
)

var (
	// ErrNotFound marks an absent document. Callers treat it as empty state.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrBatch wraps every failed atomic batch; nothing of the batch was applied.
	ErrBatch = errors.New("docstore: batch failed")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchOps.
	ErrBatchTooLarge = errors.New("docstore: batch exceeds maximum operation count")
	// ErrSubscription marks a change stream torn down by the backend.
	ErrSubscription = errors.New("docstore: subscription failed")
	// ErrNotParticipant is returned by watermark writes for non-members.
	ErrNotParticipant = errors.New("docstore: user is not a participant")
	ErrAlreadyExists  = errors.New("docstore: document already exists")
	// ErrPrecondition fails a batch whose guard no longer holds.
	ErrPrecondition = errors.New("docstore: batch precondition failed")
)

// DefaultMaxBatchOps mirrors the operation limit of hosted document stores.
const DefaultMaxBatchOps = 500

// Snapshot is one observed state of a document. Exists is false once the
// document is deleted or when it never existed.
type Snapshot[T any] struct {
	ID     string
	Exists bool
	Data   T
}

// Unsubscribe stops a subscription. After it returns no further callbacks run.
type Unsubscribe func()

type (
	UserHandler         func(Snapshot[user.User])
	ConversationHandler func(Snapshot[conversation.Conversation])
	ListingHandler      func(Snapshot[listings.Listing])
	ErrorHandler        func(error)
)

// Reader covers point reads and queries.
type Reader interface {
	GetUser(ctx context.Context, uid string) (*user.User, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	GetListing(ctx context.Context, id string) (*listings.Listing, error)
	ConversationsByListing(ctx context.Context, listingID string) ([]conversation.Conversation, error)
	ConversationsByIDs(ctx context.Context, ids []string) ([]conversation.Conversation, error)
}

// Watcher registers push-based change subscriptions. Snapshots of one document
// arrive in write order; there is no ordering across documents.
type Watcher interface {
	SubscribeUser(ctx context.Context, uid string, onSnapshot UserHandler, onError ErrorHandler) (Unsubscribe, error)
	SubscribeConversation(ctx context.Context, id string, onSnapshot ConversationHandler, onError ErrorHandler) (Unsubscribe, error)
	SubscribeListing(ctx context.Context, id string, onSnapshot ListingHandler, onError ErrorHandler) (Unsubscribe, error)
}

// BatchWriter commits multi-document mutations atomically.
type BatchWriter interface {
	Commit(ctx context.Context, batch Batch) error
	MaxBatchOps() int
}

// MessageWriter holds the two single-document writes with server timestamps.
type MessageWriter interface {
	// AppendMessage appends msg to the log and overwrites lastMessage with its text
	// and a server timestamp in one atomic write. lastMessage.timestamp never
	// decreases. The stored message is returned.
	AppendMessage(ctx context.Context, conversationID string, msg conversation.Message) (conversation.Message, error)
	// AdvanceLastRead sets lastRead[uid] to the server time unless the stored
	// watermark is already newer, and returns the resulting watermark.
	AdvanceLastRead(ctx context.Context, conversationID, uid string) (time.Time, error)
}

// Store is the full adapter.
type Store interface {
	Reader
	Watcher
	BatchWriter
	MessageWriter
	Ping(ctx context.Context) error
}

// IsNotFound reports whether err marks an absent document in any layer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, user.ErrNotFound) ||
		errors.Is(err, conversation.ErrNotFound) ||
		errors.Is(err, listings.ErrNotFound)
}
