package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lettz/internal/app/docstore"
)

var errNilHandler = errors.New("mongo: snapshot handler required")

func (s *Store) SubscribeUser(ctx context.Context, uid string, onSnapshot docstore.UserHandler, onError docstore.ErrorHandler) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, errNilHandler
	}
	return watchDocument(ctx, s.users, uid, userDocument.toDomain, onSnapshot, onError)
}

func (s *Store) SubscribeConversation(ctx context.Context, id string, onSnapshot docstore.ConversationHandler, onError docstore.ErrorHandler) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, errNilHandler
	}
	return watchDocument(ctx, s.conversations, id, conversationDocument.toDomain, onSnapshot, onError)
}

func (s *Store) SubscribeListing(ctx context.Context, id string, onSnapshot docstore.ListingHandler, onError docstore.ErrorHandler) (docstore.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, errNilHandler
	}
	return watchDocument(ctx, s.listings, id, listingDocument.toDomain, onSnapshot, onError)
}

type changeEvent[D any] struct {
	OperationType string `bson:"operationType"`
	FullDocument  *D     `bson:"fullDocument"`
}

type subscription struct {
	cancel     context.CancelFunc
	closed     atomic.Bool
	delivering atomic.Bool
	done       chan struct{}
	once       sync.Once
}

func (sub *subscription) stop() {
	sub.once.Do(func() {
		sub.closed.Store(true)
		sub.cancel()
	})
	// A handler that unsubscribes from inside its own callback cannot wait
	// for the loop it is running on.
	if !sub.delivering.Load() {
		<-sub.done
	}
}

// watchDocument opens a change stream filtered to one document, then reads its
// current state, so no write between the two is lost. The initial snapshot and
// every change are delivered on one goroutine in stream order. Cancelling ctx
// unsubscribes.
func watchDocument[D any, T any](
	ctx context.Context,
	col *mongo.Collection,
	id string,
	decode func(D) T,
	onSnapshot func(docstore.Snapshot[T]),
	onError docstore.ErrorHandler,
) (docstore.Unsubscribe, error) {
	ref := col.Name() + "/" + id
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": id}}}}
	streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := col.Watch(ctx, pipeline, streamOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", docstore.ErrSubscription, ref, err)
	}

	initial := docstore.Snapshot[T]{ID: id}
	var doc D
	switch err := col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); {
	case err == nil:
		initial.Exists = true
		initial.Data = decode(doc)
	case errors.Is(err, mongo.ErrNoDocuments):
	default:
		_ = stream.Close(context.Background())
		return nil, fmt.Errorf("%w: %s: %w", docstore.ErrSubscription, ref, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	deliver := func(fn func()) {
		if sub.closed.Load() {
			return
		}
		sub.delivering.Store(true)
		defer sub.delivering.Store(false)
		fn()
	}

	go func() {
		defer close(sub.done)
		defer stream.Close(context.Background())
		deliver(func() { onSnapshot(initial) })
		for stream.Next(streamCtx) {
			var ev changeEvent[D]
			if err := stream.Decode(&ev); err != nil {
				fail(sub, deliver, onError, fmt.Errorf("%w: %s: decode change: %w", docstore.ErrSubscription, ref, err))
				return
			}
			snap := docstore.Snapshot[T]{ID: id}
			switch ev.OperationType {
			case "insert", "update", "replace":
				if ev.FullDocument != nil {
					snap.Exists = true
					snap.Data = decode(*ev.FullDocument)
				}
			case "delete":
			default:
				fail(sub, deliver, onError, fmt.Errorf("%w: %s: stream %s", docstore.ErrSubscription, ref, ev.OperationType))
				return
			}
			deliver(func() { onSnapshot(snap) })
		}
		if sub.closed.Load() {
			return
		}
		err := stream.Err()
		if err == nil {
			err = errors.New("stream ended")
		}
		fail(sub, deliver, onError, fmt.Errorf("%w: %s: %w", docstore.ErrSubscription, ref, err))
	}()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.stop()
			case <-sub.done:
			}
		}()
	}
	return sub.stop, nil
}

func fail(sub *subscription, deliver func(func()), onError docstore.ErrorHandler, err error) {
	if onError != nil {
		deliver(func() { onError(err) })
	}
	sub.once.Do(func() {
		sub.closed.Store(true)
		sub.cancel()
	})
}
