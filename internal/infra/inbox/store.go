// Package inbox records which broker deliveries a consumer has handled.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Retention bounds how long a handled event id is remembered. Kafka retention
// for the listing topics is shorter, so nothing older can be redelivered.
const Retention = 30 * 24 * time.Hour

var ErrEventIDRequired = errors.New("inbox: event id is required")

// Store is the Mongo app_inbox collection. Documents are keyed by consumer and
// event id, so two consumer groups may handle the same event independently.
type Store struct {
	col      *mongo.Collection
	consumer string
	now      func() time.Time
}

func NewStore(ctx context.Context, db *mongo.Database, consumer string) (*Store, error) {
	col := db.Collection("app_inbox")
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "received_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(Retention.Seconds())),
	}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("inbox: create index: %w", err)
	}
	return &Store{col: col, consumer: consumer, now: time.Now}, nil
}

type entry struct {
	ID         string    `bson:"_id"`
	EventID    string    `bson:"event_id"`
	Consumer   string    `bson:"consumer"`
	ReceivedAt time.Time `bson:"received_at"`
}

func (s *Store) key(eventID string) string {
	return s.consumer + "/" + eventID
}

// Seen records eventID and reports whether it had been recorded before.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, ErrEventIDRequired
	}
	doc := entry{ID: s.key(eventID), EventID: eventID, Consumer: s.consumer, ReceivedAt: s.now().UTC()}
	_, err := s.col.InsertOne(ctx, doc)
	switch {
	case err == nil:
		return false, nil
	case mongo.IsDuplicateKeyError(err):
		return true, nil
	default:
		return false, fmt.Errorf("inbox: record %s: %w", eventID, err)
	}
}

// Forget removes eventID so a redelivery is handled again.
func (s *Store) Forget(ctx context.Context, eventID string) error {
	if eventID == "" {
		return ErrEventIDRequired
	}
	if _, err := s.col.DeleteOne(ctx, bson.M{"_id": s.key(eventID)}); err != nil {
		return fmt.Errorf("inbox: forget %s: %w", eventID, err)
	}
	return nil
}
