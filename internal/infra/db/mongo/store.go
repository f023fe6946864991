package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lettz/internal/app/docstore"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

var errInvalidUID = errors.New("mongo: uid may not contain '.' or start with '$'")

// Store is the docstore adapter backed by MongoDB. Batches run inside a
// transaction, so the deployment must be a replica set.
type Store struct {
	db            *mongo.Database
	users         *mongo.Collection
	conversations *mongo.Collection
	listings      *mongo.Collection
	maxOps        int
	now           func() time.Time
}

type StoreOption func(*Store)

func WithMaxBatchOps(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxOps = n
		}
	}
}

// NewStore wires the three collections and creates their indexes.
func NewStore(ctx context.Context, db *mongo.Database, opts ...StoreOption) (*Store, error) {
	s := &Store{
		db:            db,
		users:         db.Collection(docstore.CollectionUsers),
		conversations: db.Collection(docstore.CollectionConversations),
		listings:      db.Collection(docstore.CollectionListings),
		maxOps:        docstore.DefaultMaxBatchOps,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "listing_id", Value: 1}}},
		{Keys: bson.D{{Key: "participants.uid", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: conversation indexes: %w", err)
	}
	_, err = s.listings.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "owner", Value: 1}}})
	if err != nil {
		return fmt.Errorf("mongo: listing indexes: %w", err)
	}
	return nil
}

func (s *Store) MaxBatchOps() int {
	return s.maxOps
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

func (s *Store) GetUser(ctx context.Context, uid string) (*domainuser.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, bson.M{"_id": uid}).Decode(&doc); err != nil {
		return nil, lookupError(err, docstore.CollectionUsers, uid)
	}
	u := doc.toDomain()
	return &u, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domainconversation.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, lookupError(err, docstore.CollectionConversations, id)
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) GetListing(ctx context.Context, id string) (*domainlistings.Listing, error) {
	var doc listingDocument
	if err := s.listings.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, lookupError(err, docstore.CollectionListings, id)
	}
	l := doc.toDomain()
	return &l, nil
}

func (s *Store) ConversationsByListing(ctx context.Context, listingID string) ([]domainconversation.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.conversations.Find(ctx, bson.M{"listing_id": listingID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainconversation.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// ConversationsByIDs skips ids that no longer exist and keeps the input order.
func (s *Store) ConversationsByIDs(ctx context.Context, ids []string) ([]domainconversation.Conversation, error) {
	if len(ids) == 0 {
		return []domainconversation.Conversation{}, nil
	}
	cur, err := s.conversations.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return orderByIDs(ids, docs), nil
}

func orderByIDs(ids []string, docs []conversationDocument) []domainconversation.Conversation {
	byID := make(map[string]conversationDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]domainconversation.Conversation, 0, len(docs))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if _, dup := seen[id]; !ok || dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, d.toDomain())
	}
	return out
}

// Commit runs the batch in one transaction. Every server timestamp written by
// the batch is the same instant.
func (s *Store) Commit(ctx context.Context, batch docstore.Batch) error {
	if batch.Len() > s.maxOps {
		return &docstore.BatchError{
			Ops:   batch.Len(),
			Cause: fmt.Errorf("%w: %d > %d", docstore.ErrBatchTooLarge, batch.Len(), s.maxOps),
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return &docstore.BatchError{Ops: batch.Len(), Cause: err}
	}
	defer sess.EndSession(ctx)

	now := s.now().UTC().Truncate(time.Millisecond)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, m := range batch.Mutations {
			if err := s.apply(sc, m, now); err != nil {
				return nil, fmt.Errorf("%s: %w", m.Describe(), err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return &docstore.BatchError{Ops: batch.Len(), Cause: err}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m docstore.Mutation, now time.Time) error {
	switch op := m.(type) {
	case docstore.CreateConversation:
		if strings.TrimSpace(op.Conversation.ID) == "" {
			return domainconversation.ErrIDRequired
		}
		_, err := s.conversations.InsertOne(ctx, newConversationDocument(op.Conversation, now))
		if mongo.IsDuplicateKeyError(err) {
			return docstore.ErrAlreadyExists
		}
		return err
	case docstore.DeleteConversation:
		_, err := s.conversations.DeleteOne(ctx, bson.M{"_id": op.ConversationID})
		return err
	case docstore.DeleteListing:
		_, err := s.listings.DeleteOne(ctx, bson.M{"_id": op.ListingID})
		return err
	case docstore.AddConversationRef:
		if op.UID == "" {
			return domainuser.ErrIDRequired
		}
		update := bson.M{
			"$addToSet":    bson.M{"conversation_ids": op.ConversationID},
			"$setOnInsert": bson.M{"listings": bson.A{}},
		}
		_, err := s.users.UpdateByID(ctx, op.UID, update, options.Update().SetUpsert(true))
		return err
	case docstore.RemoveConversationRef:
		_, err := s.users.UpdateByID(ctx, op.UID, bson.M{"$pull": bson.M{"conversation_ids": op.ConversationID}})
		return err
	case docstore.RemoveListingRef:
		_, err := s.users.UpdateByID(ctx, op.UID, bson.M{"$pull": bson.M{"listings": op.ListingID}})
		return err
	case docstore.MergeNotifications:
		if op.UID == "" {
			return domainuser.ErrIDRequired
		}
		update := bson.M{
			"$set":         bson.M{"notifications": notificationFields(op.Notifications)},
			"$setOnInsert": bson.M{"conversation_ids": bson.A{}, "listings": bson.A{}},
		}
		_, err := s.users.UpdateByID(ctx, op.UID, update, options.Update().SetUpsert(true))
		return err
	case docstore.RequireListing:
		// A write, not a read, so a concurrent delete aborts one of the two
		// transactions with a write conflict.
		res, err := s.listings.UpdateByID(ctx, op.ListingID, bson.M{"$currentDate": bson.M{"guarded_at": true}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return notFound(docstore.CollectionListings, op.ListingID)
		}
		return nil
	case docstore.RequireNoConversations:
		n, err := s.conversations.CountDocuments(ctx, bson.M{"listing_id": op.ListingID}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: listing %s still has conversations", docstore.ErrPrecondition, op.ListingID)
		}
		return nil
	default:
		return fmt.Errorf("mongo: unsupported mutation %T", m)
	}
}

// AppendMessage pushes msg and rewrites last_message in one pipeline update.
// The stamp is the later of the server clock and the stored last_message
// timestamp, so it never goes backwards.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg domainconversation.Message) (domainconversation.Message, error) {
	filter := bson.M{"_id": conversationID, "participants.uid": msg.Sender}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"last_message": 1})

	var doc conversationDocument
	err := s.conversations.FindOneAndUpdate(ctx, filter, appendPipeline(msg), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domainconversation.Message{}, s.missOrNotParticipant(ctx, conversationID)
	}
	if err != nil {
		return domainconversation.Message{}, err
	}
	msg.Timestamp = doc.LastMessage.Timestamp.UTC()
	return msg, nil
}

func appendPipeline(msg domainconversation.Message) mongo.Pipeline {
	stored := bson.D{
		{Key: "sender", Value: bson.M{"$literal": msg.Sender}},
		{Key: "text", Value: bson.M{"$literal": msg.Text}},
		{Key: "local_timestamp", Value: bson.M{"$literal": msg.LocalTimestamp}},
		{Key: "timestamp", Value: "$_stamp"},
	}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"_stamp": bson.M{"$max": bson.A{"$$NOW", "$last_message.timestamp"}}}}},
		{{Key: "$set", Value: bson.D{
			{Key: "messages", Value: bson.M{"$concatArrays": bson.A{bson.M{"$ifNull": bson.A{"$messages", bson.A{}}}, bson.A{stored}}}},
			{Key: "last_message", Value: bson.D{
				{Key: "text", Value: bson.M{"$literal": msg.Text}},
				{Key: "timestamp", Value: "$_stamp"},
			}},
		}}},
		{{Key: "$unset", Value: "_stamp"}},
	}
}

// AdvanceLastRead moves last_read.<uid> to the server clock unless it is
// already later.
func (s *Store) AdvanceLastRead(ctx context.Context, conversationID, uid string) (time.Time, error) {
	if strings.Contains(uid, ".") || strings.HasPrefix(uid, "$") {
		return time.Time{}, errInvalidUID
	}
	field := "last_read." + uid
	filter := bson.M{"_id": conversationID, "participants.uid": uid}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{field: bson.M{"$max": bson.A{"$" + field, "$$NOW"}}}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"last_read": 1})

	var doc conversationDocument
	err := s.conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, s.missOrNotParticipant(ctx, conversationID)
	}
	if err != nil {
		return time.Time{}, err
	}
	return doc.LastRead[uid].UTC(), nil
}

func (s *Store) missOrNotParticipant(ctx context.Context, conversationID string) error {
	n, err := s.conversations.CountDocuments(ctx, bson.M{"_id": conversationID}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(docstore.CollectionConversations, conversationID)
	}
	return docstore.ErrNotParticipant
}

// PutUser replaces the whole user document. Used for seeding.
func (s *Store) PutUser(ctx context.Context, u domainuser.User) error {
	if u.UID == "" {
		return domainuser.ErrIDRequired
	}
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.UID}, newUserDocument(u), options.Replace().SetUpsert(true))
	return err
}

// PutConversation stores c with the timestamps it carries.
func (s *Store) PutConversation(ctx context.Context, c domainconversation.Conversation) error {
	if c.ID == "" {
		return domainconversation.ErrIDRequired
	}
	doc := newConversationDocument(c, c.CreatedAt)
	for i, m := range c.Messages {
		doc.Messages[i].Timestamp = m.Timestamp
	}
	doc.LastMessage = lastMessageDocument{Text: c.LastMessage.Text, Timestamp: c.LastMessage.Timestamp}
	doc.LastRead = make(map[string]time.Time, len(c.LastRead))
	for uid, ts := range c.LastRead {
		doc.LastRead[uid] = ts
	}
	_, err := s.conversations.ReplaceOne(ctx, bson.M{"_id": c.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) PutListing(ctx context.Context, l domainlistings.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := s.listings.ReplaceOne(ctx, bson.M{"_id": l.ID}, newListingDocument(l), options.Replace().SetUpsert(true))
	return err
}

func lookupError(err error, collection, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notFound(collection, id)
	}
	return fmt.Errorf("mongo: read %s/%s: %w", collection, id, err)
}

func notFound(collection, id string) error {
	return fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
}
