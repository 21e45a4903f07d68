package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/bookqa/transcript"
)

// MongoStore implements transcript.Store using MongoDB
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns default MongoDB configuration
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "bookqa",
		Collection: "transcripts",
	}
}

// mongoRecord keeps the queryable fields as top-level keys and the complete
// record as a JSON payload.
type mongoRecord struct {
	ID        string    `bson:"_id"`
	Question  string    `bson:"question"`
	Response  string    `bson:"response"`
	Grounded  bool      `bson:"grounded"`
	Status    string    `bson:"status"`
	ErrorKind string    `bson:"error_kind,omitempty"`
	Payload   string    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore connects to MongoDB and ensures the created_at index.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}
	if _, err := store.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return store, nil
}

// Save implements transcript.Store.
func (s *MongoStore) Save(ctx context.Context, rec *transcript.Record) error {
	if err := transcript.Prepare(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	doc := mongoRecord{
		ID:        rec.ID,
		Question:  rec.Question,
		Response:  rec.Response,
		Grounded:  rec.Grounded,
		Status:    string(rec.Status),
		ErrorKind: rec.ErrorKind,
		Payload:   string(payload),
		CreatedAt: rec.CreatedAt,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save transcript to MongoDB: %w", err)
	}
	return nil
}

// Get implements transcript.Store.
func (s *MongoStore) Get(ctx context.Context, id string) (*transcript.Record, error) {
	var doc mongoRecord
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("transcript %s: %w", id, transcript.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return decodeRecord(doc.Payload)
}

// List implements transcript.Store.
func (s *MongoStore) List(ctx context.Context, limit int) ([]*transcript.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode transcripts: %w", err)
	}
	out := make([]*transcript.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeRecord(doc.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear removes all transcripts.
func (s *MongoStore) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear transcripts: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
