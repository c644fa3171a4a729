// Package mongodb stores pending requests as MongoDB documents keyed by their numeric id.
// Ids come from a counters collection incremented with findOneAndUpdate, so they
// stay monotonic across processes sharing the database.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
)

const (
	backend = "mongodb"

	// CountersCollection holds one sequence document per queue collection.
	CountersCollection = "alioli_counters"
	// DefaultCollection is used when the configuration names none.
	DefaultCollection = "alioli_http_request"

	defaultConnectionTimeout = 10 * time.Second
)

var (
	connectMongoDB = func(opts *options.ClientOptions) (*mongo.Client, error) {
		return mongo.Connect(opts)
	}
	pingMongoDB = func(ctx context.Context, client *mongo.Client) error {
		return client.Ping(ctx, readpref.Primary())
	}
)

type bodyDocument struct {
	Content     string `bson:"content"`
	ContentType string `bson:"content_type,omitempty"`
}

type document struct {
	ID         int64         `bson:"_id"`
	Method     string        `bson:"method"`
	URL        string        `bson:"url"`
	Body       *bodyDocument `bson:"body,omitempty"`
	Headers    string        `bson:"headers"`
	ValidUntil int64         `bson:"valid_until"`
}

type counter struct {
	Seq int64 `bson:"seq"`
}

// Store implements queue.Store on a MongoDB collection.
type Store struct {
	client     *mongo.Client
	requests   *mongo.Collection
	counters   *mongo.Collection
	counterKey string
	logger     logger.Logger
}

var (
	_ queue.Store  = (*Store)(nil)
	_ queue.Closer = (*Store)(nil)
)

// New uses collection in db. An empty collection name selects DefaultCollection.
func New(db *mongo.Database, collection string, log logger.Logger) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		client:     db.Client(),
		requests:   db.Collection(collection),
		counters:   db.Collection(CountersCollection),
		counterKey: collection,
		logger:     log,
	}
}

// Open connects with cfg.URI and verifies the connection.
func Open(ctx context.Context, cfg *config.MongoConfig, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	client, err := connectMongoDB(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectionTimeout)
	defer cancel()
	if err := pingMongoDB(pingCtx, client); err != nil {
		if closeErr := client.Disconnect(ctx); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to disconnect MongoDB client after ping failure")
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := New(client.Database(cfg.Database), cfg.Collection, log)
	log.Info().
		Str("database", cfg.Database).
		Str("collection", store.counterKey).
		Msg("Connected queue store to MongoDB")
	return store, nil
}

func (s *Store) nextID(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var c counter
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: s.counterKey}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		opts,
	).Decode(&c)
	if err != nil {
		return 0, err
	}
	return c.Seq, nil
}

func (s *Store) Insert(ctx context.Context, req *queue.PendingRequest) (int64, error) {
	if err := queue.Validate(req); err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}
	doc, err := toDocument(req)
	if err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}
	doc.ID = id

	if _, err := s.requests.InsertOne(ctx, doc); err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}

	s.logger.Debug().Int64("id", id).Msg("Stored pending request")
	return id, nil
}

func (s *Store) List(ctx context.Context) ([]*queue.PendingRequest, error) {
	cursor, err := s.requests.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, queue.NewStoreError(queue.OpList, backend, err)
	}

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, queue.NewStoreError(queue.OpList, backend, err)
	}

	out := make([]*queue.PendingRequest, 0, len(docs))
	for i := range docs {
		req, decodeErr := fromDocument(&docs[i])
		if decodeErr != nil {
			s.logger.Warn().Err(decodeErr).Int64("id", docs[i].ID).Msg("Stored headers are malformed, treating as empty")
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.requests.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return queue.NewStoreError(queue.OpDelete, backend, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.requests.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, queue.NewStoreError(queue.OpCount, backend, err)
	}
	return int(n), nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toDocument(req *queue.PendingRequest) (*document, error) {
	encoded, err := headers.Encode(req.Headers)
	if err != nil {
		return nil, err
	}
	doc := &document{
		Method:     req.Method,
		URL:        req.URL,
		Headers:    encoded,
		ValidUntil: req.ValidUntil,
	}
	if req.Body != nil {
		doc.Body = &bodyDocument{Content: req.Body.Content, ContentType: req.Body.ContentType}
	}
	return doc, nil
}

// fromDocument always returns a usable request; a header decode failure is
// reported alongside an empty header list.
func fromDocument(doc *document) (*queue.PendingRequest, error) {
	req := &queue.PendingRequest{
		ID:         doc.ID,
		Method:     doc.Method,
		URL:        doc.URL,
		ValidUntil: doc.ValidUntil,
	}
	if doc.Body != nil {
		req.Body = &queue.Body{Content: doc.Body.Content, ContentType: doc.Body.ContentType}
	}
	hs, err := headers.Decode(doc.Headers)
	if err != nil {
		req.Headers = []headers.Header{}
		return req, err
	}
	req.Headers = hs
	return req, nil
}
