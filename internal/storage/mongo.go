package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/i474232898/etl-connectors/internal/connector"
)

// Config holds the MongoDB connection settings for one connector binary.
type Config struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Mongo writes documents into a single MongoDB collection. It satisfies
// connector.Store.
type Mongo struct {
	client       *mongo.Client
	coll         *mongo.Collection
	writeTimeout time.Duration
}

// Connect opens a client, pings the server to verify it is reachable, and
// binds to the configured collection. Failures surface as
// StorageConnectionError so a bad URI is distinguishable from a bad write.
func Connect(ctx context.Context, cfg Config) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &connector.StorageConnectionError{Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &connector.StorageConnectionError{Err: err}
	}

	return &Mongo{
		client:       client,
		coll:         client.Database(cfg.Database).Collection(cfg.Collection),
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

// Insert appends one new document.
func (m *Mongo) Insert(ctx context.Context, document any) error {
	opCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	if _, err := m.coll.InsertOne(opCtx, document); err != nil {
		return &connector.StorageWriteError{Collection: m.coll.Name(), Err: err}
	}
	return nil
}

// Upsert replaces the document whose keyField equals keyValue, inserting it
// when none matches. It reports whether a new document was created.
func (m *Mongo) Upsert(ctx context.Context, keyField, keyValue string, document any) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	res, err := m.coll.ReplaceOne(opCtx, bson.M{keyField: keyValue}, document, options.Replace().SetUpsert(true))
	if err != nil {
		return false, &connector.StorageWriteError{Collection: m.coll.Name(), Err: err}
	}
	return res.UpsertedCount > 0, nil
}

// EnsureNaturalKeyIndex creates a unique index on keyField so concurrent
// upserts cannot race two documents into the same key. Creating it again is a
// no-op.
func (m *Mongo) EnsureNaturalKeyIndex(ctx context.Context, keyField string) error {
	opCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	_, err := m.coll.Indexes().CreateOne(opCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: keyField, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return &connector.StorageConnectionError{Err: err}
	}
	return nil
}

// Close releases the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
