package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/i474232898/etl-connectors/internal/connector"
)

// testStore connects to the server named by MONGO_TEST_URI, binding to a
// per-test collection that is dropped on cleanup.
func testStore(t *testing.T) *Mongo {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set; skipping MongoDB integration tests")
	}

	m, err := Connect(context.Background(), Config{
		URI:            uri,
		Database:       "etl_connectors_test",
		Collection:     fmt.Sprintf("docs_%d", time.Now().UnixNano()),
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.coll.Drop(ctx)
		_ = m.Close(ctx)
	})
	return m
}

func TestConnectUnreachableServer(t *testing.T) {
	_, err := Connect(context.Background(), Config{
		URI:            "mongodb://127.0.0.1:1",
		Database:       "nope",
		Collection:     "nope",
		ConnectTimeout: 500 * time.Millisecond,
		WriteTimeout:   time.Second,
	})

	var connErr *connector.StorageConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestInsertAppendsDocuments(t *testing.T) {
	m := testStore(t)
	ctx := context.Background()

	require.NoError(t, m.Insert(ctx, bson.M{"city": "Chennai", "run": 1}))
	require.NoError(t, m.Insert(ctx, bson.M{"city": "Chennai", "run": 2}))

	n, err := m.coll.CountDocuments(ctx, bson.M{"city": "Chennai"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "inserts must append, not replace")
}

func TestUpsertReplacesByNaturalKey(t *testing.T) {
	m := testStore(t)
	ctx := context.Background()

	created, err := m.Upsert(ctx, "pulse_id", "p1", bson.M{"pulse_id": "p1", "name": "first"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.Upsert(ctx, "pulse_id", "p1", bson.M{"pulse_id": "p1", "name": "second"})
	require.NoError(t, err)
	assert.False(t, created)

	n, err := m.coll.CountDocuments(ctx, bson.M{"pulse_id": "p1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var doc bson.M
	require.NoError(t, m.coll.FindOne(ctx, bson.M{"pulse_id": "p1"}).Decode(&doc))
	assert.Equal(t, "second", doc["name"])
}

func TestEnsureNaturalKeyIndexIdempotent(t *testing.T) {
	m := testStore(t)
	ctx := context.Background()

	require.NoError(t, m.EnsureNaturalKeyIndex(ctx, "pulse_id"))
	require.NoError(t, m.EnsureNaturalKeyIndex(ctx, "pulse_id"))
}
