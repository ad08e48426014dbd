package connector

import (
	"context"
	"time"
)

// Record is one transformed document ready for the load stage. KeyField and
// KeyValue name the natural key the document is upserted by; a Record with an
// empty KeyValue has no natural key and is always inserted as new.
type Record struct {
	KeyField string
	KeyValue string
	Document any
}

// Source is the API-facing half of a connector: it fetches raw payloads and
// transforms them into records. Implementations keep fetching and transforming
// strictly separate so a transform can be replayed against a stored payload.
type Source interface {
	Name() string

	// Fetch performs the authenticated API call(s) and returns one raw JSON
	// payload per request made: a single element for plain GETs, one element
	// per page for paginated feeds.
	Fetch(ctx context.Context) ([][]byte, error)

	// Transform maps one raw payload onto zero or more records. It must be
	// pure: no I/O, no clock reads beyond the supplied timestamp, and
	// identical output for identical input.
	Transform(payload []byte, now time.Time) ([]Record, error)
}

// Store is the contract the MongoDB store (and any test double) must satisfy.
type Store interface {
	Insert(ctx context.Context, document any) error

	// Upsert replaces the document matching keyField=keyValue, inserting it
	// when none matches. It reports whether a new document was created.
	Upsert(ctx context.Context, keyField, keyValue string, document any) (bool, error)
}

// IngestedAtSetter is implemented by documents whose ingestion time is
// assigned at load time rather than by the transformer.
type IngestedAtSetter interface {
	SetIngestedAt(ts time.Time)
}
