// Package collect turns provider data into persisted records. Each Collector
// is one unit of work that the pipeline runs inside its own transaction.
package collect

import (
	"context"
	"time"

	"github.com/google/uuid"

	"metalwatch/internal/model"
	"metalwatch/internal/storage"
)

// Run identifies the collection pass a collector is working for.
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
}

// Outcome summarises a successful collector invocation.
type Outcome struct {
	Count   int
	Message string
	// Quotes carries the rows written by price collectors so they can be
	// published without re-reading the store.
	Quotes []model.Quote
}

// Collector is invoked once per run. A returned error means nothing it wrote
// should be committed.
type Collector interface {
	Name() string
	Collect(ctx context.Context, run Run, w storage.Writer) (Outcome, error)
}
