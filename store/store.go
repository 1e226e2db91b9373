// Package store provides the durable record layer beneath the vector index.
//
// A Store keeps the full payload of every indexed entry, keyed by namespace
// and caller-assigned ID. The graph layer only holds vectors and internal
// node IDs; everything needed to reconstruct or re-rank a result lives here.
package store

import (
	"context"
	"time"

	"github.com/hupe1980/semcache/schema"
)

// Record is the payload of one indexed entry.
type Record struct {
	// ID is the caller-assigned identifier, unique within a namespace.
	ID string `json:"id"`

	// Vector is the embedding the entry was indexed under.
	Vector []float32 `json:"vector"`

	// Content is the primary text payload (question, chunk, ...).
	Content string `json:"content"`

	// Attrs holds typed attributes validated against the namespace schema.
	Attrs schema.Attributes `json:"attrs,omitempty"`

	// CreatedAt is set on first write and preserved across overwrites
	// of the same ID.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists records per namespace. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes a record, overwriting any existing record with the same ID.
	Put(ctx context.Context, namespace string, rec Record) error

	// Get retrieves a record. The bool reports whether it exists.
	Get(ctx context.Context, namespace, id string) (Record, bool, error)

	// Delete removes a record. The bool reports whether it existed.
	Delete(ctx context.Context, namespace, id string) (bool, error)

	// List returns all records of a namespace in unspecified order.
	List(ctx context.Context, namespace string) ([]Record, error)

	// Len returns the number of records in a namespace.
	Len(ctx context.Context, namespace string) (int, error)
}
