// Package memory is the cross-run repair memory: an authoritative
// append-only store of MemoryEntry records and an optional secondary index
// whose failures never affect a run.
package memory

import (
	"context"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// Store is the authoritative, append-only tier.
type Store interface {
	// Append persists entries in one batch. Entries are never rewritten.
	Append(ctx context.Context, entries []*models.MemoryEntry) error
	// Load returns every readable entry in write order, skipping records
	// that cannot be parsed.
	Load(ctx context.Context) ([]*models.MemoryEntry, error)
}

// Index is the optional secondary tier, keyed by ContentKey.
type Index interface {
	// Put stores e unless an entry with the same content key exists.
	Put(ctx context.Context, e *models.MemoryEntry) error
	// Search returns up to limit entries related to query.
	Search(ctx context.Context, query string, limit int) ([]*models.MemoryEntry, error)
	Close() error
}
