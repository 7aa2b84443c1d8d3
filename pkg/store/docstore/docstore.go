// Package docstore defines the document-oriented persistence interface the
// graph engine writes through. Implementations must make Batch commits atomic:
// either every operation in the batch becomes visible or none do.
package docstore

import (
	"context"
	"errors"
)

// Collection names used by the engine.
const (
	CollectionEntities = "entities"
	CollectionEvents   = "events"
)

// ErrNotFound is returned by GetByID when no document exists, and by Commit
// when an update or delete targets a missing document.
var ErrNotFound = errors.New("document not found")

// ErrExists is returned by Commit when a create targets an id already present
// in the collection.
var ErrExists = errors.New("document already exists")

// Document is a stored JSON document together with its identifier.
type Document struct {
	ID   string
	Data []byte
}

// Store is a document-oriented database. Query results are ordered by
// document ID so repeated scans are deterministic.
type Store interface {
	// GetByID returns the document with the given id or ErrNotFound.
	GetByID(ctx context.Context, collection, id string) (*Document, error)

	// QueryByField returns every document whose top-level field equals value.
	QueryByField(ctx context.Context, collection, field, value string) ([]Document, error)

	// QueryByPrefix returns every document whose top-level field starts with prefix.
	QueryByPrefix(ctx context.Context, collection, field, prefix string) ([]Document, error)

	// List returns every document in the collection.
	List(ctx context.Context, collection string) ([]Document, error)

	// NewBatch starts an empty write batch.
	NewBatch() Batch
}

// Batch collects create/update/delete operations and commits them atomically.
// Operations are applied in the order they were added.
type Batch interface {
	Create(collection, id string, data any)
	Update(collection, id string, data any)
	Delete(collection, id string)

	// Len reports the number of queued operations.
	Len() int

	// Commit applies all queued operations in one atomic transaction.
	// On error nothing is applied and the batch may be committed again
	// after the cause is resolved.
	Commit(ctx context.Context) error
}
