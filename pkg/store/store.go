// Package store defines the document store adapter contract.
//
// Adapters speak the document value model and validated queries; they never see
// entities. Every adapter-specific failure is translated into the sentinel errors
// below before it leaves the adapter.
package store

import (
	"context"
	"errors"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable wraps connectivity, permission and quota failures.
	ErrUnavailable = errors.New("store unavailable")
	// ErrCountUnsupported is returned by Count on stores without a native count.
	ErrCountUnsupported = errors.New("native count not supported")
	// ErrWatchUnsupported is returned by Watch on stores without a change stream.
	ErrWatchUnsupported = errors.New("change stream not supported")
	// ErrClosed is returned once the adapter has been closed.
	ErrClosed = errors.New("store adapter is closed")
)

// Capabilities describes optional adapter features.
type Capabilities struct {
	// NativeCount means Count runs without downloading documents.
	NativeCount bool
	// ChangeStream means Watch is supported.
	ChangeStream bool
	// StableOrder means unordered queries return documents in a stable order
	// (by id), so they can be paginated.
	StableOrder bool
}

// ChangeType classifies a change event.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change signals that one document of a collection changed. It carries no
// document body: consumers re-read whatever view they maintain.
type Change struct {
	Collection string
	ID         string
	Type       ChangeType
}

// Adapter is the contract every document store satisfies.
type Adapter interface {
	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (document.Document, error)
	// Find executes q and returns the matching documents in query order.
	Find(ctx context.Context, collection string, q *query.Query) ([]document.Document, error)
	// Count returns the number of documents matching q's filters, or
	// ErrCountUnsupported.
	Count(ctx context.Context, collection string, q *query.Query) (int64, error)
	// Put creates or replaces a document. An empty id asks the adapter to assign
	// one. The stored id is returned.
	Put(ctx context.Context, collection, id string, fields document.Map) (string, error)
	// Merge updates the given top-level fields of an existing document, leaving
	// the others untouched. Null values are stored as null.
	Merge(ctx context.Context, collection, id string, fields document.Map) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Watch streams change signals for a collection until ctx is cancelled, or
	// returns ErrWatchUnsupported.
	Watch(ctx context.Context, collection string) (<-chan Change, error)
	Capabilities() Capabilities
	HealthCheck(ctx context.Context) error
	Close() error
}

// IsUnavailable reports whether err is a store availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrClosed)
}
