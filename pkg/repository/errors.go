package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/docstore/pkg/codec"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// Error kinds surfaced by the repository. Match them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrEncode           = errors.New("encode error")
	ErrDecode           = errors.New("decode error")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCancelled        = errors.New("cancelled")
)

// Error is a classified repository failure.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind       error
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *Error) Error() string {
	target := e.Collection
	if e.ID != "" {
		target += "/" + e.ID
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, target, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind.
func (e *Error) Is(target error) bool { return e.Kind == target }

// Message is a human-readable description fit for end users. It never carries
// store-specific codes.
func (e *Error) Message() string {
	switch e.Kind {
	case ErrNotFound:
		return "The requested item does not exist."
	case ErrInvalidQuery:
		return "The request is invalid: " + detail(e.Err, query.ErrInvalidQuery)
	case ErrEncode:
		return "The data could not be saved: " + detail(e.Err, codec.ErrEncode)
	case ErrCancelled:
		return "The request was cancelled."
	default:
		return "The data service is currently unavailable. Please try again later."
	}
}

// detail strips the sentinel prefix from errors produced by this module's own
// validators.
func detail(err, sentinel error) string {
	if err == nil {
		return "unknown reason"
	}
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr.Message()
	}
	return (&Error{Kind: ErrStoreUnavailable}).Message()
}

// classify maps lower-layer errors onto the repository taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, query.ErrInvalidQuery):
		return ErrInvalidQuery
	case errors.Is(err, codec.ErrEncode):
		return ErrEncode
	case errors.Is(err, codec.ErrDecode):
		return ErrDecode
	default:
		// Timeouts, unavailability and unclassified store failures alike.
		return ErrStoreUnavailable
	}
}

func wrap(op, collection, id string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Collection: collection, ID: id, Err: err}
}
