// Package pagination turns a query, a page size and an optional cursor into a
// bounded window of documents plus the cursor of the next window.
package pagination

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// ErrUnordered is returned when paging a query without order keys on a store
// whose natural order is not stable.
var ErrUnordered = fmt.Errorf("%w: pagination requires an order", query.ErrInvalidQuery)

// Page is one cursor-paged window.
type Page struct {
	Documents []document.Document
	// HasNext is true when the page is full. A full last page yields one extra
	// empty page.
	HasNext bool
	// HasPrev is only known to a Navigator; the engine alone reports false.
	HasPrev bool
	// NextCursor resumes after the last document. Empty when the page is empty.
	NextCursor string
}

// NumberedPage is one offset-paged window with exact totals.
type NumberedPage struct {
	Documents  []document.Document
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// Engine pages queries against a store adapter.
type Engine struct {
	adapter store.Adapter
	logger  logger.Logger
	maxSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxPageSize caps the accepted page size. Zero means no cap.
func WithMaxPageSize(n int) Option {
	return func(e *Engine) { e.maxSize = n }
}

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.logger = log
		}
	}
}

// NewEngine returns an engine reading through adapter.
func NewEngine(adapter store.Adapter, opts ...Option) *Engine {
	e := &Engine{adapter: adapter, logger: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) validSize(pageSize int) error {
	if pageSize < 1 {
		return fmt.Errorf("%w: page size must be at least 1, got %d", query.ErrInvalidQuery, pageSize)
	}
	if e.maxSize > 0 && pageSize > e.maxSize {
		return fmt.Errorf("%w: page size %d exceeds maximum %d", query.ErrInvalidQuery, pageSize, e.maxSize)
	}
	return nil
}

func (e *Engine) prepare(opts query.Options, pageSize int) (*query.Query, error) {
	if err := e.validSize(pageSize); err != nil {
		return nil, err
	}
	// The page size replaces any limit in opts.
	opts.Limit = nil
	q, err := query.Build(opts)
	if err != nil {
		return nil, err
	}
	if !q.Ordered() && !e.adapter.Capabilities().StableOrder {
		return nil, ErrUnordered
	}
	return q, nil
}

// Page reads up to pageSize documents of collection matching opts, resuming
// after cursor when it is not empty. A cursor taken from a different query is
// rejected. A cursor whose document has since been deleted still resumes at the
// position it recorded.
func (e *Engine) Page(ctx context.Context, collection string, opts query.Options, pageSize int, cursor string) (*Page, error) {
	q, err := e.prepare(opts, pageSize)
	if err != nil {
		return nil, err
	}
	if cursor != "" {
		c, err := query.ParseCursor(cursor)
		if err != nil {
			return nil, err
		}
		if q, err = q.StartAfter(c); err != nil {
			return nil, err
		}
	}

	docs, err := e.adapter.Find(ctx, collection, q.WithLimit(pageSize))
	if err != nil {
		return nil, err
	}
	page := &Page{Documents: docs, HasNext: len(docs) == pageSize}
	if len(docs) > 0 {
		page.NextCursor = query.CursorAt(q, docs[len(docs)-1]).Encode()
	}
	e.logger.Debug("page read", "collection", collection, "size", pageSize, "returned", len(docs), "has_next", page.HasNext)
	return page, nil
}

// PageNumber reads the 1-based page of collection using offsets, with the total
// match count. Stores without a native count fall back to counting the
// downloaded result.
func (e *Engine) PageNumber(ctx context.Context, collection string, opts query.Options, page, pageSize int) (*NumberedPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1, got %d", query.ErrInvalidQuery, page)
	}
	q, err := e.prepare(opts, pageSize)
	if err != nil {
		return nil, err
	}

	total, err := Count(ctx, e.adapter, collection, q, e.logger)
	if err != nil {
		return nil, err
	}
	docs, err := e.adapter.Find(ctx, collection, q.WithOffset((page-1)*pageSize).WithLimit(pageSize))
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &NumberedPage{
		Documents:  docs,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

// Count returns the number of documents matching q, using the store's native
// count when it has one and downloading the matches otherwise (O(n)).
func Count(ctx context.Context, adapter store.Adapter, collection string, q *query.Query, log logger.Logger) (int64, error) {
	countQuery := q.WithLimit(0).WithOffset(0)
	n, err := adapter.Count(ctx, collection, countQuery)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, store.ErrCountUnsupported) {
		return 0, err
	}
	if log != nil {
		log.Debug("native count unavailable, counting downloaded documents", "collection", collection)
	}
	docs, err := adapter.Find(ctx, collection, countQuery)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}
