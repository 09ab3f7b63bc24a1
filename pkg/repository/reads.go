package repository

import (
	"context"

	"github.com/nimburion/docstore/pkg/observability/tracing"
	"github.com/nimburion/docstore/pkg/pagination"
	"github.com/nimburion/docstore/pkg/query"
)

// Page is one cursor-paged window of entities.
type Page[T any] struct {
	Data    []T
	HasNext bool
	HasPrev bool
	// NextCursor resumes after the last entity of Data.
	NextCursor string
}

// PaginationResult is one offset-paged window with exact totals.
type PaginationResult[T any] struct {
	Data       []T
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

func (r *Repository[T]) build(op string, opts query.Options) (*query.Query, error) {
	q, err := query.Build(opts)
	if err != nil {
		return nil, wrap(op, r.Collection(), "", err)
	}
	return q, nil
}

// Query returns the entities matching opts, in order.
func (r *Repository[T]) Query(ctx context.Context, opts query.Options) (out []T, err error) {
	q, err := r.build("query", opts)
	if err != nil {
		return nil, err
	}
	ctx, done := r.begin(ctx, "query", tracing.SpanOperationDBQuery, "")
	defer func() { done(err) }()

	docs, err := r.adapter.Find(ctx, r.Collection(), q)
	if err != nil {
		return nil, r.fail("query", "", err)
	}
	return r.decodeAll(docs), nil
}

// All returns every entity of the collection.
func (r *Repository[T]) All(ctx context.Context) ([]T, error) {
	return r.Query(ctx, query.Options{})
}

// First returns the first entity matching opts, or ErrNotFound.
func (r *Repository[T]) First(ctx context.Context, opts query.Options) (*T, error) {
	opts.Limit = query.Limit(1)
	items, err := r.Query(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &Error{Kind: ErrNotFound, Op: "first", Collection: r.Collection()}
	}
	return &items[0], nil
}

// Count returns the number of entities matching opts' filters. Stores without a
// native count download the matches and count them, which is O(n).
func (r *Repository[T]) Count(ctx context.Context, opts query.Options) (n int64, err error) {
	q, err := r.build("count", opts)
	if err != nil {
		return 0, err
	}
	ctx, done := r.begin(ctx, "count", tracing.SpanOperationDBCount, "")
	defer func() { done(err) }()

	n, err = pagination.Count(ctx, r.adapter, r.Collection(), q, r.logger)
	if err != nil {
		return 0, r.fail("count", "", err)
	}
	return n, nil
}

// Page reads up to pageSize entities matching opts after cursor. Pagination
// needs order keys unless the store orders unordered queries stably. HasNext is
// true whenever the page is full, so a result ending exactly on a page boundary
// is followed by one empty page. HasPrev is always false here; see Pager.
func (r *Repository[T]) Page(ctx context.Context, opts query.Options, pageSize int, cursor string) (out *Page[T], err error) {
	ctx, done := r.begin(ctx, "page", tracing.SpanOperationDBQuery, "")
	defer func() { done(err) }()

	p, err := r.engine.Page(ctx, r.Collection(), opts, pageSize, cursor)
	if err != nil {
		return nil, r.fail("page", "", err)
	}
	return r.page(p), nil
}

func (r *Repository[T]) page(p *pagination.Page) *Page[T] {
	return &Page[T]{
		Data:       r.decodeAll(p.Documents),
		HasNext:    p.HasNext,
		HasPrev:    p.HasPrev,
		NextCursor: p.NextCursor,
	}
}

// PageNumber reads the 1-based page of opts with offsets and an exact total.
func (r *Repository[T]) PageNumber(ctx context.Context, opts query.Options, page, pageSize int) (out *PaginationResult[T], err error) {
	ctx, done := r.begin(ctx, "page_number", tracing.SpanOperationDBQuery, "")
	defer func() { done(err) }()

	p, err := r.engine.PageNumber(ctx, r.Collection(), opts, page, pageSize)
	if err != nil {
		return nil, r.fail("page_number", "", err)
	}
	return &PaginationResult[T]{
		Data:       r.decodeAll(p.Documents),
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      p.Total,
		TotalPages: p.TotalPages,
		HasNext:    p.HasNext,
		HasPrev:    p.HasPrev,
	}, nil
}

// Pager walks pages forward and back, keeping the cursor history.
type Pager[T any] struct {
	repo *Repository[T]
	nav  *pagination.Navigator
}

// Pager returns a pager over opts positioned before the first page.
func (r *Repository[T]) Pager(opts query.Options, pageSize int) *Pager[T] {
	return &Pager[T]{repo: r, nav: r.engine.NewNavigator(r.Collection(), opts, pageSize)}
}

// Next reads the following page.
func (p *Pager[T]) Next(ctx context.Context) (*Page[T], error) {
	page, err := p.nav.Next(ctx)
	if err != nil {
		return nil, p.repo.fail("page", "", err)
	}
	return p.repo.page(page), nil
}

// Prev re-reads the preceding page.
func (p *Pager[T]) Prev(ctx context.Context) (*Page[T], error) {
	page, err := p.nav.Prev(ctx)
	if err != nil {
		return nil, p.repo.fail("page", "", err)
	}
	return p.repo.page(page), nil
}
