package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/realtime"
	"github.com/nimburion/docstore/pkg/repository"
)

// ListSource is the repository surface a List needs.
type ListSource[T any] interface {
	repository.Writer[T]
	Query(ctx context.Context, opts query.Options) ([]T, error)
	PageNumber(ctx context.Context, opts query.Options, page, pageSize int) (*repository.PaginationResult[T], error)
	Subscribe(opts query.Options) (*realtime.Subscription[[]T], error)
}

// List is a resource over the entities matching a query.
type List[T any] struct {
	*Resource[[]T]
	source ListSource[T]

	mu       sync.Mutex
	opts     query.Options
	page     int
	pageSize int
}

// ListOption configures a List.
type ListOption func(*listConfig)

type listConfig struct {
	logger   logger.Logger
	page     int
	pageSize int
}

// WithListLogger sets the logger.
func WithListLogger(log logger.Logger) ListOption {
	return func(c *listConfig) { c.logger = log }
}

// WithPaging loads the list one numbered page at a time and fills State.Meta.
func WithPaging(page, pageSize int) ListOption {
	return func(c *listConfig) {
		c.page = page
		c.pageSize = pageSize
	}
}

// NewList returns an idle list over opts. Nothing is read until Load.
func NewList[T any](source ListSource[T], opts query.Options, options ...ListOption) *List[T] {
	cfg := listConfig{}
	for _, o := range options {
		o(&cfg)
	}
	return &List[T]{
		Resource: newResource[[]T](cfg.logger),
		source:   source,
		opts:     opts,
		page:     cfg.page,
		pageSize: cfg.pageSize,
	}
}

// Load re-reads the list. Passing options replaces the list's query first.
// A newer request supersedes this one; its outcome is then dropped and Load
// returns nil.
func (l *List[T]) Load(ctx context.Context, opts ...query.Options) error {
	l.mu.Lock()
	if len(opts) > 0 {
		l.opts = opts[0]
	}
	current, page, pageSize := l.opts, l.page, l.pageSize
	l.mu.Unlock()

	return l.run(ctx, func(ctx context.Context) ([]T, *Meta, error) {
		if pageSize > 0 {
			res, err := l.source.PageNumber(ctx, current, page, pageSize)
			if err != nil {
				return nil, nil, err
			}
			return res.Data, &Meta{
				Total:    res.Total,
				Page:     res.Page,
				PageSize: res.PageSize,
				HasNext:  res.HasNext,
				HasPrev:  res.HasPrev,
			}, nil
		}
		items, err := l.source.Query(ctx, current)
		return items, nil, err
	})
}

// SetQuery replaces the query, cancels the outstanding request and loads the
// new one. A live list is rebound to the new query instead.
func (l *List[T]) SetQuery(ctx context.Context, opts query.Options) error {
	l.mu.Lock()
	l.opts = opts
	l.mu.Unlock()
	if l.Live() {
		return l.Follow()
	}
	return l.Load(ctx)
}

// SetPage moves a paged list to page and loads it.
func (l *List[T]) SetPage(ctx context.Context, page int) error {
	l.mu.Lock()
	if l.pageSize == 0 {
		l.mu.Unlock()
		return fmt.Errorf("consumer: list is not paged")
	}
	l.page = page
	l.mu.Unlock()
	return l.Load(ctx)
}

// Follow binds the list to a live subscription on its query. Snapshots replace
// the data as they arrive, until StopLive, SetQuery or Close.
func (l *List[T]) Follow() error {
	l.mu.Lock()
	current := l.opts
	l.mu.Unlock()
	sub, err := l.source.Subscribe(current)
	if err != nil {
		l.fail(err)
		return err
	}
	return l.bind(sub)
}

// Create stores entity, then re-reads the list.
func (l *List[T]) Create(ctx context.Context, entity *T) (string, error) {
	id, err := l.source.Create(ctx, entity)
	if err != nil {
		l.fail(err)
		return "", err
	}
	l.refresh(ctx)
	return id, nil
}

// Update patches the entity with id, then re-reads the list.
func (l *List[T]) Update(ctx context.Context, id string, patch document.Patch) error {
	if err := l.source.Update(ctx, id, patch); err != nil {
		l.fail(err)
		return err
	}
	l.refresh(ctx)
	return nil
}

// Remove deletes the entity with id, then re-reads the list.
func (l *List[T]) Remove(ctx context.Context, id string) error {
	if err := l.source.Delete(ctx, id); err != nil {
		l.fail(err)
		return err
	}
	l.refresh(ctx)
	return nil
}

// refresh re-reads after a mutation. A live list converges through its
// subscription instead. The outcome lands in State.
func (l *List[T]) refresh(ctx context.Context) {
	if l.Live() {
		return
	}
	_ = l.Load(ctx)
}
