// Package entity declares the domain documents of the project workspace
// (projects, tasks, tickets, clients, users, invoices) and their typed
// repositories.
package entity

import (
	"context"
	"time"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/repository"
	"github.com/nimburion/docstore/pkg/store"
)

// Priority is shared by projects, tasks and tickets.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Option configures a domain repository.
type Option func(*settings)

type settings struct {
	repo []repository.Option
	now  func() time.Time
}

// WithRepositoryOptions forwards options to the underlying repository.
func WithRepositoryOptions(opts ...repository.Option) Option {
	return func(s *settings) { s.repo = append(s.repo, opts...) }
}

// WithClock sets the clock used for due-date queries and stamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	s.repo = append(s.repo, repository.WithClock(s.now))
	return s
}

func open[T any](adapter store.Adapter, schema Schema, opts []Option) (*repository.Repository[T], settings, error) {
	s := newSettings(opts)
	repo, err := repository.New[T](adapter, schema.Codec(), s.repo...)
	return repo, s, err
}

// where is shorthand for a single-filter query.
func where(field string, op query.Operator, value any, order ...query.Order) query.Options {
	return query.Options{
		Filters: []query.Filter{query.Where(field, op, value)},
		OrderBy: order,
	}
}

func newest() query.Order { return query.OrderBy("createdAt", query.Desc) }

// modify reads one entity, lets change edit it and writes back the patch change
// returns. A nil patch skips the write.
func modify[T any](ctx context.Context, repo *repository.Repository[T], id string, change func(*T) (document.Patch, error)) error {
	current, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	patch, err := change(current)
	if err != nil || patch == nil {
		return err
	}
	return repo.Update(ctx, id, patch)
}

func invalid(collection, op, id string, err error) error {
	return &repository.Error{Kind: repository.ErrEncode, Op: op, Collection: collection, ID: id, Err: err}
}
