package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// GuardedAdapter routes every store call through a circuit breaker. Only
// unavailability errors count as failures; an open breaker fails fast with
// store.ErrUnavailable. Nothing is retried.
type GuardedAdapter struct {
	next    store.Adapter
	breaker *CircuitBreaker
}

var _ store.Adapter = (*GuardedAdapter)(nil)

// NewStoreBreaker builds a breaker that trips on store unavailability only.
func NewStoreBreaker(maxFailures int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	return NewCircuitBreaker(maxFailures, timeout, append([]Option{WithFailurePredicate(store.IsUnavailable)}, opts...)...)
}

// Guard wraps next with cb.
func Guard(next store.Adapter, cb *CircuitBreaker) *GuardedAdapter {
	return &GuardedAdapter{next: next, breaker: cb}
}

// Breaker exposes the underlying breaker, for health reporting.
func (g *GuardedAdapter) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *GuardedAdapter) run(fn func() error) error {
	err := g.breaker.Execute(fn)
	if err == ErrCircuitBreakerOpen {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

func (g *GuardedAdapter) Get(ctx context.Context, collection, id string) (doc document.Document, err error) {
	err = g.run(func() error {
		doc, err = g.next.Get(ctx, collection, id)
		return err
	})
	return doc, err
}

func (g *GuardedAdapter) Find(ctx context.Context, collection string, q *query.Query) (docs []document.Document, err error) {
	err = g.run(func() error {
		docs, err = g.next.Find(ctx, collection, q)
		return err
	})
	return docs, err
}

func (g *GuardedAdapter) Count(ctx context.Context, collection string, q *query.Query) (n int64, err error) {
	err = g.run(func() error {
		n, err = g.next.Count(ctx, collection, q)
		return err
	})
	return n, err
}

func (g *GuardedAdapter) Put(ctx context.Context, collection, id string, fields document.Map) (out string, err error) {
	err = g.run(func() error {
		out, err = g.next.Put(ctx, collection, id, fields)
		return err
	})
	return out, err
}

func (g *GuardedAdapter) Merge(ctx context.Context, collection, id string, fields document.Map) error {
	return g.run(func() error {
		return g.next.Merge(ctx, collection, id, fields)
	})
}

func (g *GuardedAdapter) Delete(ctx context.Context, collection, id string) error {
	return g.run(func() error {
		return g.next.Delete(ctx, collection, id)
	})
}

func (g *GuardedAdapter) Watch(ctx context.Context, collection string) (ch <-chan store.Change, err error) {
	err = g.run(func() error {
		ch, err = g.next.Watch(ctx, collection)
		return err
	})
	return ch, err
}

func (g *GuardedAdapter) Capabilities() store.Capabilities {
	return g.next.Capabilities()
}

// HealthCheck bypasses the breaker so probes observe the real store.
func (g *GuardedAdapter) HealthCheck(ctx context.Context) error {
	return g.next.HealthCheck(ctx)
}

func (g *GuardedAdapter) Close() error {
	return g.next.Close()
}
