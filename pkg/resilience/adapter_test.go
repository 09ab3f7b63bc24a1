package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/store"
	"github.com/nimburion/docstore/pkg/store/memory"
)

// flakyAdapter fails Get with the configured error.
type flakyAdapter struct {
	store.Adapter
	err   error
	calls int
}

func (f *flakyAdapter) Get(ctx context.Context, collection, id string) (document.Document, error) {
	f.calls++
	if f.err != nil {
		return document.Document{}, f.err
	}
	return f.Adapter.Get(ctx, collection, id)
}

func TestGuard_OpensOnUnavailability(t *testing.T) {
	next := &flakyAdapter{Adapter: memory.NewAdapter(nil), err: fmt.Errorf("dial: %w", store.ErrUnavailable)}
	cb, _ := newTestBreaker(2, time.Minute, WithFailurePredicate(store.IsUnavailable))
	g := Guard(next, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.Get(ctx, "projects", "a"); !errors.Is(err, store.ErrUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}
	_, err := g.Get(ctx, "projects", "a")
	if !errors.Is(err, store.ErrUnavailable) || !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("open breaker must fail fast as unavailable, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("open breaker must not reach the store, calls = %d", next.calls)
	}
}

func TestGuard_NotFoundDoesNotTrip(t *testing.T) {
	g := Guard(memory.NewAdapter(nil), NewStoreBreaker(1, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Get(ctx, "projects", "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if g.Breaker().GetState() != StateClosed {
		t.Fatalf("not found must not open the breaker, got %v", g.Breaker().GetState())
	}

	id, err := g.Put(ctx, "projects", "", document.Map{"name": document.String("Alpha")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := g.Get(ctx, "projects", id); err != nil {
		t.Fatalf("Get: %v", err)
	}
}
