package testutil

import (
	"context"
	"sync"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// CountingAdapter wraps a store adapter and counts calls per operation.
type CountingAdapter struct {
	store.Adapter

	mu    sync.Mutex
	calls map[string]int
	caps  *store.Capabilities
}

// NewCountingAdapter wraps next.
func NewCountingAdapter(next store.Adapter) *CountingAdapter {
	return &CountingAdapter{Adapter: next, calls: make(map[string]int)}
}

// WithCapabilities overrides the capabilities reported by the wrapped adapter.
func (c *CountingAdapter) WithCapabilities(caps store.Capabilities) *CountingAdapter {
	c.caps = &caps
	return c
}

func (c *CountingAdapter) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

// Calls returns the number of calls made to op.
func (c *CountingAdapter) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Total returns the number of I/O calls made through the adapter.
func (c *CountingAdapter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *CountingAdapter) Get(ctx context.Context, collection, id string) (document.Document, error) {
	c.record("get")
	return c.Adapter.Get(ctx, collection, id)
}

func (c *CountingAdapter) Find(ctx context.Context, collection string, q *query.Query) ([]document.Document, error) {
	c.record("find")
	return c.Adapter.Find(ctx, collection, q)
}

func (c *CountingAdapter) Count(ctx context.Context, collection string, q *query.Query) (int64, error) {
	c.record("count")
	if c.caps != nil && !c.caps.NativeCount {
		return 0, store.ErrCountUnsupported
	}
	return c.Adapter.Count(ctx, collection, q)
}

func (c *CountingAdapter) Put(ctx context.Context, collection, id string, fields document.Map) (string, error) {
	c.record("put")
	return c.Adapter.Put(ctx, collection, id, fields)
}

func (c *CountingAdapter) Merge(ctx context.Context, collection, id string, fields document.Map) error {
	c.record("merge")
	return c.Adapter.Merge(ctx, collection, id, fields)
}

func (c *CountingAdapter) Delete(ctx context.Context, collection, id string) error {
	c.record("delete")
	return c.Adapter.Delete(ctx, collection, id)
}

func (c *CountingAdapter) Watch(ctx context.Context, collection string) (<-chan store.Change, error) {
	c.record("watch")
	if c.caps != nil && !c.caps.ChangeStream {
		return nil, store.ErrWatchUnsupported
	}
	return c.Adapter.Watch(ctx, collection)
}

func (c *CountingAdapter) Capabilities() store.Capabilities {
	if c.caps != nil {
		return *c.caps
	}
	return c.Adapter.Capabilities()
}
