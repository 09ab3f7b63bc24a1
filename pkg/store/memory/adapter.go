// Package memory provides an in-process document store.
//
// It implements the full adapter contract, including native count and a change
// stream, and is used by tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// watchBuffer bounds pending change signals per watcher. Signals beyond it are
// dropped: a watcher that is behind re-reads its view anyway.
const watchBuffer = 64

// Adapter is an in-memory store.Adapter.
type Adapter struct {
	logger logger.Logger

	mu          sync.RWMutex
	collections map[string]map[string]document.Map
	watchers    map[string]map[int]chan store.Change
	nextWatcher int
	closed      bool
}

// NewAdapter returns an empty in-memory store.
func NewAdapter(log logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{
		logger:      log,
		collections: make(map[string]map[string]document.Map),
		watchers:    make(map[string]map[int]chan store.Change),
	}
}

var _ store.Adapter = (*Adapter)(nil)

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{NativeCount: true, ChangeStream: true, StableOrder: true}
}

func (a *Adapter) Get(ctx context.Context, collection, id string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return document.Document{}, store.ErrClosed
	}
	fields, ok := a.collections[collection][id]
	if !ok {
		return document.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return document.Document{ID: id, Fields: document.CloneMap(fields)}, nil
}

// snapshot returns a copy of every document of a collection, ordered by id.
func (a *Adapter) snapshot(collection string) []document.Document {
	docs := make([]document.Document, 0, len(a.collections[collection]))
	for id, fields := range a.collections[collection] {
		docs = append(docs, document.Document{ID: id, Fields: document.CloneMap(fields)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func (a *Adapter) Find(ctx context.Context, collection string, q *query.Query) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, store.ErrClosed
	}
	docs := a.snapshot(collection)
	a.mu.RUnlock()
	return query.Apply(q, docs), nil
}

func (a *Adapter) Count(ctx context.Context, collection string, q *query.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, store.ErrClosed
	}
	// Documents Find would leave out for lacking an order field are not counted.
	var n int64
	for id, fields := range a.collections[collection] {
		doc := document.Document{ID: id, Fields: fields}
		if q.Match(doc) && q.HasOrderFields(doc) {
			n++
		}
	}
	return n, nil
}

func (a *Adapter) Put(ctx context.Context, collection, id string, fields document.Map) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", store.ErrClosed
	}
	coll, ok := a.collections[collection]
	if !ok {
		coll = make(map[string]document.Map)
		a.collections[collection] = coll
	}
	change := store.ChangeCreated
	if _, exists := coll[id]; exists {
		change = store.ChangeUpdated
	}
	coll[id] = document.CloneMap(fields)
	a.notifyLocked(store.Change{Collection: collection, ID: id, Type: change})
	a.mu.Unlock()
	return id, nil
}

func (a *Adapter) Merge(ctx context.Context, collection, id string, fields document.Map) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return store.ErrClosed
	}
	current, ok := a.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	for k, v := range fields {
		current[k] = document.Clone(v)
	}
	a.notifyLocked(store.Change{Collection: collection, ID: id, Type: store.ChangeUpdated})
	return nil
}

func (a *Adapter) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return store.ErrClosed
	}
	if _, ok := a.collections[collection][id]; !ok {
		return nil
	}
	delete(a.collections[collection], id)
	a.notifyLocked(store.Change{Collection: collection, ID: id, Type: store.ChangeDeleted})
	return nil
}

// Watch streams change signals for collection until ctx is done.
func (a *Adapter) Watch(ctx context.Context, collection string) (<-chan store.Change, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, store.ErrClosed
	}
	ch := make(chan store.Change, watchBuffer)
	key := a.nextWatcher
	a.nextWatcher++
	if a.watchers[collection] == nil {
		a.watchers[collection] = make(map[int]chan store.Change)
	}
	a.watchers[collection][key] = ch
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.watchers[collection][key]; ok {
			delete(a.watchers[collection], key)
			close(ch)
		}
	}()
	return ch, nil
}

func (a *Adapter) notifyLocked(change store.Change) {
	for _, ch := range a.watchers[change.Collection] {
		select {
		case ch <- change:
		default:
			a.logger.Debug("change signal dropped", "collection", change.Collection, "id", change.ID)
		}
	}
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("memory health check failed: %w", store.ErrClosed)
	}
	return ctx.Err()
}

// Close releases every watcher. It is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	for collection, watchers := range a.watchers {
		for key, ch := range watchers {
			close(ch)
			delete(watchers, key)
		}
		delete(a.watchers, collection)
	}
	return nil
}
