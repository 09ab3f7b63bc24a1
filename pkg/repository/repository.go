// Package repository is the typed CRUD, query and live-subscription surface over
// a document store. One Repository serves one entity type and one collection.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/docstore/pkg/codec"
	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/observability/tracing"
	"github.com/nimburion/docstore/pkg/pagination"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/realtime"
	"github.com/nimburion/docstore/pkg/store"
)

// Reader provides read operations for entities.
type Reader[T any] interface {
	GetByID(ctx context.Context, id string) (*T, error)
	Query(ctx context.Context, opts query.Options) ([]T, error)
	Count(ctx context.Context, opts query.Options) (int64, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Writer provides write operations for entities.
type Writer[T any] interface {
	Create(ctx context.Context, entity *T) (string, error)
	Update(ctx context.Context, id string, patch document.Patch) error
	Delete(ctx context.Context, id string) error
}

// Store combines Reader and Writer.
type Store[T any] interface {
	Reader[T]
	Writer[T]
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	logger   logger.Logger
	bus      realtime.Bus
	realtime realtime.Config
	maxPage  int
	system   string
	now      func() time.Time
}

// WithLogger sets the repository logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithBus publishes a change signal after every mutation and feeds live views on
// stores without a native change stream.
func WithBus(bus realtime.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithRealtime tunes live subscription delivery.
func WithRealtime(cfg realtime.Config) Option {
	return func(o *options) { o.realtime = cfg }
}

// WithMaxPageSize caps page sizes.
func WithMaxPageSize(n int) Option {
	return func(o *options) { o.maxPage = n }
}

// WithSystem names the backing store in traces (mongodb, dynamodb, memory).
func WithSystem(system string) Option {
	return func(o *options) { o.system = system }
}

// WithClock overrides the clock used for timestamps and date backfills.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Repository is the typed façade for one collection.
type Repository[T any] struct {
	adapter store.Adapter
	codec   *codec.Codec[T]
	engine  *pagination.Engine
	bus     realtime.Bus
	logger  logger.Logger
	system  string

	lists *realtime.Multiplexer[[]T]
	items *realtime.Multiplexer[*T]
	clock *stamper
}

// Cosa fa: costruisce il repository tipizzato per una collezione.
// Cosa NON fa: non crea la collezione né indici sullo store.
// Esempio minimo: repo, err := repository.New[Project](adapter, projectSchema, repository.WithLogger(log))
func New[T any](adapter store.Adapter, schema codec.Schema, opts ...Option) (*Repository[T], error) {
	if adapter == nil {
		return nil, fmt.Errorf("store adapter is required")
	}
	o := options{logger: logger.Nop(), system: "document", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := codec.New[T](schema, codec.WithClock(o.now))
	if err != nil {
		return nil, err
	}
	log := o.logger.With("collection", schema.Collection)
	return &Repository[T]{
		adapter: adapter,
		codec:   c,
		engine:  pagination.NewEngine(adapter, pagination.WithMaxPageSize(o.maxPage), pagination.WithLogger(log)),
		bus:     o.bus,
		logger:  log,
		system:  o.system,
		lists:   realtime.NewMultiplexer[[]T](adapter, o.bus, o.realtime, log),
		items:   realtime.NewMultiplexer[*T](adapter, o.bus, o.realtime, log),
		clock:   &stamper{now: o.now},
	}, nil
}

// Collection returns the physical collection name.
func (r *Repository[T]) Collection() string { return r.codec.Collection() }

// Close ends every live subscription. The store adapter stays open.
func (r *Repository[T]) Close() error {
	_ = r.lists.Close()
	return r.items.Close()
}

// Create stores entity and returns its id. Declared timestamps are stamped unless
// the entity already carries them. An empty id asks the store for one. The id
// and stamped timestamps are written back onto entity.
func (r *Repository[T]) Create(ctx context.Context, entity *T) (id string, err error) {
	ctx, done := r.begin(ctx, "create", tracing.SpanOperationDBInsert, "")
	defer func() { done(err) }()

	if entity == nil {
		return "", r.fail("create", "", fmt.Errorf("%w: nil entity", codec.ErrEncode))
	}
	fields, err := r.codec.Encode(entity)
	if err != nil {
		return "", r.fail("create", "", err)
	}
	stamp := r.clock.next()
	schema := r.codec.Schema()
	for _, ts := range schema.Timestamps() {
		if !hasTime(fields[ts]) {
			fields[ts] = document.TimeOf(stamp)
		}
	}

	id, err = r.adapter.Put(ctx, r.Collection(), r.codec.ID(entity), fields)
	if err != nil {
		return "", r.fail("create", "", err)
	}
	written, _ := r.codec.Decode(document.Document{ID: id, Fields: fields})
	*entity = *written
	r.publish(ctx, id, store.ChangeCreated)
	return id, nil
}

// GetByID returns the entity or ErrNotFound. A degraded record is returned
// normally; its issues are logged.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (entity *T, err error) {
	ctx, done := r.begin(ctx, "get", tracing.SpanOperationDBGet, id)
	defer func() { done(err) }()

	if id == "" {
		return nil, &Error{Kind: ErrNotFound, Op: "get", Collection: r.Collection()}
	}
	doc, err := r.adapter.Get(ctx, r.Collection(), id)
	if err != nil {
		return nil, r.fail("get", id, err)
	}
	return r.decode(doc), nil
}

// Update merges patch into the stored entity. Keys absent from patch are
// untouched, nil clears a field and document.Unset entries are ignored. The
// update timestamp is always stamped, overriding any value in patch.
func (r *Repository[T]) Update(ctx context.Context, id string, patch document.Patch) (err error) {
	ctx, done := r.begin(ctx, "update", tracing.SpanOperationDBUpdate, id)
	defer func() { done(err) }()

	if id == "" {
		return &Error{Kind: ErrNotFound, Op: "update", Collection: r.Collection()}
	}
	ts := r.codec.Schema().UpdatedAt
	if ts != "" {
		patch = r.withoutField(patch, ts)
	}
	fields, err := r.codec.EncodePatch(patch)
	if err != nil {
		return r.fail("update", id, err)
	}
	if ts != "" {
		fields[ts] = document.TimeOf(r.clock.next())
	}
	if len(fields) == 0 {
		// Nothing to write; still report a missing target.
		if _, err := r.adapter.Get(ctx, r.Collection(), id); err != nil {
			return r.fail("update", id, err)
		}
		return nil
	}
	if err := r.adapter.Merge(ctx, r.Collection(), id, fields); err != nil {
		return r.fail("update", id, err)
	}
	r.publish(ctx, id, store.ChangeUpdated)
	return nil
}

// withoutField drops the keys of patch that address the stored field name.
// The caller's patch is left untouched.
func (r *Repository[T]) withoutField(patch document.Patch, name string) document.Patch {
	var out document.Patch
	for key := range patch {
		if stored, ok := r.codec.FieldName(key); !ok || stored != name {
			continue
		}
		if out == nil {
			out = make(document.Patch, len(patch))
			for k, v := range patch {
				out[k] = v
			}
		}
		delete(out, key)
	}
	if out == nil {
		return patch
	}
	return out
}

// Delete removes the entity. Deleting a missing entity is not an error.
func (r *Repository[T]) Delete(ctx context.Context, id string) (err error) {
	ctx, done := r.begin(ctx, "delete", tracing.SpanOperationDBDelete, id)
	defer func() { done(err) }()

	if id == "" {
		return nil
	}
	if err := r.adapter.Delete(ctx, r.Collection(), id); err != nil {
		return r.fail("delete", id, err)
	}
	r.publish(ctx, id, store.ChangeDeleted)
	return nil
}

// Exists reports whether an entity with id is stored.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.GetByID(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (r *Repository[T]) publish(ctx context.Context, id string, kind store.ChangeType) {
	if r.bus == nil {
		return
	}
	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgPublish,
		tracing.WithMessagingSystem("docstore"),
		tracing.WithMessagingDestination(r.Collection()),
	)
	defer span.End()
	if err := r.bus.Publish(ctx, store.Change{Collection: r.Collection(), ID: id, Type: kind}); err != nil {
		// The write succeeded; live views converge on the next signal.
		tracing.RecordError(span, err)
		r.logger.Warn("change signal not published", "id", id, "error", err)
		return
	}
	tracing.RecordSuccess(span)
}

// decode converts one document, logging degraded fields.
func (r *Repository[T]) decode(doc document.Document) *T {
	entity, issues := r.codec.Decode(doc)
	if issues != nil {
		r.degraded(issues)
	}
	return entity
}

func (r *Repository[T]) decodeAll(docs []document.Document) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		out = append(out, *r.decode(doc))
	}
	return out
}

func hasTime(v document.Value) bool {
	t, ok := v.(document.Time)
	return ok && !t.Std().IsZero()
}

// IsNotFound reports whether err is a NotFound repository error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// stamper issues millisecond timestamps that never repeat or go backwards.
type stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (s *stamper) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}
