package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/docstore/pkg/config"
	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/observability/metrics"
	"github.com/nimburion/docstore/pkg/observability/tracing"
	"github.com/nimburion/docstore/pkg/pagination"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/realtime"
	"github.com/nimburion/docstore/pkg/resilience"
	"github.com/nimburion/docstore/pkg/store"
	"github.com/nimburion/docstore/pkg/store/provider"
	"github.com/nimburion/docstore/pkg/version"
)

// StoreOpener opens the adapter a command works against.
type StoreOpener func(cfg *config.Config, log logger.Logger) (store.Adapter, error)

func defaultStoreOpener(cfg *config.Config, log logger.Logger) (store.Adapter, error) {
	return provider.Open(cfg.Store, cfg.Breaker, log)
}

// runtime holds the connections one command invocation needs.
type runtime struct {
	cfg     *config.Config
	log     logger.Logger
	system  string
	adapter store.Adapter
	bus     realtime.Bus
	tracer  *tracing.TracerProvider
	engine  *pagination.Engine
}

func openRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, open StoreOpener) (*runtime, error) {
	if open == nil {
		open = defaultStoreOpener
	}
	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	adapter, err := open(cfg, log)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	bus, err := realtime.OpenBus(cfg.Realtime, log)
	if err != nil {
		_ = adapter.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("open change bus: %w", err)
	}

	return &runtime{
		cfg:     cfg,
		log:     log,
		system:  provider.System(cfg.Store),
		adapter: adapter,
		bus:     bus,
		tracer:  tracer,
		engine: pagination.NewEngine(adapter,
			pagination.WithMaxPageSize(cfg.Pagination.MaxPageSize),
			pagination.WithLogger(log),
		),
	}, nil
}

func (r *runtime) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return errors.Join(
		r.bus.Close(),
		r.adapter.Close(),
		r.tracer.Shutdown(shutdownCtx),
	)
}

// breaker returns the circuit breaker guarding the adapter, if any.
func (r *runtime) breaker() *resilience.CircuitBreaker {
	if guarded, ok := r.adapter.(*resilience.GuardedAdapter); ok {
		return guarded.Breaker()
	}
	return nil
}

// traced runs one store call inside a database span and records it.
func (r *runtime) traced(ctx context.Context, op string, spanOp tracing.SpanOperation, collection, id string, fn func(context.Context) error) error {
	start := time.Now()
	opts := []tracing.DatabaseSpanOption{
		tracing.WithDBCollection(collection),
		tracing.WithDBSystem(r.system),
	}
	if id != "" {
		opts = append(opts, tracing.WithDocumentID(id))
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, spanOp, opts...)
	defer span.End()

	err := fn(ctx)
	metrics.RecordOperation(collection, op, outcome(err), time.Since(start))
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, store.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, query.ErrInvalidQuery):
		return metrics.OutcomeInvalid
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCancelled
	case store.IsUnavailable(err):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}

// publish announces a write on the bus. Failures are logged only.
func (r *runtime) publish(ctx context.Context, collection, id string, kind store.ChangeType) {
	if err := r.bus.Publish(ctx, store.Change{Collection: collection, ID: id, Type: kind}); err != nil {
		r.log.Warn("failed to publish change", "collection", collection, "id", id, "error", err)
	}
}

func (r *runtime) multiplexer() *realtime.Multiplexer[[]document.Document] {
	return realtime.NewMultiplexer[[]document.Document](r.adapter, r.bus, realtime.Config{
		ClientBuffer: r.cfg.Realtime.ClientBuffer,
		RefreshRate:  r.cfg.Realtime.RefreshRate,
		RefreshBurst: r.cfg.Realtime.RefreshBurst,
	}, r.log)
}

// watch subscribes to a live view of collection and calls emit for every
// snapshot until ctx ends or the subscription fails.
func (r *runtime) watch(ctx context.Context, collection string, q *query.Query, emit func([]document.Document) error) error {
	mux := r.multiplexer()
	defer mux.Close()

	sub, err := mux.Subscribe(collection+"?"+q.Key(), realtime.Loader[[]document.Document]{
		Collection: collection,
		Fetch: func(ctx context.Context) ([]document.Document, error) {
			return r.adapter.Find(ctx, collection, q)
		},
		Decode: func(docs []document.Document) []document.Document { return docs },
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case docs, ok := <-sub.Updates():
			if !ok {
				return <-sub.Err()
			}
			if err := emit(docs); err != nil {
				return err
			}
		}
	}
}
