package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/docstore/pkg/codec"
	"github.com/nimburion/docstore/pkg/observability/metrics"
	"github.com/nimburion/docstore/pkg/observability/tracing"
)

// begin opens a span for one operation and returns the function that closes it
// and records the outcome.
func (r *Repository[T]) begin(ctx context.Context, op string, spanOp tracing.SpanOperation, id string) (context.Context, func(error)) {
	start := time.Now()
	spanOpts := []tracing.DatabaseSpanOption{
		tracing.WithDBCollection(r.Collection()),
		tracing.WithDBSystem(r.system),
	}
	if id != "" {
		spanOpts = append(spanOpts, tracing.WithDocumentID(id))
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, spanOp, spanOpts...)

	return ctx, func(err error) {
		defer span.End()
		metrics.RecordOperation(r.Collection(), op, outcome(err), time.Since(start))
		if err != nil {
			tracing.RecordError(span, err)
			return
		}
		tracing.RecordSuccess(span)
	}
}

// fail classifies err and logs store failures.
func (r *Repository[T]) fail(op, id string, err error) error {
	wrapped := wrap(op, r.Collection(), id, err)
	if errors.Is(wrapped, ErrStoreUnavailable) {
		r.logger.Error("store operation failed", "op", op, "id", id, "error", err)
	}
	return wrapped
}

func (r *Repository[T]) degraded(issues *codec.DecodeError) {
	metrics.RecordDegradedDecode(r.Collection())
	for _, issue := range issues.Issues {
		r.logger.Warn("record decoded in degraded form", "id", issues.ID, "field", issue.Field, "reason", issue.Reason)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrEncode):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrCancelled):
		return metrics.OutcomeCancelled
	case errors.Is(err, ErrStoreUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}
