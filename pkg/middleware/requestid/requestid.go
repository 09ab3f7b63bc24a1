// Package requestid tags every request with a correlation id.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nimburion/docstore/pkg/observability/logger"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID keeps the caller's X-Request-ID or generates one, echoes it on the
// response and stores it in the request context as the logger correlation id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithCorrelationID(r.Context(), id)))
	})
}

// GetRequestID returns the id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}
