// Package logging writes one structured entry per HTTP request.
package logging

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimburion/docstore/pkg/middleware/requestid"
	"github.com/nimburion/docstore/pkg/observability/logger"
)

// Mode defines the logging verbosity.
type Mode string

const (
	// ModeOff disables request logging
	ModeOff Mode = "off"
	// ModeMinimal logs method, path, status and duration
	ModeMinimal Mode = "minimal"
	// ModeFull adds client and payload details
	ModeFull Mode = "full"
)

// Log field names.
const (
	FieldRequestID     = "request_id"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatus        = "status"
	FieldDurationMS    = "duration_ms"
	FieldRemoteAddr    = "remote_addr"
	FieldQueryString   = "query_string"
	FieldHTTPUserAgent = "http_user_agent"
	FieldBytes         = "bytes"
)

// Config configures the middleware.
type Config struct {
	Mode Mode
	// SkipPaths are exact paths never logged, e.g. probe endpoints.
	SkipPaths []string
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Flush keeps streaming handlers working behind the recorder.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging logs each request once it completes. Server errors log at error
// level, client errors at warn, everything else at debug.
func Logging(log logger.Logger, cfg Config) mux.MiddlewareFunc {
	if log == nil {
		log = logger.Nop()
	}
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeMinimal
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		if mode == ModeOff {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []any{
				FieldRequestID, requestid.GetRequestID(r.Context()),
				FieldMethod, r.Method,
				FieldPath, r.URL.Path,
				FieldStatus, rec.status,
				FieldDurationMS, time.Since(start).Milliseconds(),
			}
			if mode == ModeFull {
				fields = append(fields,
					FieldRemoteAddr, r.RemoteAddr,
					FieldQueryString, r.URL.RawQuery,
					FieldHTTPUserAgent, r.UserAgent(),
					FieldBytes, rec.bytes,
				)
			}

			entry := log.WithContext(r.Context())
			switch {
			case rec.status >= http.StatusInternalServerError:
				entry.Error("request completed", fields...)
			case rec.status >= http.StatusBadRequest:
				entry.Warn("request completed", fields...)
			default:
				entry.Debug("request completed", fields...)
			}
		})
	}
}
