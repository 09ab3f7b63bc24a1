// Package recovery turns handler panics into 500 responses.
package recovery

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"github.com/nimburion/docstore/pkg/middleware/requestid"
	"github.com/nimburion/docstore/pkg/observability/logger"
)

type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.written = true
		f.Flush()
	}
}

// Recovery logs a panic with its stack trace and answers 500 with a JSON body
// unless the handler already started the response.
func Recovery(log logger.Logger) mux.MiddlewareFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &trackingWriter{ResponseWriter: w}
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				id := requestid.GetRequestID(r.Context())
				log.Error("panic recovered",
					"request_id", id,
					"path", r.URL.Path,
					"panic", p,
					"stack", string(debug.Stack()),
				)
				if tw.written {
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":      "internal_server_error",
					"message":    "an unexpected error occurred",
					"request_id": id,
				})
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
