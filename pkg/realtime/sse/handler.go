package sse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/realtime"
	"github.com/nimburion/docstore/pkg/store"
)

// ResolveFunc extracts the watched collection and query from a request.
type ResolveFunc func(r *http.Request) (collection string, q *query.Query, err error)

// HandlerConfig configures the snapshot stream.
type HandlerConfig struct {
	Mux     *realtime.Multiplexer[[]document.Document]
	Adapter store.Adapter
	Resolve ResolveFunc
	// HeartbeatInterval defaults to 15 seconds.
	HeartbeatInterval time.Duration
	// RetryMS is the reconnect delay suggested to clients. Zero omits it.
	RetryMS int
	Logger  logger.Logger
}

// Handler streams every snapshot of a live query as a "snapshot" event whose
// data is the JSON array of matching documents. A terminal failure is sent as
// an "error" event and ends the stream.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates an SSE handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Mux == nil || cfg.Adapter == nil {
		return nil, errors.New("sse multiplexer and store adapter are required")
	}
	if cfg.Resolve == nil {
		return nil, errors.New("sse resolve function is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Handler{cfg: cfg}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	collection, q, err := h.cfg.Resolve(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "response writer does not support streaming")
		return
	}

	sub, err := h.cfg.Mux.Subscribe(collection+"?"+q.Key(), realtime.Loader[[]document.Document]{
		Collection: collection,
		Fetch: func(ctx context.Context) ([]document.Document, error) {
			return h.cfg.Adapter.Find(ctx, collection, q)
		},
		Decode: func(docs []document.Document) []document.Document { return docs },
	})
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "subscribe failed")
		return
	}
	defer sub.Cancel()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := writeComment(w, "connected"); err == nil {
		flusher.Flush()
	}

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writeComment(w, "heartbeat"); err != nil {
				return
			}
			flusher.Flush()
		case err := <-sub.Err():
			h.fail(w, flusher, collection, err)
			return
		case docs, ok := <-sub.Updates():
			if !ok {
				h.fail(w, flusher, collection, <-sub.Err())
				return
			}
			if err := h.snapshot(w, docs); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) snapshot(w http.ResponseWriter, docs []document.Document) error {
	plain := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		plain = append(plain, doc.Plain())
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return err
	}
	return writeEvent(w, Event{ID: nextEventID(time.Now()), Type: EventSnapshot, Data: data, RetryMS: h.cfg.RetryMS})
}

// fail reports a terminal subscription error. A nil error means the stream
// ended without one and nothing is written.
func (h *Handler) fail(w http.ResponseWriter, flusher http.Flusher, collection string, err error) {
	if err == nil {
		return
	}
	h.cfg.Logger.Warn("live view failed", "collection", collection, "error", err)
	message := "live view failed"
	if errors.Is(err, realtime.ErrFeedClosed) {
		message = "change feed closed"
	}
	data, _ := json.Marshal(map[string]string{"error": message})
	if writeEvent(w, Event{ID: nextEventID(time.Now()), Type: EventError, Data: data}) == nil {
		flusher.Flush()
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
