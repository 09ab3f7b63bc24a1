package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func serve(req *http.Request) (*httptest.ResponseRecorder, string) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequestID_Generates(t *testing.T) {
	rec, seen := serve(httptest.NewRequest(http.MethodGet, "/", nil))
	id := rec.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected a uuid, got %q", id)
	}
	if seen != id {
		t.Fatalf("context id %q differs from header %q", seen, id)
	}
}

func TestRequestID_PreservesIncoming(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec, seen := serve(req)
	if rec.Header().Get(RequestIDHeader) != "abc-123" || seen != "abc-123" {
		t.Fatalf("incoming id must be kept, got header %q context %q", rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if got := GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
