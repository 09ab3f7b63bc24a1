package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedChecker struct {
	name   string
	status Status
}

func (f fixedChecker) Check(context.Context) CheckResult {
	return CheckResult{Name: f.name, Status: f.status, Timestamp: time.Now()}
}

func (f fixedChecker) Name() string { return f.name }

func TestRegistry_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", statuses: []Status{StatusHealthy, StatusHealthy}, want: StatusHealthy},
		{name: "one degraded", statuses: []Status{StatusHealthy, StatusDegraded}, want: StatusDegraded},
		{name: "unhealthy wins", statuses: []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for i, s := range tt.statuses {
				r.Register(fixedChecker{name: string(rune('a' + i)), status: s})
			}
			got := r.Check(context.Background())
			if got.Status != tt.want {
				t.Fatalf("status = %s, want %s", got.Status, tt.want)
			}
			if len(got.Checks) != len(tt.statuses) {
				t.Fatalf("checks = %d", len(got.Checks))
			}
			for i := 1; i < len(got.Checks); i++ {
				if got.Checks[i-1].Name > got.Checks[i].Name {
					t.Fatal("results must be sorted by name")
				}
			}
		})
	}
}

func TestRegistry_RegisterReplaceUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedChecker{name: "store", status: StatusUnhealthy})
	r.Register(fixedChecker{name: "store", status: StatusHealthy})
	r.Register(fixedChecker{name: "bus", status: StatusHealthy})

	if names := r.List(); len(names) != 2 || names[0] != "bus" {
		t.Fatalf("List = %v", names)
	}
	res, err := r.CheckOne(context.Background(), "store")
	if err != nil || res.Status != StatusHealthy {
		t.Fatalf("CheckOne = %v, %v", res.Status, err)
	}
	r.Unregister("store")
	if _, err := r.CheckOne(context.Background(), "store"); err == nil {
		t.Fatal("expected error for an unregistered check")
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Register(fixedChecker{name: "store", status: StatusHealthy})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body AggregatedResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusHealthy || len(body.Checks) != 1 {
		t.Fatalf("body = %+v", body)
	}

	r.Register(NewAdapterChecker("bus", failing{}, time.Second))
	rec = httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
}

type failing struct{}

func (failing) HealthCheck(context.Context) error { return errors.New("connection refused") }
