package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/docstore/pkg/eventbus"
	"github.com/nimburion/docstore/pkg/observability/logger"
)

func TestNewAdapter_Validation(t *testing.T) {
	if _, err := NewAdapter(Config{}, nil); err == nil {
		t.Fatal("expected validation error for empty URL")
	}
}

func TestClosedAdapterOperations(t *testing.T) {
	a := &Adapter{closed: true, subs: map[string]*subscription{}, logger: logger.Nop()}
	msg := &eventbus.Message{ID: "1", Value: []byte("v"), Timestamp: time.Now()}

	if err := a.Publish(context.Background(), "changes", msg); err == nil {
		t.Fatal("publish must fail when closed")
	}
	if err := a.Subscribe(context.Background(), "changes", func(context.Context, *eventbus.Message) error { return nil }); err == nil {
		t.Fatal("subscribe must fail when closed")
	}
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("healthcheck must fail when closed")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("closing twice must be a no-op: %v", err)
	}
}

func TestUnsubscribe_NotSubscribed(t *testing.T) {
	a := &Adapter{subs: map[string]*subscription{}}
	if err := a.Unsubscribe("missing"); err == nil {
		t.Fatal("expected error for missing subscription")
	}
}

func TestHeadersConversion(t *testing.T) {
	out := fromAMQPHeaders(toAMQPHeaders(map[string]string{"docstore-collection": "tasks", "k2": "v2"}))
	if len(out) != 2 || out["docstore-collection"] != "tasks" || out["k2"] != "v2" {
		t.Fatalf("unexpected conversion output: %#v", out)
	}
	if toAMQPHeaders(nil) != nil || fromAMQPHeaders(nil) != nil {
		t.Fatal("empty headers should convert to nil")
	}
}

func TestProperty_ClosedAdapterRejectsPublish(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	properties := gopter.NewProperties(params)

	properties.Property("closed adapter always rejects publish", prop.ForAll(
		func(body string) bool {
			a := &Adapter{closed: true, subs: map[string]*subscription{}}
			msg := &eventbus.Message{ID: "id", Value: []byte(body), Timestamp: time.Now()}
			return a.Publish(context.Background(), "changes", msg) != nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
