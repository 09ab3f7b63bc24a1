package kafka

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nimburion/docstore/pkg/eventbus"
)

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid configuration", config: Config{Brokers: []string{"localhost:9092"}, GroupID: "docstore-test"}},
		{name: "missing brokers", config: Config{OperationTimeout: time.Second}, wantErr: true},
		{name: "empty brokers list", config: Config{Brokers: []string{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewAdapter(tt.config, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer adapter.Close()
			if adapter.config.OperationTimeout <= 0 || adapter.config.MaxRetries <= 0 {
				t.Errorf("defaults not applied: %+v", adapter.config)
			}
		})
	}
}

func TestNewAdapter_DefaultGroupIsUnique(t *testing.T) {
	a, _ := NewAdapter(Config{Brokers: []string{"localhost:9092"}}, nil)
	b, _ := NewAdapter(Config{Brokers: []string{"localhost:9092"}}, nil)
	defer a.Close()
	defer b.Close()

	if !strings.HasPrefix(a.config.GroupID, "docstore-") {
		t.Fatalf("unexpected group id %q", a.config.GroupID)
	}
	if a.config.GroupID == b.config.GroupID {
		t.Fatal("each adapter must consume with its own group")
	}
}

func TestAdapter_Close(t *testing.T) {
	adapter, err := NewAdapter(Config{Brokers: []string{"localhost:9092"}}, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	ctx := context.Background()
	msg := &eventbus.Message{ID: "m1", Key: "tasks", Value: []byte("{}"), Timestamp: time.Now()}
	if err := adapter.Publish(ctx, "changes", msg); err == nil {
		t.Error("Publish after close should fail")
	}
	if err := adapter.Subscribe(ctx, "changes", nil); err == nil {
		t.Error("Subscribe after close should fail")
	}
	if err := adapter.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck after close should fail")
	}
}

func TestAdapter_SubscribeTwice(t *testing.T) {
	adapter, err := NewAdapter(Config{Brokers: []string{"localhost:9092"}}, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	defer adapter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := func(context.Context, *eventbus.Message) error { return nil }

	if err := adapter.Subscribe(ctx, "changes", handler); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if err := adapter.Subscribe(ctx, "changes", handler); err == nil {
		t.Fatal("duplicate subscription should fail")
	}
	if err := adapter.Unsubscribe("changes"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := adapter.Unsubscribe("changes"); err == nil {
		t.Fatal("Unsubscribe of an unknown topic should fail")
	}
}

func TestPublish_RequiresMessage(t *testing.T) {
	adapter, _ := NewAdapter(Config{Brokers: []string{"localhost:9092"}}, nil)
	defer adapter.Close()
	if err := adapter.Publish(context.Background(), "changes", nil); err == nil {
		t.Fatal("expected error for nil message")
	}
}

func TestHeaders(t *testing.T) {
	headers := convertHeaders(map[string]string{"docstore-collection": "tasks"}, "m1", "application/json")
	if len(headers) != 3 {
		t.Fatalf("expected 3 headers, got %d", len(headers))
	}
	back := convertKafkaHeaders(headers)
	if back[headerMessageID] != "m1" || back[headerContentType] != "application/json" || back["docstore-collection"] != "tasks" {
		t.Fatalf("unexpected headers %v", back)
	}
	if convertKafkaHeaders([]kafka.Header{}) != nil {
		t.Fatal("empty headers should convert to nil")
	}
}
