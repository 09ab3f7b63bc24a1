package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/docstore/pkg/store"
	"github.com/nimburion/docstore/pkg/store/memory"
	"github.com/nimburion/docstore/pkg/testutil"
)

// TestRedisBus_Integration runs the bus against a real Redis started with
// testcontainers.
func TestRedisBus_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()
	redisContainer, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	bus, err := NewRedisBus(RedisBusConfig{URL: connStr, Prefix: "test:changes"})
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer bus.Close()

	t.Run("HealthCheck", func(t *testing.T) {
		if err := bus.HealthCheck(ctx); err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
	})

	t.Run("PublishSubscribe", func(t *testing.T) {
		got := make(chan store.Change, 1)
		sub, err := bus.Subscribe(ctx, "tasks", func(c store.Change) { got <- c })
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		defer sub.Close()

		want := store.Change{Collection: "tasks", ID: "t1", Type: store.ChangeDeleted}
		if err := bus.Publish(ctx, want); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case c := <-got:
			if c != want {
				t.Fatalf("got %+v, want %+v", c, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for change")
		}
	})

	t.Run("FeedsMultiplexer", func(t *testing.T) {
		a := testutil.NewCountingAdapter(memory.NewAdapter(nil)).
			WithCapabilities(store.Capabilities{NativeCount: true, StableOrder: true})
		mux := NewMultiplexer[string](a, bus, Config{RefreshRate: 50, RefreshBurst: 1}, nil)
		defer mux.Close()

		sub, err := mux.Subscribe("k", namesLoader(a))
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		waitFor(t, sub, "")
		put(t, a, "p1", "Alpha")
		if err := bus.Publish(ctx, store.Change{Collection: "projects", ID: "p1", Type: store.ChangeCreated}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		waitFor(t, sub, "Alpha")
	})
}
