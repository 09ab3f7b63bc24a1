package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
	"github.com/nimburion/docstore/pkg/store/memory"
	"github.com/nimburion/docstore/pkg/testutil"
)

func namesLoader(a store.Adapter) Loader[string] {
	q := query.MustBuild(query.Options{OrderBy: []query.Order{query.OrderBy("name", query.Asc)}})
	return Loader[string]{
		Collection: "projects",
		Fetch: func(ctx context.Context) ([]document.Document, error) {
			return a.Find(ctx, "projects", q)
		},
		Decode: func(docs []document.Document) string {
			names := make([]string, len(docs))
			for i, d := range docs {
				names[i] = string(d.Fields["name"].(document.String))
			}
			return strings.Join(names, ",")
		},
	}
}

func waitFor[V comparable](t *testing.T, sub *Subscription[V], want V) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-sub.Updates():
			if !ok {
				t.Fatalf("subscription ended while waiting for %v", want)
			}
			if v == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v", want)
		}
	}
}

func put(t *testing.T, a store.Adapter, id, name string) {
	t.Helper()
	if _, err := a.Put(context.Background(), "projects", id, document.Map{"name": document.String(name)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestMultiplexer_ConcurrentSubscribeCancel(t *testing.T) {
	testutil.SkipIfShort(t)
	a := memory.NewAdapter(nil)
	put(t, a, "p1", "Alpha")
	mux := NewMultiplexer[string](a, nil, Config{}, nil)
	defer mux.Close()

	const workers = 200
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := mux.Subscribe("k", namesLoader(a))
			if err != nil {
				errs <- err
				return
			}
			sub.Cancel()
			sub.Cancel()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Subscribe: %v", err)
	}

	if mux.Listeners() != 0 || mux.Subscribers("k") != 0 {
		t.Fatalf("listeners=%d subscribers=%d after every subscriber cancelled", mux.Listeners(), mux.Subscribers("k"))
	}

	sub, err := mux.Subscribe("k", namesLoader(a))
	if err != nil {
		t.Fatalf("Subscribe after churn: %v", err)
	}
	defer sub.Cancel()
	waitFor(t, sub, "Alpha")
	if mux.Listeners() != 1 {
		t.Fatalf("listeners=%d", mux.Listeners())
	}
}

func TestMultiplexer_FanOutSharesOneListener(t *testing.T) {
	a := memory.NewAdapter(nil)
	put(t, a, "p1", "Alpha")
	mux := NewMultiplexer[string](a, nil, Config{}, nil)
	defer mux.Close()

	first, err := mux.Subscribe("projects|all", namesLoader(a))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := mux.Subscribe("projects|all", namesLoader(a))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if mux.Listeners() != 1 || mux.Subscribers("projects|all") != 2 {
		t.Fatalf("listeners=%d subscribers=%d", mux.Listeners(), mux.Subscribers("projects|all"))
	}
	waitFor(t, first, "Alpha")
	waitFor(t, second, "Alpha")

	put(t, a, "p2", "Beta")
	waitFor(t, first, "Alpha,Beta")
	waitFor(t, second, "Alpha,Beta")

	first.Cancel()
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled subscription must be done")
	}
	put(t, a, "p3", "Gamma")
	waitFor(t, second, "Alpha,Beta,Gamma")
	if mux.Listeners() != 1 {
		t.Fatal("listener must survive while a subscriber remains")
	}

	second.Cancel()
	if mux.Listeners() != 0 {
		t.Fatal("last cancel must stop the listener")
	}
}

func TestMultiplexer_LateSubscriberGetsLatestSnapshot(t *testing.T) {
	a := memory.NewAdapter(nil)
	put(t, a, "p1", "Alpha")
	mux := NewMultiplexer[string](a, nil, Config{}, nil)
	defer mux.Close()

	first, _ := mux.Subscribe("k", namesLoader(a))
	waitFor(t, first, "Alpha")

	late, _ := mux.Subscribe("k", namesLoader(a))
	select {
	case v := <-late.Updates():
		if v != "Alpha" {
			t.Fatalf("late subscriber got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber must receive the current snapshot")
	}
}

func TestMultiplexer_TerminalError(t *testing.T) {
	a := memory.NewAdapter(nil)
	mux := NewMultiplexer[string](a, nil, Config{}, nil)
	defer mux.Close()

	var calls atomic.Int32
	loader := namesLoader(a)
	fetch := loader.Fetch
	loader.Fetch = func(ctx context.Context) ([]document.Document, error) {
		if calls.Add(1) > 1 {
			return nil, store.ErrUnavailable
		}
		return fetch(ctx)
	}

	sub, _ := mux.Subscribe("k", loader)
	waitFor(t, sub, "")
	put(t, a, "p1", "Alpha")

	select {
	case err := <-sub.Err():
		if !errors.Is(err, store.ErrUnavailable) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected terminal error")
	}
	if _, ok := <-sub.Updates(); ok {
		t.Fatal("no snapshot may follow a terminal error")
	}
	if mux.Listeners() != 0 {
		t.Fatal("failed listener must be removed")
	}
	sub.Cancel()
}

func TestMultiplexer_BusFallback(t *testing.T) {
	inner := memory.NewAdapter(nil)
	a := testutil.NewCountingAdapter(inner).WithCapabilities(store.Capabilities{NativeCount: true, StableOrder: true})
	bus := NewInMemoryBus()
	mux := NewMultiplexer[string](a, bus, Config{}, nil)
	defer mux.Close()

	sub, _ := mux.Subscribe("k", namesLoader(a))
	waitFor(t, sub, "")

	put(t, a, "p1", "Alpha")
	if err := bus.Publish(context.Background(), store.Change{Collection: "projects", ID: "p1", Type: store.ChangeCreated}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, sub, "Alpha")
}

func TestMultiplexer_NoFeedFails(t *testing.T) {
	a := testutil.NewCountingAdapter(memory.NewAdapter(nil)).WithCapabilities(store.Capabilities{})
	mux := NewMultiplexer[string](a, nil, Config{}, nil)
	defer mux.Close()

	sub, _ := mux.Subscribe("k", namesLoader(a))
	select {
	case err := <-sub.Err():
		if !errors.Is(err, store.ErrWatchUnsupported) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected terminal error")
	}
}

func TestMultiplexer_SkipsUnchangedSnapshots(t *testing.T) {
	a := memory.NewAdapter(nil)
	put(t, a, "p1", "Alpha")
	mux := NewMultiplexer[string](a, nil, Config{}, nil)
	defer mux.Close()

	var decodes atomic.Int32
	loader := namesLoader(a)
	decode := loader.Decode
	loader.Decode = func(docs []document.Document) string {
		decodes.Add(1)
		return decode(docs)
	}
	sub, _ := mux.Subscribe("k", loader)
	waitFor(t, sub, "Alpha")

	// Rewriting identical content signals a change but leaves the view equal.
	put(t, a, "p1", "Alpha")
	put(t, a, "p2", "Beta")
	waitFor(t, sub, "Alpha,Beta")
	if decodes.Load() != 2 {
		t.Fatalf("expected 2 decodes, got %d", decodes.Load())
	}
}

func TestMultiplexer_CloseEndsEverything(t *testing.T) {
	a := memory.NewAdapter(nil)
	mux := NewMultiplexer[string](a, nil, Config{}, nil)

	sub, _ := mux.Subscribe("k", namesLoader(a))
	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-sub.Done()
	sub.Cancel()
	if _, err := mux.Subscribe("k", namesLoader(a)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// Property: cancelling each handle any number of times never panics and always
// leaves the multiplexer without listeners.
func TestProperty_CancelIsIdempotent(t *testing.T) {
	testutil.SkipIfShort(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated cancel tears down once", prop.ForAll(
		func(repeats []int) bool {
			a := memory.NewAdapter(nil)
			mux := NewMultiplexer[string](a, nil, Config{}, nil)
			defer mux.Close()

			subs := make([]*Subscription[string], len(repeats))
			for i := range repeats {
				sub, err := mux.Subscribe("k", namesLoader(a))
				if err != nil {
					return false
				}
				subs[i] = sub
			}
			for i, n := range repeats {
				for j := 0; j < n; j++ {
					subs[i].Cancel()
				}
				if mux.Subscribers("k") != len(repeats)-i-1 {
					return false
				}
			}
			for _, sub := range subs {
				select {
				case <-sub.Done():
				default:
					return false
				}
			}
			return mux.Listeners() == 0
		},
		gen.SliceOfN(5, gen.IntRange(1, 4)),
	))

	properties.TestingRun(t)
}
