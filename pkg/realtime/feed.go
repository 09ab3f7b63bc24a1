package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/docstore/pkg/store"
)

// busFeedBuffer bounds pending bus signals per listener. Extra signals are
// dropped: one pending signal already triggers a full refresh.
const busFeedBuffer = 16

// openFeed returns the change signals of collection until ctx is done. The
// store's own change stream is preferred; stores without one are fed from the
// bus.
func openFeed(ctx context.Context, adapter store.Adapter, bus Bus, collection string) (<-chan store.Change, error) {
	ch, err := adapter.Watch(ctx, collection)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, store.ErrWatchUnsupported) {
		return nil, err
	}
	if bus == nil {
		return nil, fmt.Errorf("%s: no change bus configured: %w", collection, err)
	}

	feed := make(chan store.Change, busFeedBuffer)
	sub, err := bus.Subscribe(ctx, collection, func(change store.Change) {
		select {
		case feed <- change:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: change bus: %w", store.ErrUnavailable, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return feed, nil
}
