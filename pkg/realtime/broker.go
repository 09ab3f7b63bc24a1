package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/docstore/pkg/eventbus"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/store"
)

// BrokerBus carries change signals over a message broker. All collections
// share one topic; the bus holds a single broker subscription and routes by
// collection locally.
type BrokerBus struct {
	broker eventbus.Broker
	topic  string
	logger logger.Logger

	mu         sync.Mutex
	handlers   map[string]map[uint64]func(store.Change)
	nextID     uint64
	subscribed bool
	cancel     context.CancelFunc
	closed     bool
}

// NewBrokerBus wraps broker. The bus owns it and closes it on Close.
func NewBrokerBus(broker eventbus.Broker, topic string, log logger.Logger) *BrokerBus {
	if log == nil {
		log = logger.Nop()
	}
	if topic == "" {
		topic = "docstore-changes"
	}
	return &BrokerBus{
		broker:   broker,
		topic:    topic,
		logger:   log,
		handlers: make(map[string]map[uint64]func(store.Change)),
	}
}

// Publish sends change to the broker topic.
func (b *BrokerBus) Publish(ctx context.Context, change store.Change) error {
	msg, err := eventbus.EncodeChange(change, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := b.broker.Publish(ctx, b.topic, msg); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe registers handler for collection. The first subscription opens the
// broker subscription, which stays open until Close.
func (b *BrokerBus) Subscribe(_ context.Context, collection string, handler func(store.Change)) (BusSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("change bus is closed")
	}
	if !b.subscribed {
		ctx, cancel := context.WithCancel(context.Background())
		if err := b.broker.Subscribe(ctx, b.topic, b.dispatch); err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", b.topic, err)
		}
		b.subscribed = true
		b.cancel = cancel
	}

	b.nextID++
	id := b.nextID
	if b.handlers[collection] == nil {
		b.handlers[collection] = make(map[uint64]func(store.Change))
	}
	b.handlers[collection][id] = handler
	return &inMemoryBusSubscription{
		closeFn: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[collection], id)
			if len(b.handlers[collection]) == 0 {
				delete(b.handlers, collection)
			}
		},
	}, nil
}

// dispatch routes one broker message. Malformed messages are dropped so the
// broker does not redeliver them forever.
func (b *BrokerBus) dispatch(_ context.Context, msg *eventbus.Message) error {
	change, err := eventbus.DecodeChange(msg)
	if err != nil {
		b.logger.Warn("dropping malformed change message", "topic", b.topic, "error", err)
		return nil
	}
	b.mu.Lock()
	handlers := make([]func(store.Change), 0, len(b.handlers[change.Collection]))
	for _, h := range b.handlers[change.Collection] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
	return nil
}

// HealthCheck checks the broker.
func (b *BrokerBus) HealthCheck(ctx context.Context) error {
	return b.broker.HealthCheck(ctx)
}

// Close ends the broker subscription and closes the broker.
func (b *BrokerBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	b.handlers = make(map[string]map[uint64]func(store.Change))
	b.mu.Unlock()
	return b.broker.Close()
}
