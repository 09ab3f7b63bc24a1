package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/docstore/pkg/config"
	"github.com/nimburion/docstore/pkg/eventbus"
	"github.com/nimburion/docstore/pkg/eventbus/factory"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/store"
)

// Bus carries change signals between writers and listeners, for stores without a
// native change stream or across instances.
type Bus interface {
	Publish(ctx context.Context, change store.Change) error
	Subscribe(ctx context.Context, collection string, handler func(store.Change)) (BusSubscription, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// BusSubscription represents a cancelable bus subscription.
type BusSubscription interface {
	Close() error
}

// OpenBus builds the bus selected by cfg.
func OpenBus(cfg config.RealtimeConfig, log logger.Logger) (Bus, error) {
	switch bus := strings.ToLower(strings.TrimSpace(cfg.Bus)); {
	case bus == "" || bus == config.BusTypeInMemory:
		return NewInMemoryBus(), nil
	case bus == config.BusTypeRedis:
		redisBus, err := NewRedisBus(RedisBusConfig{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Channel,
			OperationTimeout: cfg.Redis.OperationTimeout,
			MaxConns:         cfg.Redis.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return redisBus, nil
	case factory.IsBroker(bus):
		broker, err := factory.NewBroker(cfg, log)
		if err != nil {
			return nil, err
		}
		return NewBrokerBus(broker, cfg.Broker.Topic, log), nil
	default:
		return nil, fmt.Errorf("unsupported realtime.bus %q (supported: inmemory, redis, kafka, rabbitmq, sqs)", cfg.Bus)
	}
}

// InMemoryBus is a local-only bus used by tests and single-process deployments.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]func(store.Change)
	nextID   uint64
}

// NewInMemoryBus creates a local in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string]map[uint64]func(store.Change)),
	}
}

// Publish delivers change to the handlers of its collection, synchronously.
func (b *InMemoryBus) Publish(_ context.Context, change store.Change) error {
	b.mu.RLock()
	handlers := b.handlers[change.Collection]
	copied := make([]func(store.Change), 0, len(handlers))
	for _, h := range handlers {
		copied = append(copied, h)
	}
	b.mu.RUnlock()

	for _, h := range copied {
		h(change)
	}
	return nil
}

// Subscribe registers a collection handler.
func (b *InMemoryBus) Subscribe(_ context.Context, collection string, handler func(store.Change)) (BusSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.handlers[collection] == nil {
		b.handlers[collection] = make(map[uint64]func(store.Change))
	}
	id := b.nextID
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

func (b *InMemoryBus) HealthCheck(context.Context) error { return nil }

// Close is a no-op for in-memory bus.
func (b *InMemoryBus) Close() error {
	return nil
}

type inMemoryBusSubscription struct {
	once    sync.Once
	closeFn func()
}

func (s *inMemoryBusSubscription) Close() error {
	s.once.Do(s.closeFn)
	return nil
}

// RedisBusConfig configures the Redis pub/sub bus.
type RedisBusConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	MaxConns         int
}

// RedisBus uses Redis pub/sub, one channel per collection.
type RedisBus struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
}

// NewRedisBus creates a Redis-backed bus. The connection is established lazily.
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}

	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "docstore:changes"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}

	return &RedisBus{
		client:    redis.NewClient(opts),
		prefix:    prefix,
		opTimeout: cfg.OperationTimeout,
	}, nil
}

// Publish pushes change to the collection channel.
func (b *RedisBus) Publish(ctx context.Context, change store.Change) error {
	raw, err := eventbus.MarshalChange(change)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, b.key(change.Collection), raw).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe consumes the collection channel and forwards decoded changes.
func (b *RedisBus) Subscribe(ctx context.Context, collection string, handler func(store.Change)) (BusSubscription, error) {
	pubsub := b.client.Subscribe(ctx, b.key(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-subCtx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				change, err := eventbus.UnmarshalChange([]byte(msg.Payload))
				if err != nil {
					continue
				}
				handler(change)
			}
		}
	}()

	return &redisBusSubscription{
		cancel: cancel,
		pubsub: pubsub,
	}, nil
}

// HealthCheck pings Redis.
func (b *RedisBus) HealthCheck(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()
	if err := b.client.Ping(cctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes Redis client.
func (b *RedisBus) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *RedisBus) key(collection string) string {
	return fmt.Sprintf("%s:%s", b.prefix, collection)
}

type redisBusSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

func (s *redisBusSubscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.pubsub != nil {
			err = s.pubsub.Close()
		}
	})
	return err
}
