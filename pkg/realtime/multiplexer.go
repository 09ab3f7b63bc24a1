// Package realtime turns store change signals into live snapshot subscriptions.
//
// A Multiplexer keeps at most one listener per key. The listener owns one
// producer goroutine that re-reads its view on every change and fans the decoded
// snapshot out to every subscriber of the key. The listener stops when its last
// subscriber cancels.
package realtime

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/observability/metrics"
	"github.com/nimburion/docstore/pkg/store"
)

var (
	// ErrClosed is returned when subscribing to a closed multiplexer.
	ErrClosed = errors.New("multiplexer is closed")
	// ErrFeedClosed is delivered when the store ends a change stream.
	ErrFeedClosed = errors.New("change feed closed")
)

// Config tunes delivery.
type Config struct {
	// ClientBuffer is the number of pending snapshots kept per subscriber. Once
	// full, the oldest pending snapshot is replaced.
	ClientBuffer int
	// RefreshRate bounds re-reads per listener per second. Zero disables it.
	RefreshRate  float64
	RefreshBurst int
}

// Loader reads and decodes the view behind one key.
type Loader[V any] struct {
	Collection string
	Fetch      func(ctx context.Context) ([]document.Document, error)
	Decode     func(docs []document.Document) V
	// Relevant filters change signals. Nil accepts all.
	Relevant func(change store.Change) bool
}

// Multiplexer shares one store listener per key among subscribers.
type Multiplexer[V any] struct {
	adapter store.Adapter
	bus     Bus
	cfg     Config
	logger  logger.Logger

	mu        sync.Mutex
	listeners map[string]*listener[V]
	nextID    uint64
	closed    bool
}

type listener[V any] struct {
	key        string
	collection string
	cancel     context.CancelFunc
	subs       map[uint64]*Subscription[V]
	last       V
	hasLast    bool
}

// Cosa fa: crea un multiplexer che condivide un listener per chiave.
// Cosa NON fa: non possiede adapter e bus, che restano del chiamante.
// Esempio minimo: mux := realtime.NewMultiplexer[[]Project](adapter, bus, cfg, log)
func NewMultiplexer[V any](adapter store.Adapter, bus Bus, cfg Config, log logger.Logger) *Multiplexer[V] {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 1
	}
	if cfg.RefreshBurst <= 0 {
		cfg.RefreshBurst = 1
	}
	return &Multiplexer[V]{
		adapter:   adapter,
		bus:       bus,
		cfg:       cfg,
		logger:    log,
		listeners: make(map[string]*listener[V]),
	}
}

// Subscribe registers a subscriber for key and returns immediately. The first
// subscriber of a key starts its listener with loader; later subscribers share
// it and receive the latest snapshot right away.
func (m *Multiplexer[V]) Subscribe(key string, loader Loader[V]) (*Subscription[V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.nextID++
	sub := &Subscription[V]{
		id:      m.nextID,
		key:     key,
		mux:     m,
		updates: make(chan V, m.cfg.ClientBuffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}

	l := m.listeners[key]
	if l == nil {
		ctx, cancel := context.WithCancel(context.Background())
		l = &listener[V]{
			key:        key,
			collection: loader.Collection,
			cancel:     cancel,
			subs:       make(map[uint64]*Subscription[V]),
		}
		m.listeners[key] = l
		metrics.ListenerStarted()
		m.logger.Debug("listener started", "key", key, "collection", loader.Collection)
		go m.run(ctx, l, loader)
	} else if l.hasLast {
		offer(sub.updates, l.last)
	}
	l.subs[sub.id] = sub
	metrics.SubscriberAdded()
	return sub, nil
}

// Listeners returns the number of active listeners.
func (m *Multiplexer[V]) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Subscribers returns the number of subscribers sharing key.
func (m *Multiplexer[V]) Subscribers(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.listeners[key]; l != nil {
		return len(l.subs)
	}
	return 0
}

// Close cancels every subscription. Further Subscribe calls fail.
func (m *Multiplexer[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for key, l := range m.listeners {
		m.stopLocked(key, l, nil)
	}
	return nil
}

// stopLocked tears a listener down and ends its subscriptions, delivering err
// first when it is not nil.
func (m *Multiplexer[V]) stopLocked(key string, l *listener[V], err error) {
	l.cancel()
	delete(m.listeners, key)
	metrics.ListenerStopped()
	for id, sub := range l.subs {
		delete(l.subs, id)
		sub.finish(err)
		metrics.SubscriberRemoved()
	}
	m.logger.Debug("listener stopped", "key", key)
}

func (m *Multiplexer[V]) remove(sub *Subscription[V]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listeners[sub.key]
	if l == nil || l.subs[sub.id] != sub {
		return
	}
	delete(l.subs, sub.id)
	sub.finish(nil)
	metrics.SubscriberRemoved()
	if len(l.subs) == 0 {
		l.cancel()
		delete(m.listeners, sub.key)
		metrics.ListenerStopped()
		m.logger.Debug("listener stopped", "key", sub.key)
	}
}

// fail ends every subscription of l with err.
func (m *Multiplexer[V]) fail(l *listener[V], err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners[l.key] != l {
		return
	}
	m.logger.Warn("listener failed", "key", l.key, "collection", l.collection, "error", err)
	m.stopLocked(l.key, l, err)
}

func (m *Multiplexer[V]) deliver(l *listener[V], v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners[l.key] != l {
		return
	}
	l.last = v
	l.hasLast = true
	for _, sub := range l.subs {
		offer(sub.updates, v)
	}
}

func (m *Multiplexer[V]) run(ctx context.Context, l *listener[V], loader Loader[V]) {
	feed, err := openFeed(ctx, m.adapter, m.bus, loader.Collection)
	if err != nil {
		if ctx.Err() == nil {
			m.fail(l, err)
		}
		return
	}

	var limiter *rate.Limiter
	if m.cfg.RefreshRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.cfg.RefreshRate), m.cfg.RefreshBurst)
	}

	var previous []document.Document
	first := true
	refresh := func() bool {
		docs, err := loader.Fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.fail(l, err)
			}
			return false
		}
		if !first && sameDocuments(previous, docs) {
			return true
		}
		first = false
		previous = docs
		m.deliver(l, loader.Decode(docs))
		return true
	}

	if !refresh() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-feed:
			if !ok {
				if ctx.Err() == nil {
					m.fail(l, ErrFeedClosed)
				}
				return
			}
			if loader.Relevant != nil && !loader.Relevant(change) {
				continue
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			if !drain(feed) {
				if ctx.Err() == nil {
					m.fail(l, ErrFeedClosed)
				}
				return
			}
			if !refresh() {
				return
			}
		}
	}
}

// drain discards signals already queued; one refresh covers them all. It
// returns false when the feed has been closed.
func drain(feed <-chan store.Change) bool {
	for {
		select {
		case _, ok := <-feed:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func sameDocuments(a, b []document.Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !document.Equal(a[i].Fields, b[i].Fields) {
			return false
		}
	}
	return true
}

// offer sends v, replacing the oldest pending value when ch is full. Callers hold
// the multiplexer lock, so ch cannot be closed concurrently.
func offer[V any](ch chan V, v V) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
