package consumer

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/realtime"
	"github.com/nimburion/docstore/pkg/repository"
)

// ErrClosed is returned by requests issued after Close.
var ErrClosed = errors.New("consumer: resource closed")

// Resource is the request state machine shared by List and Item.
//
// Each request takes a new generation and cancels the context of the one it
// supersedes. A result settles the state only if its generation is still the
// newest, so a superseded response is never observed, whatever order responses
// arrive in.
type Resource[V any] struct {
	mu      sync.Mutex
	state   State[V]
	before  State[V]
	gen     uint64
	cancel  context.CancelFunc
	live    *binding
	closed  bool
	updates chan State[V]
	logger  logger.Logger
}

type binding struct {
	stop func()
}

func newResource[V any](log logger.Logger) *Resource[V] {
	if log == nil {
		log = logger.Nop()
	}
	return &Resource[V]{
		updates: make(chan State[V], 1),
		logger:  log,
	}
}

// State returns the current state.
func (r *Resource[V]) State() State[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Updates streams state transitions. A slow reader only misses intermediate
// states; the channel closes on Close.
func (r *Resource[V]) Updates() <-chan State[V] { return r.updates }

// Close cancels the in-flight request and the live binding without starting a
// new request. The last state stays readable.
func (r *Resource[V]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.supersedeLocked()
	r.unbindLocked()
	close(r.updates)
}

// run issues one request. It returns the request's error when the request was
// the newest one to settle, and nil when it was superseded or cancelled.
func (r *Resource[V]) run(ctx context.Context, fetch func(context.Context) (V, *Meta, error)) error {
	req, reqCtx, err := r.start(ctx)
	if err != nil {
		return err
	}
	data, meta, err := fetch(reqCtx)
	if !r.settle(req, data, meta, err) {
		return nil
	}
	return err
}

// request identifies one issued request.
type request struct {
	gen uint64
	id  string
}

func (r *Resource[V]) start(ctx context.Context) (request, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return request{}, nil, ErrClosed
	}
	r.supersedeLocked()
	reqCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.before = r.state
	r.state.Status = StatusLoading
	r.state.Err = nil
	r.state.Message = ""
	r.publishLocked()
	return request{gen: r.gen, id: uuid.NewString()}, reqCtx, nil
}

// supersedeLocked retires the in-flight request, if any.
func (r *Resource[V]) supersedeLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.gen++
}

func (r *Resource[V]) settle(req request, data V, meta *Meta, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || req.gen != r.gen {
		r.logger.Debug("superseded response discarded", "request_id", req.id)
		return false
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	switch {
	case errors.Is(err, repository.ErrCancelled):
		// The caller gave up on the request; nothing newer replaced it.
		r.state = r.before
	case err != nil:
		r.state.Status = StatusError
		r.state.Err = err
		r.state.Message = repository.Message(err)
	default:
		r.state = State[V]{Status: StatusReady, Data: data, Meta: meta}
	}
	r.publishLocked()
	return !errors.Is(err, repository.ErrCancelled)
}

// fail records a mutation failure as the newest outcome.
func (r *Resource[V]) fail(err error) {
	if errors.Is(err, repository.ErrCancelled) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.supersedeLocked()
	r.state.Status = StatusError
	r.state.Err = err
	r.state.Message = repository.Message(err)
	r.publishLocked()
}

func (r *Resource[V]) publishLocked() {
	for {
		select {
		case r.updates <- r.state:
			return
		default:
		}
		select {
		case <-r.updates:
		default:
		}
	}
}

// bind feeds the subscription's snapshots into the state. Binding and every
// snapshot supersede the in-flight request. A terminal subscription error
// becomes the Error state and ends the binding.
func (r *Resource[V]) bind(sub *realtime.Subscription[V]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sub.Cancel()
		return ErrClosed
	}
	r.supersedeLocked()
	r.unbindLocked()
	r.before = r.state
	r.state.Status = StatusLoading
	r.state.Err = nil
	r.state.Message = ""
	r.publishLocked()
	b := &binding{stop: sub.Cancel}
	r.live = b
	go r.follow(b, sub)
	return nil
}

func (r *Resource[V]) follow(b *binding, sub *realtime.Subscription[V]) {
	for snapshot := range sub.Updates() {
		r.mu.Lock()
		if r.closed || r.live != b {
			r.mu.Unlock()
			return
		}
		r.supersedeLocked()
		r.state = State[V]{Status: StatusReady, Data: snapshot}
		r.publishLocked()
		r.mu.Unlock()
	}
	err, failed := <-sub.Err()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live != b {
		return
	}
	r.live = nil
	if failed && err != nil && !r.closed {
		r.supersedeLocked()
		r.state.Status = StatusError
		r.state.Err = err
		r.state.Message = repository.Message(err)
		r.publishLocked()
	}
}

func (r *Resource[V]) unbindLocked() {
	if r.live != nil {
		r.live.stop()
		r.live = nil
	}
}

// Live reports whether the resource follows a subscription.
func (r *Resource[V]) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live != nil
}

// StopLive ends the live binding, keeping the last state.
func (r *Resource[V]) StopLive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked()
}
