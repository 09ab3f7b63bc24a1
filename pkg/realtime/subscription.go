package realtime

import "sync"

// Subscription is one subscriber's handle on a live view.
//
// Updates delivers full replacement snapshots, latest first: a slow reader only
// ever misses intermediate snapshots. When the view fails, the error is sent on
// Err and every channel is closed; no snapshot follows it.
type Subscription[V any] struct {
	id  uint64
	key string
	mux *Multiplexer[V]

	updates chan V
	errs    chan error
	done    chan struct{}
	once    sync.Once
}

// Key returns the listener key the subscription shares.
func (s *Subscription[V]) Key() string { return s.key }

// Updates returns the snapshot stream.
func (s *Subscription[V]) Updates() <-chan V { return s.updates }

// Err returns a channel receiving the terminal error, if any. It is closed when
// the subscription ends.
func (s *Subscription[V]) Err() <-chan error { return s.errs }

// Done is closed when the subscription ends for any reason.
func (s *Subscription[V]) Done() <-chan struct{} { return s.done }

// Cancel ends the subscription. It is safe to call more than once and after the
// subscription failed.
func (s *Subscription[V]) Cancel() {
	s.once.Do(func() {
		s.mux.remove(s)
	})
}

// finish closes the subscription channels. Called once, under the multiplexer
// lock, when the subscription leaves its listener.
func (s *Subscription[V]) finish(err error) {
	if err != nil {
		s.errs <- err
	}
	close(s.errs)
	close(s.updates)
	close(s.done)
}
