// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: if the buffer is full, the oldest element is discarded.
// Consumers read from C() like any Go channel and can range over it until Close.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println("got:", v) // 7, 8, 9
//	}
//
// Send after Close is a no-op, so a slow producer racing a consumer's shutdown never panics.
type RingChannel[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered element when full.
// Returns true if an element was dropped to make room.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}

	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
		rc.ch <- v
	}
	atomic.AddInt64(&rc.metrics.Written, 1)
	return dropped
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// GetMetrics returns a snapshot of the counters.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts elements accepted and elements discarded to make room.
type Metrics struct {
	Written     int64
	Overwritten int64
}
