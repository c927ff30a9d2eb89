// Package queue provides the bounded, depth-128 queues spec §5 requires
// for the executor's inbound command queue and every connection's
// inbound/outbound channel. It wraps gopkg.in/eapache/channels.v1's
// Channel interface so all three call sites (connection pipeline,
// executor, replica fan-out) share one bounded-queue implementation
// instead of three ad-hoc buffered-channel declarations.
package queue

import (
	"errors"

	channels "gopkg.in/eapache/channels.v1"
)

// DefaultCapacity is the §5 bounded-queue depth used for the executor's
// command queue and every per-connection inbound/outbound channel.
const DefaultCapacity = 128

// ErrFull is returned by TrySend when the queue is saturated; callers
// that must not block (replica fan-out, spec §4.D) use this to drive
// their retry-then-evict policy.
var ErrFull = errors.New("queue: full")

// ErrClosed is returned by Send/TrySend once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// Bounded is a fixed-capacity FIFO queue of arbitrary payloads
// (respval.Values on connection queues, WorkerMessages on the executor's).
// The zero value is not usable; construct with New.
type Bounded struct {
	ch     channels.Channel
	closed chan struct{}
}

// New returns a Bounded queue with room for capacity pending items.
func New(capacity int) *Bounded {
	return &Bounded{
		ch:     channels.NewNativeChannel(channels.BufferCap(capacity)),
		closed: make(chan struct{}),
	}
}

// Send enqueues v, blocking while the queue is full — this is the
// intended backpressure mechanism of spec §5 ("sending to a bounded
// channel (may block when full)"). It unblocks early if haltCh closes or
// the queue itself is closed.
func (q *Bounded) Send(v interface{}, haltCh <-chan struct{}) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch.In() <- v:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-haltCh:
		return ErrClosed
	}
}

// TrySend enqueues v without blocking, used by replica fan-out (spec
// §4.D: "No blocking on send failure").
func (q *Bounded) TrySend(v interface{}) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch.In() <- v:
		return nil
	default:
		return ErrFull
	}
}

// Receive blocks for the next item, or returns ok == false once the
// queue is closed and drained.
func (q *Bounded) Receive(haltCh <-chan struct{}) (interface{}, bool) {
	select {
	case v, ok := <-q.ch.Out():
		return v, ok
	case <-haltCh:
		return nil, false
	case <-q.closed:
		select {
		case v, ok := <-q.ch.Out():
			return v, ok
		default:
			return nil, false
		}
	}
}

// Out exposes the raw receive channel for select-based consumers. Nothing
// in this repository uses it; the connection writer task calls Receive.
func (q *Bounded) Out() <-chan interface{} {
	return q.ch.Out()
}

// Len reports the number of items currently queued.
func (q *Bounded) Len() int {
	return q.ch.Len()
}

// Close closes the queue. Safe to call more than once.
func (q *Bounded) Close() {
	select {
	case <-q.closed:
		return
	default:
		close(q.closed)
	}
}
