// Package router bridges round-based MPC code — which thinks in terms of typed inbound/outbound
// message streams — to the shared multiplexed transport (§4.2). Grounded on the teacher's
// netadapter/router/route.go Route abstraction: a bounded channel with a closed-channel-safe
// Enqueue/Dequeue pair, generalized here from "one route per connection" to "one inbox/outbox
// pair per ceremony/voting session" per the orchestrator's message_router design.
package router

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// maxMessages bounds every route at 1000 (§4.2 channel sizing): large enough to absorb a burst
// of round messages without runaway memory, small enough that a stalled pump is detectable by a
// full channel rather than unbounded growth.
const maxMessages = 1000

var (
	// ErrTimeout signifies that a DequeueWithTimeout call timed out.
	ErrTimeout = errors.New("timeout expired")
	// ErrRouteClosed indicates a route was used after Close.
	ErrRouteClosed = errors.New("route is closed")
)

// Route is a single bounded, closeable channel of typed messages, identical in shape to the
// teacher's Route but generic over the payload type the ceremony/vote layer pushes through it.
type Route struct {
	channel chan interface{}

	closed    bool
	closeLock sync.Mutex
}

// NewRoute creates a Route with the standard capacity.
func NewRoute() *Route {
	return &Route{channel: make(chan interface{}, maxMessages)}
}

// Enqueue pushes message onto the route, blocking while the route is at capacity so backpressure
// shows up as a slow sender rather than a silently dropped round message. Returns ErrRouteClosed
// if the route was already closed at the time of the call.
func (r *Route) Enqueue(message interface{}) error {
	r.closeLock.Lock()
	defer r.closeLock.Unlock()
	if r.closed {
		return errors.WithStack(ErrRouteClosed)
	}
	r.channel <- message
	return nil
}

// Dequeue blocks for the next message.
func (r *Route) Dequeue() (interface{}, error) {
	message, isOpen := <-r.channel
	if !isOpen {
		return nil, errors.WithStack(ErrRouteClosed)
	}
	return message, nil
}

// DequeueWithTimeout blocks for the next message or until timeout elapses.
func (r *Route) DequeueWithTimeout(timeout time.Duration) (interface{}, error) {
	select {
	case <-time.After(timeout):
		return nil, errors.Wrapf(ErrTimeout, "got timeout after %s", timeout)
	case message, isOpen := <-r.channel:
		if !isOpen {
			return nil, errors.WithStack(ErrRouteClosed)
		}
		return message, nil
	}
}

// Close closes the route. Idempotent.
func (r *Route) Close() error {
	r.closeLock.Lock()
	defer r.closeLock.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.channel)
	return nil
}
