// Package queue implements the bounded, prioritized input queues owned by
// one entity worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"iris/internal/runtime/event"
)

var (
	// ErrQueueFull is returned by TrySubmit when the target queue is at
	// capacity.
	ErrQueueFull = errors.New("queue full")

	// ErrTimeout is returned by Next when no event arrived in time.
	ErrTimeout = errors.New("queue wait timed out")

	// ErrClosed is returned after Close; no further submissions are accepted.
	ErrClosed = errors.New("queue set closed")

	// ErrUnknownQueue is returned for a kind outside the configured set.
	ErrUnknownQueue = errors.New("unknown queue kind")
)

// DefaultCapacity bounds each queue when no explicit capacity is configured.
const DefaultCapacity = 64

// Manager owns one entity's input queue set.
//
// Submission is safe from any goroutine; the channels serialize it. All other
// state (per-queue buffers, close flag) is single-writer: only the entity
// worker calls Next and Close.
type Manager struct {
	order    []event.QueueKind
	channels map[event.QueueKind]chan event.Event
	buffers  map[event.QueueKind][]event.Event
	closed   chan struct{}
	depth    func(event.QueueKind, int)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDepthObserver registers a callback invoked with the buffered depth of a
// queue whenever it changes. Used to feed the queue depth gauge.
func WithDepthObserver(fn func(kind event.QueueKind, depth int)) Option {
	return func(m *Manager) { m.depth = fn }
}

// New creates a queue set for the given priority order (highest first).
// Capacities maps queue kind to bound; missing kinds get DefaultCapacity.
func New(order []event.QueueKind, capacities map[event.QueueKind]int, opts ...Option) *Manager {
	m := &Manager{
		order:    append([]event.QueueKind(nil), order...),
		channels: make(map[event.QueueKind]chan event.Event, len(order)),
		buffers:  make(map[event.QueueKind][]event.Event, len(order)),
		closed:   make(chan struct{}),
	}
	for _, kind := range order {
		capacity := capacities[kind]
		if capacity <= 0 {
			capacity = DefaultCapacity
		}
		m.channels[kind] = make(chan event.Event, capacity)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Kinds returns the configured queue kinds in priority order.
func (m *Manager) Kinds() []event.QueueKind {
	return append([]event.QueueKind(nil), m.order...)
}

// Submit enqueues evt onto its queue, blocking while the queue is full.
// It fails when ctx is cancelled or the queue set is closed.
func (m *Manager) Submit(ctx context.Context, evt event.Event) error {
	ch, ok := m.channels[event.QueueFor(evt.Kind())]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, event.QueueFor(evt.Kind()))
	}
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case ch <- evt:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues evt without blocking, failing with ErrQueueFull when the
// queue is at capacity.
func (m *Manager) TrySubmit(evt event.Event) error {
	ch, ok := m.channels[event.QueueFor(evt.Kind())]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, event.QueueFor(evt.Kind()))
	}
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case ch <- evt:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, event.QueueFor(evt.Kind()))
	}
}

// Next returns the next event respecting FIFO within each queue and the fixed
// priority order across queues.
//
// Two phases: buffered items win immediately, highest priority first.
// Otherwise Next waits on every queue at once; whatever arrives is buffered
// per queue (never re-enqueued at the tail) and selection restarts from the
// buffers. ErrTimeout is returned when nothing arrived within timeout so the
// caller can observe its stop signal; buffered events survive the timeout.
func (m *Manager) Next(timeout time.Duration) (event.Event, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.drain()
		if evt, ok := m.pop(); ok {
			return evt, nil
		}

		cases := make([]reflect.SelectCase, 0, len(m.order)+1)
		for _, kind := range m.order {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(m.channels[kind]),
			})
		}
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(deadline.C),
		})

		chosen, value, recvOK := reflect.Select(cases)
		if chosen == len(m.order) {
			return nil, ErrTimeout
		}
		if recvOK {
			m.buffer(m.order[chosen], value.Interface().(event.Event))
		}
	}
}

// drain moves everything currently readable into the per-queue buffers
// without blocking.
func (m *Manager) drain() {
	for _, kind := range m.order {
		ch := m.channels[kind]
		for {
			select {
			case evt := <-ch:
				m.buffer(kind, evt)
			default:
			}
			if len(ch) == 0 {
				break
			}
		}
	}
}

func (m *Manager) buffer(kind event.QueueKind, evt event.Event) {
	m.buffers[kind] = append(m.buffers[kind], evt)
	if m.depth != nil {
		m.depth(kind, len(m.buffers[kind]))
	}
}

// pop removes the head of the highest-priority non-empty buffer.
func (m *Manager) pop() (event.Event, bool) {
	for _, kind := range m.order {
		buf := m.buffers[kind]
		if len(buf) == 0 {
			continue
		}
		evt := buf[0]
		m.buffers[kind] = buf[1:]
		if m.depth != nil {
			m.depth(kind, len(m.buffers[kind]))
		}
		return evt, true
	}
	return nil, false
}

// Buffered reports the number of events parked in the worker-side buffers.
func (m *Manager) Buffered() int {
	total := 0
	for _, buf := range m.buffers {
		total += len(buf)
	}
	return total
}

// Close rejects all further submissions. In-flight channel contents remain
// readable by Next so shutdown can drain.
func (m *Manager) Close() {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
}
