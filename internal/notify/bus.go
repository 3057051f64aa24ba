package notify

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultStreamBuffer bounds a subscriber channel.
	DefaultStreamBuffer = 256

	// replayPerEntity bounds the per-entity replay ring.
	replayPerEntity = 128

	// replayEntities bounds how many entities keep a replay ring alive.
	replayEntities = 64
)

// Bus is the in-process event bus. The core writes; external consumers read.
// Publishing never blocks: a full subscriber buffer drops the record and the
// next delivered event carries a truncation marker.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Stream]struct{}
	replay *lru.Cache[string, *replayRing]
	onDrop func(entityID string)
}

// Stream is one subscriber's view of the bus.
type Stream struct {
	entityID string // "" subscribes to every entity
	ch       chan StreamEvent
	dropped  int
	closed   bool
}

type replayRing struct {
	events []StreamEvent
}

// NewBus creates an event bus.
func NewBus() *Bus {
	cache, _ := lru.New[string, *replayRing](replayEntities)
	return &Bus{
		subs:   make(map[*Stream]struct{}),
		replay: cache,
	}
}

// OnDrop registers a callback fired whenever a record is dropped for a slow
// consumer. Used to feed the stream-drop counter.
func (b *Bus) OnDrop(fn func(entityID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Publish fans ev out to matching subscribers and records it for replay.
func (b *Bus) Publish(ev StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring, ok := b.replay.Get(ev.EntityID)
	if !ok {
		ring = &replayRing{}
		b.replay.Add(ev.EntityID, ring)
	}
	ring.events = append(ring.events, ev)
	if len(ring.events) > replayPerEntity {
		ring.events = ring.events[len(ring.events)-replayPerEntity:]
	}

	for sub := range b.subs {
		if sub.entityID != "" && sub.entityID != ev.EntityID {
			continue
		}
		out := ev
		if sub.dropped > 0 {
			out.Truncated = true
		}
		select {
		case sub.ch <- out:
			sub.dropped = 0
		default:
			sub.dropped++
			if b.onDrop != nil {
				b.onDrop(ev.EntityID)
			}
		}
	}
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	buffer int
	replay bool
}

// WithBuffer overrides the subscriber channel capacity.
func WithBuffer(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithReplay delivers the entity's recent history, flagged Replayed, before
// live events.
func WithReplay() SubscribeOption {
	return func(c *subscribeConfig) { c.replay = true }
}

// Subscribe attaches a new stream for the given entity; empty entityID
// subscribes to every entity on the bus.
func (b *Bus) Subscribe(entityID string, opts ...SubscribeOption) *Stream {
	cfg := subscribeConfig{buffer: DefaultStreamBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Stream{entityID: entityID, ch: make(chan StreamEvent, cfg.buffer)}
	if cfg.replay && entityID != "" {
		if ring, ok := b.replay.Get(entityID); ok {
			for _, ev := range ring.events {
				ev.Replayed = true
				select {
				case sub.ch <- ev:
				default:
				}
			}
		}
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches the stream and closes its channel.
func (b *Bus) Unsubscribe(sub *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub == nil || sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub)
	close(sub.ch)
}

// Events returns the subscriber's receive channel. It is closed on
// Unsubscribe.
func (s *Stream) Events() <-chan StreamEvent {
	return s.ch
}

// EntityID returns the entity this stream observes, empty for all.
func (s *Stream) EntityID() string {
	return s.entityID
}
