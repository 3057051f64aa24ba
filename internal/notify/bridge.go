package notify

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Multiplexer forwards child entity streams into a parent's bus. One
// EventBridge per child; bridge lifetime equals child lifetime, and Teardown
// cancels every bridge.
type Multiplexer struct {
	parent *Notifier
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewMultiplexer creates a multiplexer publishing into parent.
func NewMultiplexer(parent *Notifier) *Multiplexer {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Multiplexer{parent: parent, ctx: ctx, cancel: cancel, group: group}
}

// Bridge subscribes to the child's stream on childBus and republishes every
// event into the parent bus, preserving the child identifier in the payload.
func (m *Multiplexer) Bridge(childID string, childBus *Bus) {
	sub := childBus.Subscribe(childID)
	m.group.Go(func() error {
		defer childBus.Unsubscribe(sub)
		for {
			select {
			case <-m.ctx.Done():
				return nil
			case ev, ok := <-sub.Events():
				if !ok {
					return nil
				}
				m.forward(childID, ev)
			}
		}
	})
}

func (m *Multiplexer) forward(childID string, ev StreamEvent) {
	payload := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	payload["child_id"] = childID
	ev.EntityID = m.parent.EntityID()
	ev.Payload = payload
	m.parent.Bus().Publish(ev)
}

// Teardown cancels all bridges and waits for them to drain.
func (m *Multiplexer) Teardown() {
	m.cancel()
	_ = m.group.Wait()
}
