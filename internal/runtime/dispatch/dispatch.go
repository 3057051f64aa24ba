// Package dispatch routes dequeued events through the status machine and
// into their registered handlers.
package dispatch

import (
	"context"
	"fmt"

	"iris/internal/logging"
	"iris/internal/observability"
	"iris/internal/runtime/event"
	"iris/internal/runtime/status"
)

// Handler processes one event on the entity worker.
type Handler func(ctx context.Context, evt event.Event) error

// Registry maps event kinds to handlers.
type Registry struct {
	handlers map[event.Kind]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[event.Kind]Handler)}
}

// Register installs the handler for an event kind, replacing any previous
// registration.
func (r *Registry) Register(kind event.Kind, h Handler) {
	r.handlers[kind] = h
}

// Get returns the handler for kind.
func (r *Registry) Get(kind event.Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Dispatcher applies the status transition derived from each event, then
// invokes its handler. A handler failure is converted into an AgentError
// signal; the loop itself never crashes.
type Dispatcher struct {
	entityID string
	registry *Registry
	status   *status.Manager
	logger   logging.Logger
	metrics  *observability.Metrics

	// onError receives handler failures so the owner can enqueue an
	// AgentError event. The ERROR transition happens when that event is
	// dispatched.
	onError func(evt event.Event, err error)
}

// NewDispatcher wires a dispatcher for one entity.
func NewDispatcher(entityID string, registry *Registry, st *status.Manager, logger logging.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		entityID: entityID,
		registry: registry,
		status:   st,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
	}
}

// SetErrorSink installs the handler-failure sink.
func (d *Dispatcher) SetErrorSink(fn func(evt event.Event, err error)) {
	d.onError = fn
}

// Dispatch processes one event: derive and apply the status transition, then
// run the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, evt event.Event) {
	ctx, span := observability.StartDispatchSpan(ctx, d.entityID, string(evt.Kind()))
	defer span.End()

	if d.metrics != nil {
		d.metrics.EventsDispatched.WithLabelValues(d.entityID, string(evt.Kind())).Inc()
	}

	if target, ok := status.Derive(d.status.Current(), evt); ok {
		d.status.Transition(ctx, target, transitionData(evt))
	}

	handler, ok := d.registry.Get(evt.Kind())
	if !ok {
		d.logger.Debug("no handler for event kind %s", evt.Kind())
		return
	}

	if err := d.run(ctx, handler, evt); err != nil {
		d.logger.Error("handler for %s failed: %v", evt.Kind(), err)
		if d.onError != nil && evt.Kind() != event.KindAgentError {
			d.onError(evt, err)
		}
	}
}

// run guards the handler against panics so no failure crosses the worker
// boundary.
func (d *Dispatcher) run(ctx context.Context, handler Handler, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, evt)
}

// transitionData exposes event payload fields that lifecycle hooks and
// processors may inspect.
func transitionData(evt event.Event) map[string]any {
	data := map[string]any{"event_kind": string(evt.Kind())}
	switch e := evt.(type) {
	case event.PendingToolInvocation:
		data["invocation_id"] = e.Invocation.ID
		data["tool_name"] = e.Invocation.ToolName
	case event.ExecuteToolInvocation:
		data["invocation_id"] = e.Invocation.ID
		data["tool_name"] = e.Invocation.ToolName
	case event.ToolResult:
		data["invocation_id"] = e.InvocationID
		data["denied"] = e.Denied
	case event.AgentError:
		data["phase"] = e.Phase
		if e.Err != nil {
			data["error"] = e.Err.Error()
		}
	}
	return data
}
