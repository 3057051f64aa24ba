package notify

import (
	"iris/internal/runtime/ports"
	"iris/internal/segment"
)

// Notifier publishes one entity's runtime signals onto the bus with stable
// field names. All methods are called from the entity worker (or the LLM
// streaming path it owns) and never block.
type Notifier struct {
	entityID string
	bus      *Bus
	clock    ports.Clock
}

// NewNotifier creates a notifier for one entity.
func NewNotifier(entityID string, bus *Bus, clock ports.Clock) *Notifier {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Notifier{entityID: entityID, bus: bus, clock: clock}
}

// Bus exposes the underlying bus for subscription and bridging.
func (n *Notifier) Bus() *Bus { return n.bus }

// EntityID returns the owning entity id.
func (n *Notifier) EntityID() string { return n.entityID }

func (n *Notifier) publish(ev StreamEvent) {
	ev.EntityID = n.entityID
	ev.Timestamp = n.clock.Now()
	n.bus.Publish(ev)
}

// StatusChanged reports a completed status transition.
func (n *Notifier) StatusChanged(from, to string, lifecycle string) {
	payload := map[string]any{"from": from}
	if lifecycle != "" {
		payload["lifecycle"] = lifecycle
	}
	n.publish(StreamEvent{Kind: KindStatusChanged, Status: to, Payload: payload})
}

// AssistantChunk forwards one raw text delta from the model.
func (n *Notifier) AssistantChunk(delta string) {
	n.publish(StreamEvent{Kind: KindAssistantChunk, Payload: map[string]any{"delta": delta}})
}

// SegmentEvent forwards one parser segment event.
func (n *Notifier) SegmentEvent(ev segment.Event) {
	n.publish(StreamEvent{
		Kind:      KindSegmentEvent,
		SegmentID: ev.SegmentID,
		Payload: map[string]any{
			"event":    string(ev.Kind),
			"type":     string(ev.Type),
			"delta":    ev.Delta,
			"metadata": ev.Metadata,
		},
	})
}

// ToolApprovalRequested announces a pending invocation awaiting a decision.
func (n *Notifier) ToolApprovalRequested(invocationID, toolName string, args map[string]any) {
	n.publish(StreamEvent{
		Kind:      KindToolApprovalRequested,
		SegmentID: invocationID,
		ToolName:  toolName,
		Payload:   map[string]any{"arguments": args},
	})
}

// ToolApproved reports an approval decision.
func (n *Notifier) ToolApproved(invocationID, toolName string) {
	n.publish(StreamEvent{Kind: KindToolApproved, SegmentID: invocationID, ToolName: toolName})
}

// ToolDenied reports a denial decision with its reason.
func (n *Notifier) ToolDenied(invocationID, toolName, reason string) {
	n.publish(StreamEvent{
		Kind:      KindToolDenied,
		SegmentID: invocationID,
		ToolName:  toolName,
		Payload:   map[string]any{"reason": reason},
	})
}

// ToolExecutionStarted reports the beginning of a tool run.
func (n *Notifier) ToolExecutionStarted(invocationID, toolName string, args map[string]any) {
	n.publish(StreamEvent{
		Kind:      KindToolExecutionStarted,
		SegmentID: invocationID,
		ToolName:  toolName,
		Payload:   map[string]any{"arguments": args},
	})
}

// ToolExecutionSucceeded reports a successful tool result.
func (n *Notifier) ToolExecutionSucceeded(invocationID, toolName, content string) {
	n.publish(StreamEvent{
		Kind:      KindToolExecutionSucceeded,
		SegmentID: invocationID,
		ToolName:  toolName,
		Payload:   map[string]any{"content": content},
	})
}

// ToolExecutionFailed reports a failed tool result.
func (n *Notifier) ToolExecutionFailed(invocationID, toolName, errMsg string) {
	n.publish(StreamEvent{
		Kind:      KindToolExecutionFailed,
		SegmentID: invocationID,
		ToolName:  toolName,
		Payload:   map[string]any{"error": errMsg},
	})
}

// ToolLog forwards incremental tool output.
func (n *Notifier) ToolLog(invocationID, toolName, line string) {
	n.publish(StreamEvent{
		Kind:      KindToolLog,
		SegmentID: invocationID,
		ToolName:  toolName,
		Payload:   map[string]any{"line": line},
	})
}

// Error surfaces a runtime error to observers.
func (n *Notifier) Error(phase string, err error) {
	payload := map[string]any{"phase": phase}
	if err != nil {
		payload["error"] = err.Error()
	}
	n.publish(StreamEvent{Kind: KindError, Payload: payload})
}
