// Package notify converts internal runtime signals into the external
// observable stream: an in-process event bus, per-entity notifiers, and
// bridges that multiplex child streams into a parent.
package notify

import "time"

// Kind classifies one stream event on the external wire.
type Kind string

const (
	KindStatusChanged          Kind = "status_changed"
	KindAssistantChunk         Kind = "assistant_chunk"
	KindSegmentEvent           Kind = "segment_event"
	KindToolApprovalRequested  Kind = "tool_approval_requested"
	KindToolApproved           Kind = "tool_approved"
	KindToolDenied             Kind = "tool_denied"
	KindToolExecutionStarted   Kind = "tool_execution_started"
	KindToolExecutionSucceeded Kind = "tool_execution_succeeded"
	KindToolExecutionFailed    Kind = "tool_execution_failed"
	KindToolLog                Kind = "tool_log"
	KindError                  Kind = "error"
)

// StreamEvent is the typed record published to external observers. For tool
// lifecycle events SegmentID equals the originating invocation id.
type StreamEvent struct {
	EntityID  string         `json:"entity_id"`
	Kind      Kind           `json:"kind"`
	Status    string         `json:"status,omitempty"`
	SegmentID string         `json:"segment_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Truncated marks that records were dropped before this one because
	// the consumer fell behind.
	Truncated bool `json:"truncated,omitempty"`

	// Replayed marks events served from the replay buffer on subscribe.
	Replayed bool `json:"replayed,omitempty"`
}
