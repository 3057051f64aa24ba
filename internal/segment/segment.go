// Package segment implements the incremental tool-call parser: it turns a
// provider-agnostic chunk stream into segment events (text, tool_call,
// write_file, patch_file, run_bash, reasoning) without ever emitting a
// partial closing token, plus the adapter that builds tool invocations from
// those events.
package segment

// Type classifies a contiguous slice of LLM output.
type Type string

const (
	TypeText      Type = "text"
	TypeToolCall  Type = "tool_call"
	TypeWriteFile Type = "write_file"
	TypePatchFile Type = "patch_file"
	TypeRunBash   Type = "run_bash"
	TypeReasoning Type = "reasoning"
)

// EventKind distinguishes the three per-segment event subtypes.
type EventKind string

const (
	EventStart   EventKind = "segment_start"
	EventContent EventKind = "segment_content"
	EventEnd     EventKind = "segment_end"
)

// Event is the parser's output unit. For each SegmentID exactly one START
// precedes zero or more CONTENTs and exactly one END.
type Event struct {
	SegmentID string         `json:"segment_id"`
	Kind      EventKind      `json:"kind"`
	Type      Type           `json:"type"`
	Delta     string         `json:"delta,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Emitter receives parser output.
type Emitter func(Event)

// ToolInvocation is the adapter's output: one parsed request to execute a
// tool. ID equals the originating segment id.
type ToolInvocation struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Content sentinels optionally embedded in write_file/patch_file/run_bash
// payloads. When present, deltas are trimmed to the region between them.
const (
	StartContentSentinel = "__START_CONTENT__"
	EndContentSentinel   = "__END_CONTENT__"
)
