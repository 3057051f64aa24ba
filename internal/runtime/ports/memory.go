package ports

import "context"

// Memory is the transcript and compaction contract the runtime consumes.
// The memory engine itself is opaque to the runtime.
type Memory interface {
	IngestUserMessage(ctx context.Context, msg Message) error
	IngestToolIntent(ctx context.Context, invocationID, toolName string, args map[string]any) error
	IngestToolResult(ctx context.Context, invocationID, content string, execErr error) error
	IngestAssistantResponse(ctx context.Context, content string, usage TokenUsage) error

	// TranscriptMessages returns the messages for the next LLM call.
	TranscriptMessages(ctx context.Context) ([]Message, error)

	// ResetTranscript replaces the transcript with a compaction snapshot.
	ResetTranscript(ctx context.Context, snapshot []Message) error

	// CompactionNeeded reports whether usage observed so far crossed the
	// compaction threshold. Checked before the next LLM call, not mid-turn.
	CompactionNeeded() bool
}
