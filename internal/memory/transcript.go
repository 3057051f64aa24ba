// Package memory implements the transcript the runtime feeds to the model:
// an in-memory message log with token accounting and a compaction threshold.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"iris/internal/logging"
	"iris/internal/runtime/ports"
)

// DefaultCompactionThreshold is the token count after which compaction is
// signalled.
const DefaultCompactionThreshold = 80_000

// Config configures a transcript.
type Config struct {
	SystemPrompt string

	// CompactionThreshold overrides the default token threshold.
	CompactionThreshold int

	// Encoding names the tiktoken encoding used for size estimation.
	Encoding string
}

// Transcript is an in-memory ports.Memory. Token usage reported by the model
// is authoritative; locally estimated counts fill the gaps between calls.
type Transcript struct {
	mu       sync.Mutex
	cfg      Config
	messages []ports.Message
	encoder  *tiktoken.Tiktoken
	observed int
	logger   logging.Logger
}

// NewTranscript creates a transcript. Encoder setup failures degrade to a
// bytes/4 estimate rather than erroring, since exact counts only gate
// compaction.
func NewTranscript(cfg Config, logger logging.Logger) *Transcript {
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = DefaultCompactionThreshold
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}
	t := &Transcript{cfg: cfg, logger: logging.OrNop(logger)}
	encoder, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		t.logger.Warn("tiktoken encoding %s unavailable, estimating sizes: %v", cfg.Encoding, err)
	} else {
		t.encoder = encoder
	}
	return t
}

func (t *Transcript) estimate(text string) int {
	if t.encoder != nil {
		return len(t.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

func (t *Transcript) append(msg ports.Message) {
	t.messages = append(t.messages, msg)
	t.observed += t.estimate(msg.Content)
}

// IngestUserMessage appends user (or synthesized tool-turn) input.
func (t *Transcript) IngestUserMessage(ctx context.Context, msg ports.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(msg)
	return nil
}

// IngestToolIntent records that the model requested a tool, before any result
// exists.
func (t *Transcript) IngestToolIntent(ctx context.Context, invocationID, toolName string, args map[string]any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(ports.Message{
		Role:    "assistant",
		Sender:  ports.SenderAgent,
		Content: "",
		ToolID:  invocationID,
		Metadata: map[string]any{
			"tool_name": toolName,
			"arguments": string(encoded),
		},
	})
	return nil
}

// IngestToolResult records one settled invocation.
func (t *Transcript) IngestToolResult(ctx context.Context, invocationID, content string, execErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := ports.Message{
		Role:    "tool",
		Sender:  ports.SenderTool,
		Content: content,
		ToolID:  invocationID,
	}
	if execErr != nil {
		msg.Metadata = map[string]any{"error": execErr.Error()}
	}
	t.append(msg)
	return nil
}

// IngestAssistantResponse appends the assembled model turn and folds its
// authoritative usage into the accounting.
func (t *Transcript) IngestAssistantResponse(ctx context.Context, content string, usage ports.TokenUsage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, ports.Message{
		Role:    "assistant",
		Sender:  ports.SenderAgent,
		Content: content,
	})
	if usage.TotalTokens > 0 {
		// The prompt count already covers everything before this turn.
		t.observed = usage.TotalTokens
	} else {
		t.observed += t.estimate(content)
	}
	return nil
}

// TranscriptMessages returns the system prompt followed by the message log.
func (t *Transcript) TranscriptMessages(ctx context.Context) ([]ports.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ports.Message, 0, len(t.messages)+1)
	if t.cfg.SystemPrompt != "" {
		out = append(out, ports.Message{Role: "system", Content: t.cfg.SystemPrompt})
	}
	out = append(out, t.messages...)
	return out, nil
}

// ResetTranscript replaces the log with a compaction snapshot and recounts.
func (t *Transcript) ResetTranscript(ctx context.Context, snapshot []ports.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append([]ports.Message(nil), snapshot...)
	t.observed = 0
	for _, msg := range t.messages {
		t.observed += t.estimate(msg.Content)
	}
	return nil
}

// CompactionNeeded reports whether the observed size crossed the threshold.
func (t *Transcript) CompactionNeeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observed >= t.cfg.CompactionThreshold
}

// Len returns the number of logged messages, excluding the system prompt.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
