package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/runtime/ports"
)

func TestTranscriptOrderAndSystemPrompt(t *testing.T) {
	ctx := context.Background()
	tr := NewTranscript(Config{SystemPrompt: "be helpful"}, nil)

	require.NoError(t, tr.IngestUserMessage(ctx, ports.Message{Role: "user", Sender: ports.SenderUser, Content: "hi"}))
	require.NoError(t, tr.IngestAssistantResponse(ctx, "hello", ports.TokenUsage{}))
	require.NoError(t, tr.IngestToolIntent(ctx, "inv-1", "run_bash", map[string]any{"command": "ls"}))
	require.NoError(t, tr.IngestToolResult(ctx, "inv-1", "file.txt", nil))

	msgs, err := tr.TranscriptMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "be helpful", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, "inv-1", msgs[3].ToolID)
	assert.Equal(t, "run_bash", msgs[3].Metadata["tool_name"])
	assert.Equal(t, "tool", msgs[4].Role)
	assert.Equal(t, "file.txt", msgs[4].Content)
}

func TestToolResultErrorRecorded(t *testing.T) {
	ctx := context.Background()
	tr := NewTranscript(Config{}, nil)

	require.NoError(t, tr.IngestToolResult(ctx, "inv-1", "partial", errors.New("boom")))
	msgs, err := tr.TranscriptMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "boom", msgs[0].Metadata["error"])
}

func TestCompactionThreshold(t *testing.T) {
	ctx := context.Background()
	tr := NewTranscript(Config{CompactionThreshold: 10}, nil)
	assert.False(t, tr.CompactionNeeded())

	// Authoritative usage from the model crosses the threshold.
	require.NoError(t, tr.IngestAssistantResponse(ctx, "x", ports.TokenUsage{TotalTokens: 50}))
	assert.True(t, tr.CompactionNeeded())
}

func TestResetTranscript(t *testing.T) {
	ctx := context.Background()
	tr := NewTranscript(Config{SystemPrompt: "sp", CompactionThreshold: 10}, nil)

	require.NoError(t, tr.IngestAssistantResponse(ctx, "long answer", ports.TokenUsage{TotalTokens: 99}))
	require.True(t, tr.CompactionNeeded())

	snapshot := []ports.Message{{Role: "user", Content: "summary"}}
	require.NoError(t, tr.ResetTranscript(ctx, snapshot))

	msgs, err := tr.TranscriptMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "summary", msgs[1].Content)
	assert.False(t, tr.CompactionNeeded())
	assert.Equal(t, 1, tr.Len())
}
