package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
)

func TestTurnReordersResultsToEmissionOrder(t *testing.T) {
	turn := newTurn("turn-1", []event.ToolInvocation{
		{ID: "seg-2", ToolName: "write_file"},
		{ID: "seg-3", ToolName: "run_bash"},
	})

	// Results settle in reverse order.
	turn.settle("seg-3", settledResult{toolName: "run_bash", content: "bash out"})
	assert.False(t, turn.complete())
	turn.settle("seg-2", settledResult{toolName: "write_file", content: "file out"})
	require.True(t, turn.complete())

	msg := turn.composeMessage()
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, ports.SenderTool, msg.Sender)
	assert.Equal(t, "turn-1", msg.Metadata["turn_id"])

	fileIdx := strings.Index(msg.Content, "file out")
	bashIdx := strings.Index(msg.Content, "bash out")
	require.GreaterOrEqual(t, fileIdx, 0)
	require.GreaterOrEqual(t, bashIdx, 0)
	assert.Less(t, fileIdx, bashIdx)
}

func TestTurnIgnoresForeignResults(t *testing.T) {
	turn := newTurn("turn-1", []event.ToolInvocation{{ID: "seg-2", ToolName: "run_bash"}})

	turn.settle("seg-99", settledResult{toolName: "ghost", content: "x"})
	assert.False(t, turn.complete())

	turn.settle("seg-2", settledResult{toolName: "run_bash", content: "ok"})
	assert.True(t, turn.complete())
	assert.NotContains(t, turn.composeMessage().Content, "ghost")
}

func TestTurnRendersOutcomes(t *testing.T) {
	turn := newTurn("turn-1", []event.ToolInvocation{
		{ID: "a", ToolName: "t1"},
		{ID: "b", ToolName: "t2"},
		{ID: "c", ToolName: "t3"},
	})
	turn.settle("a", settledResult{toolName: "t1", content: "fine"})
	turn.settle("b", settledResult{toolName: "t2", errMsg: "exploded"})
	turn.settle("c", settledResult{toolName: "t3", errMsg: "no thanks", denied: true})

	content := turn.composeMessage().Content
	assert.Contains(t, content, "ok:\nfine")
	assert.Contains(t, content, "error: exploded")
	assert.Contains(t, content, "denied: no thanks")
}
