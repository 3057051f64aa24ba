package agent

import (
	"fmt"
	"strings"

	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
)

// turnState aggregates the results of one model turn's invocations. Results
// may settle in any order; composition replays them in the order the parser
// emitted the invocations.
type turnState struct {
	id          string
	order       []string
	invocations map[string]event.ToolInvocation
	results     map[string]settledResult
}

type settledResult struct {
	toolName string
	content  string
	errMsg   string
	denied   bool
}

func newTurn(id string, invocations []event.ToolInvocation) *turnState {
	t := &turnState{
		id:          id,
		order:       make([]string, 0, len(invocations)),
		invocations: make(map[string]event.ToolInvocation, len(invocations)),
		results:     make(map[string]settledResult, len(invocations)),
	}
	for _, inv := range invocations {
		t.order = append(t.order, inv.ID)
		t.invocations[inv.ID] = inv
	}
	return t
}

// settle records one invocation result. Results for invocations outside this
// turn are ignored.
func (t *turnState) settle(invocationID string, res settledResult) {
	if _, expected := t.invocations[invocationID]; !expected {
		return
	}
	t.results[invocationID] = res
}

func (t *turnState) complete() bool {
	return len(t.results) == len(t.order)
}

// composeMessage renders the aggregated results as a single message that
// re-enters the pipeline as user input from the tool side.
func (t *turnState) composeMessage() ports.Message {
	var b strings.Builder
	b.WriteString("Tool results:\n")
	for _, id := range t.order {
		res := t.results[id]
		switch {
		case res.denied:
			fmt.Fprintf(&b, "\n[%s %s] denied: %s\n", res.toolName, id, res.errMsg)
		case res.errMsg != "":
			fmt.Fprintf(&b, "\n[%s %s] error: %s\n", res.toolName, id, res.errMsg)
		default:
			fmt.Fprintf(&b, "\n[%s %s] ok:\n%s\n", res.toolName, id, res.content)
		}
	}
	return ports.Message{
		Role:    "user",
		Sender:  ports.SenderTool,
		Content: b.String(),
		Metadata: map[string]any{
			"turn_id": t.id,
		},
	}
}
