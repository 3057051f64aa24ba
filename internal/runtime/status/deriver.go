package status

import "iris/internal/runtime/event"

// Derive is the pure transition function from (status, event) to the target
// status. The second return is false when the event does not move the
// status; dispatch then invokes the handler without a transition.
func Derive(current Status, evt event.Event) (Status, bool) {
	switch evt.Kind() {
	case event.KindAgentError:
		return Error, true
	case event.KindAgentStopped:
		return ShuttingDown, true
	}

	switch current {
	case Bootstrapping, Idle:
		switch evt.Kind() {
		case event.KindAgentReady:
			return Idle, true
		case event.KindUserMessageReceived, event.KindInterAgentMessage:
			if current == Idle {
				return ProcessingUserInput, true
			}
		}
	case ProcessingUserInput:
		if evt.Kind() == event.KindLLMUserMessageReady {
			return AwaitingLLMResponse, true
		}
	case AwaitingLLMResponse:
		if evt.Kind() == event.KindLLMCompleteResponseReceived {
			return AnalyzingLLMResponse, true
		}
	case AnalyzingLLMResponse:
		switch e := evt.(type) {
		case event.PendingToolInvocation:
			if !e.AutoExecute {
				return AwaitingToolApproval, true
			}
			// Auto-execute keeps analyzing; the follow-up
			// ExecuteToolInvocation moves to EXECUTING_TOOL.
			return AnalyzingLLMResponse, false
		case event.ExecuteToolInvocation:
			return ExecutingTool, true
		case event.LLMUserMessageReady:
			return AwaitingLLMResponse, true
		}
	case AwaitingToolApproval:
		switch e := evt.(type) {
		case event.ToolExecutionApproval:
			if e.Approved {
				// Stay; ExecuteToolInvocation completes the move.
				return AwaitingToolApproval, false
			}
			return ToolDenied, true
		case event.ExecuteToolInvocation:
			return ExecutingTool, true
		case event.PendingToolInvocation:
			return AwaitingToolApproval, false
		}
	case ExecutingTool:
		switch evt.Kind() {
		case event.KindToolResult:
			return ProcessingToolResult, true
		case event.KindExecuteToolInvocation:
			return ExecutingTool, false
		}
	case ToolDenied:
		if evt.Kind() == event.KindToolResult {
			return ProcessingToolResult, true
		}
	}

	return current, false
}
