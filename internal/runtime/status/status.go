// Package status implements the entity lifecycle state machine: the status
// enum, the pure transition deriver, and the manager that applies
// transitions and fires lifecycle hooks.
package status

// Status is an entity's operational state. An entity is in exactly one
// status at all times; transitions are serialized on the entity worker.
type Status string

const (
	Uninitialized        Status = "UNINITIALIZED"
	Bootstrapping        Status = "BOOTSTRAPPING"
	Idle                 Status = "IDLE"
	ProcessingUserInput  Status = "PROCESSING_USER_INPUT"
	AwaitingLLMResponse  Status = "AWAITING_LLM_RESPONSE"
	AnalyzingLLMResponse Status = "ANALYZING_LLM_RESPONSE"
	AwaitingToolApproval Status = "AWAITING_TOOL_APPROVAL"
	ExecutingTool        Status = "EXECUTING_TOOL"
	ProcessingToolResult Status = "PROCESSING_TOOL_RESULT"
	ToolDenied           Status = "TOOL_DENIED"
	ShuttingDown         Status = "SHUTTING_DOWN"
	ShutdownComplete     Status = "SHUTDOWN_COMPLETE"
	Error                Status = "ERROR"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == ShutdownComplete
}

// LifecycleEvent tags a transition boundary that extension points can key on.
type LifecycleEvent string

const (
	LifecycleAgentReady       LifecycleEvent = "AGENT_READY"
	LifecycleBeforeLLMCall    LifecycleEvent = "BEFORE_LLM_CALL"
	LifecycleAfterLLMResponse LifecycleEvent = "AFTER_LLM_RESPONSE"
	LifecycleBeforeToolExec   LifecycleEvent = "BEFORE_TOOL_EXECUTE"
	LifecycleAfterToolExec    LifecycleEvent = "AFTER_TOOL_EXECUTE"
)

// LifecycleFor projects a status transition onto its lifecycle event.
func LifecycleFor(from, to Status) (LifecycleEvent, bool) {
	switch {
	case from == Bootstrapping && to == Idle:
		return LifecycleAgentReady, true
	case to == AwaitingLLMResponse && (from == ProcessingUserInput || from == AnalyzingLLMResponse):
		return LifecycleBeforeLLMCall, true
	case from == AwaitingLLMResponse && to == AnalyzingLLMResponse:
		return LifecycleAfterLLMResponse, true
	case to == ExecutingTool && from != ExecutingTool:
		return LifecycleBeforeToolExec, true
	case from == ExecutingTool && to == ProcessingToolResult:
		return LifecycleAfterToolExec, true
	}
	return "", false
}
