package ports

import "context"

// Tool executes a single invocation.
type Tool interface {
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]any) (string, error)

	// Definition returns the tool's schema for the LLM.
	Definition() ToolDefinition
}

// ToolPreprocessor runs before execution and may rewrite arguments in place.
// A returned error aborts execution and becomes the tool result error.
type ToolPreprocessor interface {
	PreprocessArgs(ctx context.Context, toolName string, args map[string]any) error
}

// ToolResultProcessor runs after execution and may rewrite the result content.
type ToolResultProcessor interface {
	ProcessResult(ctx context.Context, toolName string, content string, execErr error) (string, error)
}

// ToolCleaner is implemented by tools that hold external resources.
type ToolCleaner interface {
	Cleanup(ctx context.Context) error
}

// ToolRegistry manages the tools available to one entity.
type ToolRegistry interface {
	Register(tool Tool) error
	Get(name string) (Tool, bool)
	List() []ToolDefinition

	// Cleanup releases every registered tool that implements ToolCleaner.
	Cleanup(ctx context.Context) error
}
