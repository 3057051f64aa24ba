package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"iris/internal/runtime/ports"
)

// DefaultBashTimeout bounds one command when no per-call timeout is given.
const DefaultBashTimeout = 2 * time.Minute

// RunBashTool executes shell commands inside the workspace root.
type RunBashTool struct {
	Root    string
	Timeout time.Duration
}

func (t *RunBashTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "run_bash",
		Description: "Run a shell command in the workspace and return its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "The command to run."},
			},
			"required": []string{"command"},
		},
	}
}

func (t *RunBashTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := stringArg(args, "command")
	if !ok {
		return "", fmt.Errorf("run_bash: missing command")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultBashTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.Root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("run_bash: timed out after %s", timeout)
	}
	if err != nil {
		return output, fmt.Errorf("run_bash: %w", err)
	}
	if output == "" {
		output = "(no output)"
	}
	return output, nil
}
