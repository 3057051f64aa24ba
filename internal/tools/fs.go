package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"iris/internal/runtime/ports"
)

// resolvePath confines rel to root; absolute paths and parent escapes are
// rejected.
func resolvePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	full := filepath.Join(root, filepath.Clean(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return full, nil
}

// WriteFileTool writes whole files under a workspace root.
type WriteFileTool struct {
	Root string
}

func (t *WriteFileTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "write_file",
		Description: "Create or overwrite a file with the given content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path relative to the workspace root."},
				"content": map[string]any{"type": "string", "description": "Full file content."},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", fmt.Errorf("write_file: missing path")
	}
	content, _ := args["content"].(string)

	full, err := resolvePath(t.Root, path)
	if err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// PatchFileTool applies a textual patch to an existing file.
type PatchFileTool struct {
	Root string
}

func (t *PatchFileTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "patch_file",
		Description: "Apply a patch to an existing file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":  map[string]any{"type": "string", "description": "File path relative to the workspace root."},
				"patch": map[string]any{"type": "string", "description": "Patch in unidiff format."},
			},
			"required": []string{"path", "patch"},
		},
	}
}

func (t *PatchFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", fmt.Errorf("patch_file: missing path")
	}
	patchText, ok := stringArg(args, "patch")
	if !ok {
		return "", fmt.Errorf("patch_file: missing patch")
	}

	full, err := resolvePath(t.Root, path)
	if err != nil {
		return "", fmt.Errorf("patch_file: %w", err)
	}
	original, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("patch_file: %w", err)
	}

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", fmt.Errorf("patch_file: parse patch: %w", err)
	}
	patched, applied := dmp.PatchApply(patches, string(original))
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("patch_file: hunk %d did not apply", i)
		}
	}

	if err := os.WriteFile(full, []byte(patched), 0o644); err != nil {
		return "", fmt.Errorf("patch_file: %w", err)
	}
	return fmt.Sprintf("applied %d hunks to %s", len(patches), path), nil
}
