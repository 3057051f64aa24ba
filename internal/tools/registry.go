// Package tools implements the tool registry and the builtin tools: file
// writing, patching, shell execution, and inter-agent messaging.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"iris/internal/logging"
	"iris/internal/runtime/ports"
)

// Registry is a thread-safe ports.ToolRegistry with case-insensitive lookup.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ports.Tool
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]ports.Tool),
		logger: logging.OrNop(logger),
	}
}

// Register installs a tool under its definition name.
func (r *Registry) Register(tool ports.Tool) error {
	name := strings.ToLower(tool.Definition().Name)
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get looks a tool up by name, case-insensitively.
func (r *Registry) Get(name string) (ports.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[strings.ToLower(name)]
	return tool, ok
}

// List returns the registered definitions sorted by name.
func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Cleanup releases every tool that implements ports.ToolCleaner. All tools
// are attempted; the first error is returned.
func (r *Registry) Cleanup(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for name, tool := range r.tools {
		cleaner, ok := tool.(ports.ToolCleaner)
		if !ok {
			continue
		}
		if err := cleaner.Cleanup(ctx); err != nil {
			r.logger.Warn("cleanup of tool %s failed: %v", name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("cleanup %s: %w", name, err)
			}
		}
	}
	return firstErr
}

func stringArg(args map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
