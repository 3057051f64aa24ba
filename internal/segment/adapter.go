package segment

import (
	"fmt"
	"strings"
)

// ArgumentBuilder turns one finished segment into a tool name and argument
// map. content is the concatenation of the segment's deltas.
type ArgumentBuilder func(meta map[string]any, content string) (string, map[string]any, error)

// SyntaxRegistry maps segment types to argument builders. Resolution is
// pluggable so embedders can add their own tool forms.
type SyntaxRegistry struct {
	builders map[Type]ArgumentBuilder
}

// NewSyntaxRegistry returns a registry with builders for the builtin tool
// forms.
func NewSyntaxRegistry() *SyntaxRegistry {
	r := &SyntaxRegistry{builders: make(map[Type]ArgumentBuilder)}
	r.Register(TypeWriteFile, func(meta map[string]any, content string) (string, map[string]any, error) {
		return "write_file", map[string]any{
			"path":    metaString(meta, "path"),
			"content": content,
		}, nil
	})
	r.Register(TypePatchFile, func(meta map[string]any, content string) (string, map[string]any, error) {
		return "patch_file", map[string]any{
			"path":  metaString(meta, "path"),
			"patch": content,
		}, nil
	})
	r.Register(TypeRunBash, func(meta map[string]any, content string) (string, map[string]any, error) {
		return "run_bash", map[string]any{
			"command": strings.TrimSpace(content),
		}, nil
	})
	r.Register(TypeToolCall, func(meta map[string]any, content string) (string, map[string]any, error) {
		name := metaString(meta, "tool_name")
		if name == "" {
			return "", nil, fmt.Errorf("tool_call segment missing tool name")
		}
		if args, ok := meta["arguments"].(map[string]any); ok {
			return name, args, nil
		}
		return name, parseArguments(content), nil
	})
	return r
}

// Register installs (or replaces) the builder for a segment type.
func (r *SyntaxRegistry) Register(t Type, builder ArgumentBuilder) {
	r.builders[t] = builder
}

func (r *SyntaxRegistry) builder(t Type) (ArgumentBuilder, bool) {
	b, ok := r.builders[t]
	return b, ok
}

func metaString(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}

// Adapter consumes segment events and constructs tool invocations. The
// invocation id equals the segment id, so UI and execution correlate without
// a separate mapping table.
type Adapter struct {
	registry *SyntaxRegistry
	open     map[string]*openSegment
	done     []ToolInvocation
	errs     []error
}

type openSegment struct {
	segType Type
	meta    map[string]any
	content strings.Builder
}

// NewAdapter creates an adapter over the given registry.
func NewAdapter(registry *SyntaxRegistry) *Adapter {
	if registry == nil {
		registry = NewSyntaxRegistry()
	}
	return &Adapter{
		registry: registry,
		open:     make(map[string]*openSegment),
	}
}

// OnEvent feeds one segment event. Text and reasoning segments are ignored.
func (a *Adapter) OnEvent(ev Event) {
	switch ev.Type {
	case TypeText, TypeReasoning:
		return
	}
	switch ev.Kind {
	case EventStart:
		a.open[ev.SegmentID] = &openSegment{segType: ev.Type, meta: cloneMeta(ev.Metadata)}
	case EventContent:
		if seg, ok := a.open[ev.SegmentID]; ok {
			seg.content.WriteString(ev.Delta)
		}
	case EventEnd:
		seg, ok := a.open[ev.SegmentID]
		if !ok {
			return
		}
		delete(a.open, ev.SegmentID)
		for k, v := range ev.Metadata {
			seg.meta[k] = v
		}
		builder, ok := a.registry.builder(seg.segType)
		if !ok {
			a.errs = append(a.errs, fmt.Errorf("no argument builder for segment type %q", seg.segType))
			return
		}
		name, args, err := builder(seg.meta, seg.content.String())
		if err != nil {
			a.errs = append(a.errs, fmt.Errorf("segment %s: %w", ev.SegmentID, err))
			return
		}
		a.done = append(a.done, ToolInvocation{
			ID:        ev.SegmentID,
			ToolName:  name,
			Arguments: args,
		})
	}
}

// Invocations returns the collected invocations in segment emission order.
func (a *Adapter) Invocations() []ToolInvocation {
	return append([]ToolInvocation(nil), a.done...)
}

// Errors returns builder failures observed so far.
func (a *Adapter) Errors() []error {
	return append([]error(nil), a.errs...)
}
