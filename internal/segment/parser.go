package segment

import (
	"fmt"
	"sort"
	"strings"

	"iris/internal/runtime/ports"
)

// Mode selects the tool-call syntax strategy, chosen once per stream.
type Mode string

const (
	ModeXML         Mode = "xml"
	ModeJSON        Mode = "json"
	ModeSentinel    Mode = "sentinel"
	ModeAPIToolCall Mode = "api_tool_call"
)

// Config configures a Parser.
type Config struct {
	Mode Mode

	// ExtraTags are additional XML tag names (beyond the builtin forms)
	// recognized as generic tool segments in xml mode. Matched
	// case-insensitively.
	ExtraTags []string
}

// Parser converts a stream of ChunkResponses into segment events. It is
// multi-chunk safe: feeding a response byte by byte yields the same event
// sequence as feeding it whole, modulo CONTENT granularity.
type Parser struct {
	mode  Mode
	emit  Emitter
	tags  map[string]Type
	state state

	buf string
	seq int

	textID      string
	reasoningID string

	api *apiAggregator
}

// state consumes from p.buf. run returns false when it cannot make progress
// without more input; final marks the end of the upstream stream.
type state interface {
	run(p *Parser, final bool) bool
	finalize(p *Parser)
}

// NewParser creates a parser emitting into emit.
func NewParser(cfg Config, emit Emitter) *Parser {
	p := &Parser{
		mode: cfg.Mode,
		emit: emit,
		tags: map[string]Type{
			"write_file": TypeWriteFile,
			"patch_file": TypePatchFile,
			"run_bash":   TypeRunBash,
			"tool_call":  TypeToolCall,
		},
	}
	for _, tag := range cfg.ExtraTags {
		p.tags[strings.ToLower(tag)] = TypeToolCall
	}
	switch p.mode {
	case ModeJSON:
		p.state = &jsonTextState{}
	case ModeSentinel:
		p.state = &sentinelTextState{}
	case ModeAPIToolCall:
		p.api = newAPIAggregator()
		p.state = &passthroughState{}
	default:
		p.mode = ModeXML
		p.state = &textState{}
	}
	return p
}

// Feed ingests one chunk and emits every event that is safe to emit.
func (p *Parser) Feed(chunk ports.ChunkResponse) {
	if chunk.Reasoning != "" {
		p.emitReasoning(chunk.Reasoning)
	}
	if chunk.Content != "" {
		p.closeReasoning()
		p.buf += chunk.Content
		p.pump(false)
	}
	if p.mode == ModeAPIToolCall && len(chunk.ToolCalls) > 0 {
		p.api.feed(p, chunk.ToolCalls)
	}
}

// Finalize flushes every active state once the upstream stream has ended.
// Unterminated non-text segments are closed with truncated metadata; the
// parser never hangs on a half-open segment.
func (p *Parser) Finalize() {
	p.pump(true)
	p.state.finalize(p)
	if p.api != nil {
		p.api.finalize(p)
	}
	p.closeReasoning()
	p.closeText()
}

func (p *Parser) pump(final bool) {
	for p.state.run(p, final) {
	}
}

func (p *Parser) nextID() string {
	p.seq++
	return fmt.Sprintf("seg-%d", p.seq)
}

// emitText streams delta into the lazily opened text segment.
func (p *Parser) emitText(delta string) {
	if delta == "" {
		return
	}
	if p.textID == "" {
		p.textID = p.nextID()
		p.emit(Event{SegmentID: p.textID, Kind: EventStart, Type: TypeText})
	}
	p.emit(Event{SegmentID: p.textID, Kind: EventContent, Type: TypeText, Delta: delta})
}

func (p *Parser) closeText() {
	if p.textID == "" {
		return
	}
	p.emit(Event{SegmentID: p.textID, Kind: EventEnd, Type: TypeText})
	p.textID = ""
}

func (p *Parser) emitReasoning(delta string) {
	if p.reasoningID == "" {
		p.reasoningID = p.nextID()
		p.emit(Event{SegmentID: p.reasoningID, Kind: EventStart, Type: TypeReasoning})
	}
	p.emit(Event{SegmentID: p.reasoningID, Kind: EventContent, Type: TypeReasoning, Delta: delta})
}

func (p *Parser) closeReasoning() {
	if p.reasoningID == "" {
		return
	}
	p.emit(Event{SegmentID: p.reasoningID, Kind: EventEnd, Type: TypeReasoning})
	p.reasoningID = ""
}

// knownTags returns the recognized tag names, longest first so prefix checks
// are deterministic.
func (p *Parser) knownTags() []string {
	tags := make([]string, 0, len(p.tags))
	for tag := range p.tags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return len(tags[i]) > len(tags[j]) })
	return tags
}
