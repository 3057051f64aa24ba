package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/runtime/ports"
)

type recordedSegment struct {
	id        string
	segType   Type
	content   string
	startMeta map[string]any
	endMeta   map[string]any
	ended     bool
}

type recorder struct {
	events   []Event
	order    []string
	segments map[string]*recordedSegment
}

func newRecorder() *recorder {
	return &recorder{segments: make(map[string]*recordedSegment)}
}

func (r *recorder) emit(ev Event) {
	r.events = append(r.events, ev)
	seg, ok := r.segments[ev.SegmentID]
	if !ok {
		seg = &recordedSegment{id: ev.SegmentID, segType: ev.Type}
		r.segments[ev.SegmentID] = seg
		r.order = append(r.order, ev.SegmentID)
	}
	switch ev.Kind {
	case EventStart:
		seg.startMeta = ev.Metadata
	case EventContent:
		seg.content += ev.Delta
	case EventEnd:
		seg.endMeta = ev.Metadata
		seg.ended = true
	}
}

func (r *recorder) ordered() []*recordedSegment {
	out := make([]*recordedSegment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.segments[id])
	}
	return out
}

func feedString(p *Parser, text string, chunkSize int) {
	for len(text) > 0 {
		n := chunkSize
		if n > len(text) {
			n = len(text)
		}
		p.Feed(ports.ChunkResponse{Content: text[:n]})
		text = text[n:]
	}
}

func TestXMLWriteFileAcrossChunks(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeXML}, rec.emit)

	response := "I'll write the file now.\n<write_file path=\"app.py\">\nprint('hi')\n</write_file>\nDone."
	feedString(p, response, 3)
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 3)

	assert.Equal(t, TypeText, segs[0].segType)
	assert.Equal(t, "I'll write the file now.\n", segs[0].content)
	assert.True(t, segs[0].ended)

	assert.Equal(t, TypeWriteFile, segs[1].segType)
	assert.Equal(t, "app.py", segs[1].startMeta["path"])
	assert.Equal(t, "\nprint('hi')\n", segs[1].content)
	assert.NotContains(t, segs[1].endMeta, "truncated")

	assert.Equal(t, TypeText, segs[2].segType)
	assert.Equal(t, "\nDone.", segs[2].content)
}

func TestXMLChunkingEquivalence(t *testing.T) {
	response := "before <run_bash>\nls -la\n</run_bash> middle <write_file path=\"x\">abc</write_file> after"

	whole := newRecorder()
	p := NewParser(Config{Mode: ModeXML}, whole.emit)
	p.Feed(ports.ChunkResponse{Content: response})
	p.Finalize()

	byByte := newRecorder()
	q := NewParser(Config{Mode: ModeXML}, byByte.emit)
	feedString(q, response, 1)
	q.Finalize()

	a, b := whole.ordered(), byByte.ordered()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].segType, b[i].segType, "segment %d", i)
		assert.Equal(t, a[i].content, b[i].content, "segment %d", i)
	}
}

func TestXMLUnknownTagPassesThrough(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeXML}, rec.emit)
	feedString(p, "a <div>x</div> b", 2)
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 1)
	assert.Equal(t, TypeText, segs[0].segType)
	assert.Equal(t, "a <div>x</div> b", segs[0].content)
}

func TestXMLPartialTagAtEndOfStream(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeXML}, rec.emit)
	p.Feed(ports.ChunkResponse{Content: "hello <wr"})

	// The partial token is held back, not emitted.
	total := ""
	for _, ev := range rec.events {
		total += ev.Delta
	}
	assert.Equal(t, "hello ", total)

	p.Finalize()
	segs := rec.ordered()
	require.Len(t, segs, 1)
	assert.Equal(t, "hello <wr", segs[0].content)
}

func TestXMLContentSentinelsTrimmed(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeXML}, rec.emit)
	response := "<write_file path=\"a\">\n__START_CONTENT__\nreal payload\n__END_CONTENT__\n</write_file>"
	feedString(p, response, 4)
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 1)
	assert.Equal(t, TypeWriteFile, segs[0].segType)
	assert.Equal(t, "real payload", segs[0].content)
}

func TestXMLUnterminatedSegmentTruncated(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeXML}, rec.emit)
	p.Feed(ports.ChunkResponse{Content: "<run_bash>ls -la"})
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 1)
	assert.Equal(t, TypeRunBash, segs[0].segType)
	assert.True(t, segs[0].ended)
	assert.Equal(t, true, segs[0].endMeta["truncated"])
	assert.Equal(t, "ls -la", segs[0].content)
}

func TestXMLExtraTagBecomesToolCall(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeXML, ExtraTags: []string{"search"}}, rec.emit)
	feedString(p, `<search query="golang">find docs</search>`, 5)
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 1)
	assert.Equal(t, TypeToolCall, segs[0].segType)
	assert.Equal(t, "search", segs[0].startMeta["tool_name"])
	assert.Equal(t, "golang", segs[0].startMeta["query"])
}

func TestReasoningSegment(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeXML}, rec.emit)
	p.Feed(ports.ChunkResponse{Reasoning: "thinking "})
	p.Feed(ports.ChunkResponse{Reasoning: "hard"})
	p.Feed(ports.ChunkResponse{Content: "answer"})
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 2)
	assert.Equal(t, TypeReasoning, segs[0].segType)
	assert.Equal(t, "thinking hard", segs[0].content)
	assert.True(t, segs[0].ended)
	assert.Equal(t, TypeText, segs[1].segType)
	assert.Equal(t, "answer", segs[1].content)
}

func TestJSONModeToolCall(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeJSON}, rec.emit)
	response := "Working on it.\n{\"tool\": \"write_file\", \"args\": {\"path\": \"a.txt\"}}\ndone"
	feedString(p, response, 7)
	p.Finalize()

	var tool *recordedSegment
	for _, seg := range rec.ordered() {
		if seg.segType == TypeToolCall {
			tool = seg
		}
	}
	require.NotNil(t, tool)
	assert.Equal(t, "write_file", tool.endMeta["tool_name"])
	args, ok := tool.endMeta["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a.txt", args["path"])
}

func TestJSONModeNonToolObjectStaysText(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeJSON}, rec.emit)
	feedString(p, "{\"a\": 1}\ntrailing", 3)
	p.Finalize()

	total := ""
	for _, seg := range rec.ordered() {
		require.Equal(t, TypeText, seg.segType)
		total += seg.content
	}
	assert.Equal(t, "{\"a\": 1}\ntrailing", total)
}

func TestSentinelMode(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeSentinel}, rec.emit)
	response := "intro\n[[SEG_START {\"type\": \"run_bash\"}]]\nls\n[[SEG_END]]\noutro"
	feedString(p, response, 5)
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 3)
	assert.Equal(t, "intro\n", segs[0].content)
	assert.Equal(t, TypeRunBash, segs[1].segType)
	assert.Equal(t, "ls", segs[1].content)
	assert.Equal(t, "outro", segs[2].content)
}

func TestSentinelModeMarkerWithoutType(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeSentinel}, rec.emit)
	p.Feed(ports.ChunkResponse{Content: "a [[SEG_START {\"x\": 1}]] b"})
	p.Finalize()

	segs := rec.ordered()
	require.Len(t, segs, 1)
	assert.Equal(t, TypeText, segs[0].segType)
	assert.Equal(t, "a [[SEG_START {\"x\": 1}]] b", segs[0].content)
}

func TestAPIToolCallMode(t *testing.T) {
	rec := newRecorder()
	p := NewParser(Config{Mode: ModeAPIToolCall}, rec.emit)

	p.Feed(ports.ChunkResponse{Content: "Let me check."})
	p.Feed(ports.ChunkResponse{ToolCalls: []ports.ToolCallDelta{
		{Index: 0, CallID: "call-1", Name: "run_bash", ArgumentsDelta: `{"comm`},
	}})
	p.Feed(ports.ChunkResponse{ToolCalls: []ports.ToolCallDelta{
		{Index: 0, ArgumentsDelta: `and": "ls"}`},
		{Index: 1, CallID: "call-2", Name: "write_file", ArgumentsDelta: `{"path": "a"}`},
	}})
	p.Finalize()

	var calls []*recordedSegment
	for _, seg := range rec.ordered() {
		if seg.segType == TypeToolCall {
			calls = append(calls, seg)
		}
	}
	require.Len(t, calls, 2)

	assert.Equal(t, "run_bash", calls[0].endMeta["tool_name"])
	assert.Equal(t, "call-1", calls[0].endMeta["call_id"])
	args0, ok := calls[0].endMeta["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ls", args0["command"])

	assert.Equal(t, "write_file", calls[1].endMeta["tool_name"])
	args1, ok := calls[1].endMeta["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", args1["path"])
}

func TestAdapterBuildsInvocations(t *testing.T) {
	adapter := NewAdapter(nil)
	p := NewParser(Config{Mode: ModeXML}, func(ev Event) { adapter.OnEvent(ev) })
	response := "text <write_file path=\"a.py\">body</write_file> <run_bash>ls</run_bash>"
	feedString(p, response, 6)
	p.Finalize()

	invs := adapter.Invocations()
	require.Len(t, invs, 2)

	assert.Equal(t, "write_file", invs[0].ToolName)
	assert.Equal(t, "a.py", invs[0].Arguments["path"])
	assert.Equal(t, "body", invs[0].Arguments["content"])
	assert.NotEmpty(t, invs[0].ID)

	assert.Equal(t, "run_bash", invs[1].ToolName)
	assert.Equal(t, "ls", invs[1].Arguments["command"])
	assert.Empty(t, adapter.Errors())
}
