package orchestrator

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/simonyos/zcode-core/internal/llm"
)

// fakeTransport replays a fixed sequence of SSE bodies, one per call to
// OpenStream, mirroring one body per LLM round trip.
type fakeTransport struct {
	mu     sync.Mutex
	bodies []string
	calls  int
}

func (f *fakeTransport) OpenStream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.bodies) {
		return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
	}
	body := f.bodies[f.calls]
	f.calls++
	return io.NopCloser(strings.NewReader(body)), nil
}

// fakeToolQueue resolves every posted request immediately with a preset
// response (or a default success if none was configured for that name).
type fakeToolQueue struct {
	mu        sync.Mutex
	responses map[string]ToolResponse // keyed by tool name
	posted    []ToolRequest
	delivered map[string]ToolResponse // keyed by call id, populated after Post
}

func newFakeToolQueue() *fakeToolQueue {
	return &fakeToolQueue{responses: map[string]ToolResponse{}, delivered: map[string]ToolResponse{}}
}

func (f *fakeToolQueue) Post(req ToolRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, req)
	resp, ok := f.responses[req.Name]
	if !ok {
		resp = ToolResponse{Success: true, Output: "ok"}
	}
	resp.CallID = req.CallID
	f.delivered[req.CallID] = resp
	return nil
}

func (f *fakeToolQueue) Poll(callID string) (ToolResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.delivered[callID]
	return resp, ok
}

func collectEvents(ch <-chan Event) []Event {
	var events []Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func testConfig() CoreConfig {
	return CoreConfig{
		Model:    "test-model",
		MaxTurns: 30,
	}.WithDefaults()
}

// Single-call happy path: one tool call, one successful result, a
// follow-up turn with plain content.
func TestRun_SingleCallHappyPath(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]}}]}` + "\n" +
			"data: [DONE]\n",
		`data: {"choices":[{"index":0,"delta":{"content":"Found 2 entries"}}]}` + "\n" +
			"data: [DONE]\n",
	}}
	tools := newFakeToolQueue()
	tools.responses["bash"] = ToolResponse{Success: true, Output: "a\nb"}

	o := New(testConfig(), transport, tools)
	events := collectEvents(o.Run(context.Background(), "req-1", nil))

	var sawToolRequest, sawToolResult, sawComplete bool
	var content strings.Builder
	for _, e := range events {
		switch ev := e.(type) {
		case ToolCallRequestEvent:
			sawToolRequest = true
		case ToolCallResultEvent:
			sawToolResult = true
			if !ev.Success {
				t.Fatalf("expected tool result success, got %+v", ev)
			}
		case StreamChunkEvent:
			content.WriteString(ev.Content)
		case StreamCompleteEvent:
			sawComplete = true
			if ev.FinishReason != "stop" {
				t.Fatalf("expected finish_reason stop, got %q", ev.FinishReason)
			}
		case StreamErrorEvent:
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
	}
	if !sawToolRequest || !sawToolResult || !sawComplete {
		t.Fatalf("missing expected event kinds: tool_req=%v tool_result=%v complete=%v", sawToolRequest, sawToolResult, sawComplete)
	}
	if content.String() != "Found 2 entries" {
		t.Fatalf("expected final content 'Found 2 entries', got %q", content.String())
	}
}

// No tool calls at all: straight completion.
func TestRun_NoToolCalls(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"content":"hello there"}}]}` + "\n" + "data: [DONE]\n",
	}}
	o := New(testConfig(), transport, newFakeToolQueue())
	events := collectEvents(o.Run(context.Background(), "req-2", nil))

	last := events[len(events)-1]
	if _, ok := last.(StreamCompleteEvent); !ok {
		t.Fatalf("expected last event to be StreamComplete, got %T", last)
	}
}

// Duplicate loop: the same call signature repeated turn after turn is
// blocked with a DuplicateLimitError. Each duplicate round moves to the next
// depth, so here it is the global limit (6) that trips.
func TestRun_DuplicateLimitExceeded(t *testing.T) {
	dupeFrame := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"bash","arguments":"{\"command\":\"pwd\"}"}}]}}]}` + "\n" + "data: [DONE]\n"

	// Turn 0: original call. Turns 1..N: the model keeps re-emitting the
	// identical call under the same id each time (a realistic repeat loop).
	bodies := []string{dupeFrame}
	for i := 0; i < 10; i++ {
		bodies = append(bodies, dupeFrame)
	}

	transport := &fakeTransport{bodies: bodies}
	cfg := testConfig()
	cfg.MaxAttemptsPerLevel = 2
	cfg.MaxTotalAttempts = 6

	o := New(cfg, transport, newFakeToolQueue())
	events := collectEvents(o.Run(context.Background(), "req-3", nil))

	last := events[len(events)-1]
	errEvent, ok := last.(StreamErrorEvent)
	if !ok {
		t.Fatalf("expected terminal StreamError, got %T", last)
	}
	if _, ok := errEvent.Err.(*DuplicateLimitError); !ok {
		t.Fatalf("expected DuplicateLimitError, got %T: %v", errEvent.Err, errEvent.Err)
	}
}

// Cancellation: after Cancel is called, the request terminates with
// CancelError instead of StreamComplete. The event channel is unbuffered
// and nothing after ReadyEvent is read until Cancel has returned, so Cancel
// lands before the turn finishes and the post-turn isActive check sees it.
func TestRun_Cancellation(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}` + "\n" + "data: [DONE]\n",
	}}
	o := New(testConfig(), transport, newFakeToolQueue())

	ch := o.Run(context.Background(), "req-4", nil)
	first := <-ch
	if _, ok := first.(ReadyEvent); !ok {
		t.Fatalf("expected ReadyEvent first, got %T", first)
	}
	o.Cancel("req-4")

	events := collectEvents(ch)
	last := events[len(events)-1]
	errEvent, ok := last.(StreamErrorEvent)
	if !ok {
		t.Fatalf("expected terminal StreamError, got %T", last)
	}
	if _, ok := errEvent.Err.(CancelError); !ok {
		t.Fatalf("expected CancelError, got %v", errEvent.Err)
	}
}

// Tool execution timeout: the tool queue never resolves the call within the
// configured timeout, so a synthetic timeout message is produced and the
// conversation proceeds.
func TestRun_ToolTimeout(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"slow","arguments":"{}"}}]}}]}` + "\n" + "data: [DONE]\n",
		`data: {"choices":[{"index":0,"delta":{"content":"done"}}]}` + "\n" + "data: [DONE]\n",
	}}
	tools := &neverRespondingQueue{}
	cfg := testConfig()
	cfg.ToolTimeout = 30 * time.Millisecond
	cfg.ToolPollInterval = 5 * time.Millisecond

	o := New(cfg, transport, tools)
	events := collectEvents(o.Run(context.Background(), "req-5", nil))

	var sawTimeout bool
	for _, e := range events {
		if r, ok := e.(ToolCallResultEvent); ok && !r.Success && strings.Contains(r.Summary, "timed out") {
			sawTimeout = true
		}
	}
	if !sawTimeout {
		t.Fatalf("expected a timeout tool result, events: %+v", events)
	}
}

type neverRespondingQueue struct{}

func (neverRespondingQueue) Post(req ToolRequest) error              { return nil }
func (neverRespondingQueue) Poll(callID string) (ToolResponse, bool) { return ToolResponse{}, false }

// A model that never stops asking for tools trips the depth limit. The
// limit rejects dispatching the boundary turn's tool calls, not the
// round-trip itself: with MaxTurns=2 exactly three round-trips are issued
// (depths 0, 1, and 2), and the boundary turn's non-empty assistant
// content is persisted before the DepthExceededError terminates the
// request.
func TestRun_DepthExceeded(t *testing.T) {
	var bodies []string
	for i := 0; i < 5; i++ {
		n := strconv.Itoa(i)
		bodies = append(bodies,
			`data: {"choices":[{"index":0,"delta":{"content":"turn `+n+`","tool_calls":[{"index":0,"id":"call_`+n+`","function":{"name":"bash","arguments":"{\"command\":\"cmd_`+n+`\"}"}}]}}]}`+"\n"+
				"data: [DONE]\n")
	}
	transport := &fakeTransport{bodies: bodies}

	cfg := testConfig()
	cfg.MaxTurns = 2

	var mu sync.Mutex
	var persisted []llm.Message
	o := New(cfg, transport, newFakeToolQueue(), WithPersist(func(m llm.Message) {
		mu.Lock()
		persisted = append(persisted, m)
		mu.Unlock()
	}))
	events := collectEvents(o.Run(context.Background(), "req-10", nil))

	last := events[len(events)-1]
	errEvent, ok := last.(StreamErrorEvent)
	if !ok {
		t.Fatalf("expected terminal StreamError, got %T", last)
	}
	if _, ok := errEvent.Err.(*DepthExceededError); !ok {
		t.Fatalf("expected DepthExceededError, got %T: %v", errEvent.Err, errEvent.Err)
	}

	transport.mu.Lock()
	calls := transport.calls
	transport.mu.Unlock()
	if calls != cfg.MaxTurns+1 {
		t.Fatalf("expected %d round-trips (boundary turn included), got %d", cfg.MaxTurns+1, calls)
	}

	if len(persisted) == 0 {
		t.Fatal("expected persisted messages")
	}
	final := persisted[len(persisted)-1]
	if final.Role != llm.RoleAssistant || final.Content != "turn 2" {
		t.Fatalf("expected the boundary turn's assistant content persisted last, got %+v", final)
	}
}

// Persisted messages for a tool-using request arrive in dispatch order,
// with the content-free assistant placeholder skipped.
func TestRun_PersistOrdering(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]}}]}` + "\n" + "data: [DONE]\n",
		`data: {"choices":[{"index":0,"delta":{"content":"Found 2 entries"}}]}` + "\n" + "data: [DONE]\n",
	}}

	var mu sync.Mutex
	var persisted []llm.Message
	o := New(testConfig(), transport, newFakeToolQueue(), WithPersist(func(m llm.Message) {
		mu.Lock()
		persisted = append(persisted, m)
		mu.Unlock()
	}))
	collectEvents(o.Run(context.Background(), "req-9", nil))

	if len(persisted) != 2 {
		t.Fatalf("expected 2 persisted messages (tool result, assistant), got %d: %+v", len(persisted), persisted)
	}
	if persisted[0].Role != llm.RoleTool || persisted[0].ToolCallID != "call_1" {
		t.Fatalf("expected tool result first, got %+v", persisted[0])
	}
	if persisted[1].Role != llm.RoleAssistant || persisted[1].Content != "Found 2 entries" {
		t.Fatalf("expected assistant follow-up second, got %+v", persisted[1])
	}
}

// Leading newlines on the very first content chunk are cosmetic backend
// noise and must be suppressed; later newlines pass through.
func TestRun_SuppressesLeadingNewlines(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"content":"\n\nHello"}}]}` + "\n" +
			`data: {"choices":[{"index":0,"delta":{"content":"\nworld"}}]}` + "\n" +
			"data: [DONE]\n",
	}}
	o := New(testConfig(), transport, newFakeToolQueue())
	events := collectEvents(o.Run(context.Background(), "req-6", nil))

	var content strings.Builder
	for _, e := range events {
		if c, ok := e.(StreamChunkEvent); ok {
			content.WriteString(c.Content)
		}
	}
	if content.String() != "Hello\nworld" {
		t.Fatalf("expected leading newlines stripped from first chunk only, got %q", content.String())
	}
}

type recordingSinks struct {
	mu       sync.Mutex
	usage    []llm.TokenUsage
	thinking []string
	dialects []llm.ThinkingDialect
}

func (r *recordingSinks) RecordUsage(requestID, model string, usage llm.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, usage)
}

func (r *recordingSinks) RecordThinking(requestID, text string, dialect llm.ThinkingDialect, encrypted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thinking = append(r.thinking, text)
	r.dialects = append(r.dialects, dialect)
}

// Thinking slices are forwarded immediately but handed to the sink
// coalesced: short fragments accumulate and flush once at stream end.
func TestRun_ThinkingCoalescedForSink(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"thinking":"first "}}]}` + "\n" +
			`data: {"choices":[{"index":0,"delta":{"thinking":"second"}}]}` + "\n" +
			"data: [DONE]\n",
	}}
	sinks := &recordingSinks{}
	o := New(testConfig(), transport, newFakeToolQueue(), WithThinkingSink(sinks), WithUsageSink(sinks))
	collectEvents(o.Run(context.Background(), "req-7", nil))

	if len(sinks.thinking) != 1 {
		t.Fatalf("expected one coalesced thinking record, got %d: %v", len(sinks.thinking), sinks.thinking)
	}
	if sinks.thinking[0] != "first second" {
		t.Fatalf("expected coalesced text, got %q", sinks.thinking[0])
	}
	if sinks.dialects[0] != llm.ThinkingField {
		t.Fatalf("expected thinking dialect tagged, got %q", sinks.dialects[0])
	}
}

// Usage harvested from the final frame reaches the usage sink.
func TestRun_UsageHandedToSink(t *testing.T) {
	transport := &fakeTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"content":"hi"}}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}` + "\n" +
			"data: [DONE]\n",
	}}
	sinks := &recordingSinks{}
	o := New(testConfig(), transport, newFakeToolQueue(), WithUsageSink(sinks))
	collectEvents(o.Run(context.Background(), "req-8", nil))

	if len(sinks.usage) != 1 || sinks.usage[0].TotalTokens != 7 {
		t.Fatalf("expected one usage record with total 7, got %+v", sinks.usage)
	}
}

func TestSignature_NormalizesKeyOrder(t *testing.T) {
	a := llm.ToolCall{Name: "bash", Arguments: `{"b":2,"a":1}`}
	b := llm.ToolCall{Name: "bash", Arguments: `{"a":1,"b":2}`}
	if signature(a) != signature(b) {
		t.Fatalf("expected signatures to match regardless of key order: %q vs %q", signature(a), signature(b))
	}
}
