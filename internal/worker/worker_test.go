package worker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/simonyos/zcode-core/internal/llm"
	"github.com/simonyos/zcode-core/internal/orchestrator"
)

func TestChanQueue_PostReceive(t *testing.T) {
	q := NewChanQueue[int](2)
	ctx := context.Background()

	if err := q.Post(ctx, 1); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := q.Post(ctx, 2); err != nil {
		t.Fatalf("Post: %v", err)
	}

	got, ok := q.Receive(ctx)
	if !ok || got != 1 {
		t.Fatalf("Receive = (%d, %v), want (1, true)", got, ok)
	}
	got, ok = q.TryReceive()
	if !ok || got != 2 {
		t.Fatalf("TryReceive = (%d, %v), want (2, true)", got, ok)
	}
	if _, ok := q.TryReceive(); ok {
		t.Fatal("TryReceive on empty queue should report no value")
	}
}

func TestChanQueue_PostBlocksAtCapacity(t *testing.T) {
	q := NewChanQueue[int](1)
	ctx := context.Background()

	if err := q.Post(ctx, 1); err != nil {
		t.Fatalf("Post: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Post(blocked, 2); err == nil {
		t.Fatal("expected Post on a full queue to fail once the context expires")
	}
}

func TestChanQueue_ReceiveHonorsCancellation(t *testing.T) {
	q := NewChanQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Receive(ctx); ok {
		t.Fatal("expected Receive on a canceled context to report no value")
	}
}

// replayTransport serves one canned SSE body per round trip.
type replayTransport struct {
	bodies []string
	calls  int
}

func (r *replayTransport) OpenStream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error) {
	if r.calls >= len(r.bodies) {
		return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
	}
	body := r.bodies[r.calls]
	r.calls++
	return io.NopCloser(strings.NewReader(body)), nil
}

// echoExecutor implements ToolExecutor by echoing the call back.
type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, name, arguments string) (string, error) {
	if name == "fail" {
		return "", fmt.Errorf("tool refused")
	}
	return "ran " + name, nil
}

// Full pipeline: a chat request flows UI -> API worker -> orchestrator ->
// tool worker -> back, ending in a StreamComplete on api_responses, and
// Shutdown tears every worker down without hanging.
func TestCoordinator_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &replayTransport{bodies: []string{
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]}}]}` + "\ndata: [DONE]\n",
		`data: {"choices":[{"index":0,"delta":{"content":"all done"}}]}` + "\ndata: [DONE]\n",
	}}

	coord := NewCoordinator(nil)
	cfg := orchestrator.CoreConfig{Model: "test-model", ToolPollInterval: 5 * time.Millisecond}
	orch := orchestrator.New(cfg, transport, coord)

	coord.StartToolRelay(ctx)
	go RunToolWorker(ctx, coord, echoExecutor{})
	go RunAPIWorker(ctx, coord, orch)

	if err := coord.APIRequests.Post(ctx, ChatRequestMsg{RequestID: "req-1", Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}}}); err != nil {
		t.Fatalf("post chat request: %v", err)
	}

	var sawToolResult, sawComplete bool
	var content strings.Builder
	deadline := time.After(5 * time.Second)
	for !sawComplete {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for StreamComplete")
		default:
		}
		ev, ok := coord.APIResponses.Receive(ctx)
		if !ok {
			t.Fatal("api_responses closed early")
		}
		switch e := ev.(type) {
		case orchestrator.ToolCallResultEvent:
			sawToolResult = true
			if !e.Success {
				t.Fatalf("expected tool success, got %+v", e)
			}
		case orchestrator.StreamChunkEvent:
			content.WriteString(e.Content)
		case orchestrator.StreamCompleteEvent:
			sawComplete = true
		case orchestrator.StreamErrorEvent:
			t.Fatalf("unexpected stream error: %v", e.Err)
		}
	}
	if !sawToolResult {
		t.Fatal("expected a tool result event before completion")
	}
	if content.String() != "all done" {
		t.Fatalf("streamed content %q, want %q", content.String(), "all done")
	}

	done := make(chan struct{})
	go func() {
		coord.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not complete; a worker failed to observe the flag")
	}
}

// A failing tool execution comes back as an unsuccessful result message,
// not a dropped response.
func TestToolWorker_ReportsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := NewCoordinator(nil)
	coord.StartToolRelay(ctx)
	go RunToolWorker(ctx, coord, echoExecutor{})

	if err := coord.Post(orchestrator.ToolRequest{CallID: "c1", Name: "fail", Arguments: "{}"}); err != nil {
		t.Fatalf("post: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if resp, ok := coord.Poll("c1"); ok {
			if resp.Success {
				t.Fatalf("expected failure, got %+v", resp)
			}
			if !strings.Contains(resp.Error, "tool refused") {
				t.Fatalf("expected executor error propagated, got %q", resp.Error)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for tool response")
		case <-time.After(5 * time.Millisecond):
		}
	}

	coord.Shutdown()
}

// Poll consumes a delivered response exactly once.
func TestCoordinator_PollConsumes(t *testing.T) {
	coord := NewCoordinator(nil)
	coord.record("c1", orchestrator.ToolResponse{CallID: "c1", Success: true, Output: "ok"})

	if _, ok := coord.Poll("c1"); !ok {
		t.Fatal("expected first Poll to find the response")
	}
	if _, ok := coord.Poll("c1"); ok {
		t.Fatal("expected second Poll to find nothing")
	}
}
