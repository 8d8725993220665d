package provider

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/simonyos/zcode-core/internal/llm"
)

type replayTransport struct {
	body string
}

func (r *replayTransport) OpenStream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(r.body)), nil
}

func TestGenerateStream_ContentOnly(t *testing.T) {
	transport := &replayTransport{body: strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":", world"}}]}`,
		`data: [DONE]`,
		"",
	}, "\n")}

	p := NewWithTransport(transport, "test-model")
	chunks, err := p.GenerateStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var streamed strings.Builder
	var final StreamChunk
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Error)
		}
		if chunk.Done {
			final = chunk
			continue
		}
		streamed.WriteString(chunk.Text)
	}

	if streamed.String() != "Hello, world" {
		t.Fatalf("streamed %q, want %q", streamed.String(), "Hello, world")
	}
	if final.Text != "Hello, world" || len(final.ToolCalls) != 0 {
		t.Fatalf("unexpected final chunk: %+v", final)
	}
}

// Native tool calls are surfaced on the final chunk instead of being
// auto-executed.
func TestGenerateStreamWithTools_SurfacesToolCalls(t *testing.T) {
	transport := &replayTransport{body: strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]}}]}`,
		`data: [DONE]`,
		"",
	}, "\n")}

	p := NewWithTransport(transport, "test-model")
	chunks, err := p.GenerateStreamWithTools(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("GenerateStreamWithTools: %v", err)
	}

	var final StreamChunk
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Error)
		}
		if chunk.Done {
			final = chunk
		}
	}

	if len(final.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call on the final chunk, got %d", len(final.ToolCalls))
	}
	if final.ToolCalls[0].Name != "bash" || final.ToolCalls[0].Arguments != `{"command":"ls"}` {
		t.Fatalf("unexpected tool call: %+v", final.ToolCalls[0])
	}
}

func TestGenerate_AggregatesContent(t *testing.T) {
	transport := &replayTransport{body: strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"content":"forty"}}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":"-two"}}]}`,
		`data: [DONE]`,
		"",
	}, "\n")}

	p := NewWithTransport(transport, "test-model")
	got, err := p.Generate(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "?"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "forty-two" {
		t.Fatalf("got %q, want %q", got, "forty-two")
	}
}
