// Package provider adapts the streaming/tool-call core (packages sse,
// toolcall, orchestrator) into the single-turn Provider/ToolProvider
// interface for callers that drive their own iteration loop (the oneshot
// command is one). The REPL in package cmd instead drives the core
// through the full orchestrator.Orchestrator, which owns the turn loop
// itself; this package exists for callers that want the turn primitive
// without the orchestrator's own recursion, deduplication, and tool-worker
// dispatch.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/simonyos/zcode-core/internal/llm"
	"github.com/simonyos/zcode-core/internal/orchestrator"
	"github.com/simonyos/zcode-core/internal/sse"
	"github.com/simonyos/zcode-core/internal/toolcall"
)

// StreamChunk is one piece of a streamed generation: either a content delta,
// or, on the final chunk (Done == true), the full accumulated text plus any
// tool calls the reassembler harvested during the turn.
type StreamChunk struct {
	Text      string
	Done      bool
	ToolCalls []llm.ToolCall
	Error     error
}

// ToolResponse is the result of one non-streaming tool-enabled round trip.
type ToolResponse struct {
	Content   string
	ToolCalls []llm.ToolCall
}

// Provider drives one upstream chat-completions endpoint through a single
// turn of the streaming core.
type Provider interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
	GenerateStream(ctx context.Context, messages []llm.Message) (<-chan StreamChunk, error)
}

// ToolProvider additionally surfaces native tool calls instead of
// auto-dispatching them, for callers that own their own tool-execution loop.
type ToolProvider interface {
	Provider
	GenerateWithTools(ctx context.Context, messages []llm.Message, tools []llm.OpenAITool) (ToolResponse, error)
	GenerateStreamWithTools(ctx context.Context, messages []llm.Message, tools []llm.OpenAITool) (<-chan StreamChunk, error)
}

// openAICompatible is a ToolProvider over any OpenAI-compatible
// chat-completions endpoint, built directly on orchestrator.Transport plus
// the C1/C2 turn primitives (package sse, package toolcall) rather than the
// full orchestrator loop.
type openAICompatible struct {
	transport orchestrator.Transport
	model     string
}

// New builds a ToolProvider against an arbitrary OpenAI-compatible base URL.
func New(baseURL, apiKey, model string) ToolProvider {
	return NewWithTransport(orchestrator.NewHTTPTransport(http.DefaultClient, baseURL, apiKey), model)
}

// NewWithTransport builds a ToolProvider over a caller-supplied Transport,
// for callers that manage their own HTTP client or substitute a fake.
func NewWithTransport(transport orchestrator.Transport, model string) ToolProvider {
	return &openAICompatible{transport: transport, model: model}
}

// NewOpenAI builds a ToolProvider against the OpenAI API.
func NewOpenAI(apiKey, model string) ToolProvider {
	return New("https://api.openai.com/v1", apiKey, model)
}

// NewOpenRouter builds a ToolProvider against OpenRouter, which requires the
// extra HTTP-Referer/X-Title headers the transport adds automatically for
// that host.
func NewOpenRouter(apiKey, model string) ToolProvider {
	return New("https://openrouter.ai/api/v1", apiKey, model)
}

// NewLiteLLM builds a ToolProvider against a self-hosted LiteLLM proxy.
func NewLiteLLM(baseURL, apiKey, model string) ToolProvider {
	if baseURL == "" {
		baseURL = "http://localhost:4000"
	}
	return New(baseURL, apiKey, model)
}

func (p *openAICompatible) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := p.GenerateWithTools(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *openAICompatible) GenerateStream(ctx context.Context, messages []llm.Message) (<-chan StreamChunk, error) {
	return p.GenerateStreamWithTools(ctx, messages, nil)
}

func (p *openAICompatible) GenerateWithTools(ctx context.Context, messages []llm.Message, tools []llm.OpenAITool) (ToolResponse, error) {
	chunks, err := p.GenerateStreamWithTools(ctx, messages, tools)
	if err != nil {
		return ToolResponse{}, err
	}
	var final StreamChunk
	for chunk := range chunks {
		if chunk.Error != nil {
			return ToolResponse{}, chunk.Error
		}
		if chunk.Done {
			final = chunk
		}
	}
	return ToolResponse{Content: final.Text, ToolCalls: final.ToolCalls}, nil
}

func (p *openAICompatible) GenerateStreamWithTools(ctx context.Context, messages []llm.Message, tools []llm.OpenAITool) (<-chan StreamChunk, error) {
	req := llm.ChatRequest{
		Model:    p.model,
		Messages: llm.ToWireMessages(messages),
		Stream:   true,
		Tools:    tools,
	}

	body, err := p.transport.OpenStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider: open stream: %w", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close()

		reasm := toolcall.New()
		parser := sse.New(nil, reasm)
		chunks, errFn := parser.Stream(ctx, body)

		var content strings.Builder
		var harvested []llm.ToolCall

		for chunk := range chunks {
			for _, choice := range chunk.Choices {
				visible := reasm.ConsumeContent(choice.Delta.Content)
				if visible != "" {
					content.WriteString(visible)
					out <- StreamChunk{Text: visible}
				}
				for _, frag := range choice.Delta.ToolCalls {
					reasm.Feed(frag)
				}
			}
			harvested = append(harvested, reasm.Harvest()...)
		}

		if trailing := reasm.FlushContent(); trailing != "" {
			content.WriteString(trailing)
			out <- StreamChunk{Text: trailing}
		}
		harvested = append(harvested, reasm.Finalize()...)

		if err := errFn(); err != nil {
			out <- StreamChunk{Error: fmt.Errorf("provider: stream interrupted: %w", err)}
			return
		}

		out <- StreamChunk{Text: content.String(), Done: true, ToolCalls: harvested}
	}()

	return out, nil
}
