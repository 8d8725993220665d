// Package sse implements C1: the SSE/delta parser. It turns a byte stream
// from a chat-completions endpoint into a finite, ordered sequence of
// llm.StreamChunk values, extracting content, thinking/reasoning content,
// and tool-call fragments along the way.
//
// Parser state lives explicitly on the Parser value. Callers create one per
// stream, since its fallback extractor is that stream's reassembler.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/simonyos/zcode-core/internal/llm"
)

// FallbackExtractor recovers tool-call fragments from an SSE data line that
// did not parse as the OpenAI streaming shape. The reassembler (package
// toolcall) implements this; the parser only needs the interface to avoid
// depending on the reassembler's dialect-detection internals.
type FallbackExtractor interface {
	ExtractFragments(rawLine string) []llm.ToolCallFragment
}

// Parser turns SSE bytes into llm.StreamChunk values. The zero value is
// usable; Fallback may be set to wire in non-OpenAI dialect recovery.
type Parser struct {
	Logger   *zap.Logger
	Fallback FallbackExtractor
}

// New creates a Parser. logger may be nil, in which case a no-op logger is
// used.
func New(logger *zap.Logger, fallback FallbackExtractor) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{Logger: logger, Fallback: fallback}
}

// embeddedThinkingPattern matches <thinking>...</thinking> blocks embedded
// in ordinary content, used when no dedicated thinking field is present.
var embeddedThinkingPattern = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)

// wireDelta is the OpenAI-compatible streaming delta shape, extended with
// the handful of thinking/reasoning field names real backends use.
type wireDelta struct {
	Role               string              `json:"role,omitempty"`
	Content            string              `json:"content,omitempty"`
	Thinking           string              `json:"thinking,omitempty"`
	ReasoningContent   string              `json:"reasoning_content,omitempty"`
	EncryptedThinking  string              `json:"encrypted_thinking,omitempty"`
	EncryptedReasoning string              `json:"encrypted_reasoning,omitempty"`
	RedactedThinking   string              `json:"redacted_thinking,omitempty"`
	ToolCalls          []wireToolCallDelta `json:"tool_calls,omitempty"`
}

type wireToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type wireChoice struct {
	Index        int        `json:"index"`
	Delta        *wireDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
}

type wireFrame struct {
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage"`
}

// looksLikeOpenAIShape reports whether a decoded frame matches the
// OpenAI-compatible streaming shape: a choices array of objects each
// carrying a delta.
func (f wireFrame) looksLikeOpenAIShape() bool {
	if len(f.Choices) == 0 {
		return false
	}
	for _, c := range f.Choices {
		if c.Delta == nil {
			return false
		}
	}
	return true
}

// Stream parses r into a finite sequence of StreamChunks. The returned
// channel closes when the stream ends (terminal [DONE], EOF, or a fatal
// transport error); call errFn after the channel closes to retrieve a fatal
// error, mirroring bufio.Scanner's Err() convention.
func (p *Parser) Stream(ctx context.Context, r io.Reader) (<-chan llm.StreamChunk, func() error) {
	out := make(chan llm.StreamChunk)
	var fatal error

	go func() {
		defer close(out)

		reader := bufio.NewReader(r)
		for {
			select {
			case <-ctx.Done():
				fatal = ctx.Err()
				return
			default:
			}

			line, err := reader.ReadString('\n')
			if line != "" {
				if done := p.handleLine(ctx, out, line); done {
					return
				}
			}
			if err != nil {
				if err == io.EOF {
					return
				}
				fatal = err
				return
			}
		}
	}()

	return out, func() error { return fatal }
}

// handleLine processes one raw line (with or without trailing newline) and
// returns true if the stream should terminate after it (a [DONE] marker or
// a dropped send due to context cancellation).
func (p *Parser) handleLine(ctx context.Context, out chan<- llm.StreamChunk, line string) bool {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "data: ") {
		// Heartbeats, comments (": ..."), and other non-data lines are
		// ignored per the input contract.
		return false
	}

	body := strings.TrimPrefix(line, "data: ")
	if body == "[DONE]" {
		send(ctx, out, llm.StreamChunk{Done: true})
		return true
	}

	var frame wireFrame
	if err := json.Unmarshal([]byte(body), &frame); err != nil {
		p.Logger.Debug("sse: malformed JSON line, skipping", zap.Error(err))
		return p.handleFallback(ctx, out, body)
	}
	if !frame.looksLikeOpenAIShape() {
		return p.handleFallback(ctx, out, body)
	}

	chunk := llm.StreamChunk{Choices: make([]llm.StreamChoice, 0, len(frame.Choices))}
	if frame.Usage != nil {
		chunk.Usage = &llm.TokenUsage{
			InputTokens:     frame.Usage.PromptTokens,
			OutputTokens:    frame.Usage.CompletionTokens,
			TotalTokens:     frame.Usage.TotalTokens,
			ReasoningTokens: frame.Usage.ReasoningTokens,
		}
	}

	for _, c := range frame.Choices {
		choice := llm.StreamChoice{Index: c.Index}
		if c.FinishReason != nil {
			choice.FinishReason = *c.FinishReason
		}
		if c.Delta != nil {
			choice.Delta = deltaFromWire(*c.Delta)
			if choice.Delta.Thinking != "" {
				chunk.ThinkingDialect = thinkingDialectOf(*c.Delta)
			} else if text, ok := extractEmbeddedThinking(c.Delta.Content); ok {
				choice.Delta.Thinking = text
				choice.Delta.Content = strings.TrimSpace(embeddedThinkingPattern.ReplaceAllString(c.Delta.Content, ""))
				chunk.ThinkingDialect = llm.ThinkingEmbeddedTag
			}
		}
		chunk.Choices = append(chunk.Choices, choice)
	}

	return !send(ctx, out, chunk)
}

// handleFallback runs the non-OpenAI dialect recovery path: a malformed or
// unrecognized line is not fatal — it's logged, dropped from the content
// channel, and any tool-call fragments the fallback extractor recovers are
// surfaced as a synthetic chunk.
func (p *Parser) handleFallback(ctx context.Context, out chan<- llm.StreamChunk, body string) bool {
	if p.Fallback == nil {
		p.Logger.Debug("sse: non-OpenAI-shaped frame with no fallback configured, dropping")
		return false
	}
	fragments := p.Fallback.ExtractFragments(body)
	if len(fragments) == 0 {
		return false
	}
	chunk := llm.StreamChunk{
		Choices: []llm.StreamChoice{{
			Delta: llm.Delta{ToolCalls: fragments},
		}},
	}
	return !send(ctx, out, chunk)
}

func deltaFromWire(d wireDelta) llm.Delta {
	delta := llm.Delta{
		Content: d.Content,
	}
	if d.Role != "" {
		delta.Role = llm.Role(d.Role)
	}
	switch {
	case d.Thinking != "":
		delta.Thinking = d.Thinking
	case d.ReasoningContent != "":
		delta.Thinking = d.ReasoningContent
	case d.EncryptedThinking != "":
		delta.Thinking = d.EncryptedThinking
	case d.EncryptedReasoning != "":
		delta.Thinking = d.EncryptedReasoning
	case d.RedactedThinking != "":
		delta.Thinking = d.RedactedThinking
	}
	for _, tc := range d.ToolCalls {
		delta.ToolCalls = append(delta.ToolCalls, llm.ToolCallFragment{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return delta
}

func thinkingDialectOf(d wireDelta) llm.ThinkingDialect {
	switch {
	case d.Thinking != "":
		return llm.ThinkingField
	case d.ReasoningContent != "":
		return llm.ThinkingReasoningContent
	case d.EncryptedThinking != "":
		return llm.ThinkingEncryptedThinking
	case d.EncryptedReasoning != "":
		return llm.ThinkingEncryptedReasoning
	case d.RedactedThinking != "":
		return llm.ThinkingRedacted
	default:
		return llm.ThinkingNone
	}
}

func extractEmbeddedThinking(content string) (string, bool) {
	m := embeddedThinkingPattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// send delivers a chunk, honoring cancellation. It returns true on success.
func send(ctx context.Context, out chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
