// Package llm holds the wire-level data model shared by the streaming
// parser, the tool-call reassembler, and the orchestrator: messages, tool
// calls, and the chat-completions request/response shapes they're built
// from and into.
package llm

import (
	"encoding/json"
	"strings"
)

// Role is one of the four conversation roles in the chat-completions
// message model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one element of a conversation. Messages are append-only: the
// orchestrator never mutates a Message once it has been appended.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages only
	Name       string     `json:"name,omitempty"`
}

// IsProtocolPlaceholder reports whether this is an assistant message whose
// only purpose is to carry tool calls: empty content, non-empty ToolCalls.
func (m Message) IsProtocolPlaceholder() bool {
	return m.Role == RoleAssistant && m.Content == "" && len(m.ToolCalls) > 0
}

// ToolCallKind is the fixed "type" tag OpenAI-compatible tool calls carry.
type ToolCallKind string

const ToolCallKindFunction ToolCallKind = "function"

// ToolCall is a single invocation request from the model. ID may be empty
// when first observed (see the reassembler's synthesis rules); Arguments is
// the raw serialized payload — a JSON object string for the OpenAI dialect,
// or a JSON object string synthesized from extracted key/value pairs for
// the XML dialects.
type ToolCall struct {
	ID        string       `json:"id"`
	Type      ToolCallKind `json:"type"`
	Name      string       `json:"name"`
	Arguments string       `json:"arguments"`
}

// Dispatchable reports whether a ToolCall is ready to hand to the tool
// worker: a non-empty name and arguments that parse as a complete JSON
// object.
func (tc ToolCall) Dispatchable() bool {
	if tc.Name == "" {
		return false
	}
	trimmed := strings.TrimSpace(tc.Arguments)
	if trimmed == "" {
		return false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return false
	}
	_, isObject := v.(map[string]any)
	return isObject
}

// TokenUsage mirrors the usage block the chat-completions endpoint reports
// in the final SSE frame.
type TokenUsage struct {
	InputTokens     int `json:"prompt_tokens"`
	OutputTokens    int `json:"completion_tokens"`
	TotalTokens     int `json:"total_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// wireMessage is the JSON shape of a Message on the wire. Content is a
// pointer so a protocol placeholder serializes as content: null.
type wireMessage struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToWireMessages converts an internal Message slice to the JSON shape the
// chat-completions endpoint expects, nulling content for protocol
// placeholders.
func ToWireMessages(messages []Message) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
		if !m.IsProtocolPlaceholder() {
			content := m.Content
			wm.Content = &content
		}
		raw, err := json.Marshal(wm)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// ChatRequest is the body POSTed to {base_url}/chat/completions.
type ChatRequest struct {
	Model            string            `json:"model"`
	Messages         []json.RawMessage `json:"messages"`
	Stream           bool              `json:"stream"`
	Tools            []OpenAITool      `json:"tools,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	TopK             *int              `json:"top_k,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int    `json:"logit_bias,omitempty"`
	Seed             *int              `json:"seed,omitempty"`
}

// OpenAITool is one entry of the "tools" array attached to a ChatRequest
// when tool calling is enabled.
type OpenAITool struct {
	Type     string         `json:"type"` // "function"
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction describes a callable tool by name, description, and JSON
// Schema parameters.
type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// JSONSchema is the subset of JSON Schema used to describe tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
}

// ToolDefinition names a tool the orchestrator may offer to the model.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters"`
}

// BuildToolSchema converts ToolDefinitions into the wire-format tools array.
func BuildToolSchema(defs []ToolDefinition) []OpenAITool {
	out := make([]OpenAITool, 0, len(defs))
	for _, d := range defs {
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  jsonSchemaToMap(d.Parameters),
			},
		})
	}
	return out
}

func jsonSchemaToMap(s *JSONSchema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
