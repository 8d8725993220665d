package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/simonyos/zcode-core/internal/llm"
)

// Registry manages tool registration and execution
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	def := tool.Definition()
	r.tools[def.Name] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool definitions
func (r *Registry) List() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Execute runs a tool by name with arguments
func (r *Registry) Execute(ctx context.Context, call ToolCall) ToolResult {
	tool, ok := r.Get(call.Name)
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	if err := tool.Validate(call.Arguments); err != nil {
		return ToolResult{Success: false, Error: err.Error()}
	}

	return tool.Execute(ctx, call.Arguments)
}

// GetOpenAIToolDefinitions converts every registered tool into the wire
// "tools" array format a chat-completions request attaches when native tool
// calling is enabled.
func (r *Registry) GetOpenAIToolDefinitions() []llm.OpenAITool {
	out := make([]llm.OpenAITool, 0, len(r.tools))
	for _, def := range r.List() {
		out = append(out, llm.OpenAITool{
			Type: "function",
			Function: llm.OpenAIFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaToMap(def.Parameters),
			},
		})
	}
	return out
}

// LLMToolDefinitions converts every registered tool's definition into
// package llm's ToolDefinition shape, the form orchestrator.CoreConfig.Tools
// expects (the orchestrator attaches it to every turn's wire request via
// llm.BuildToolSchema, see internal/orchestrator/orchestrator.go).
func (r *Registry) LLMToolDefinitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, def := range r.List() {
		out = append(out, llm.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaToLLM(def.Parameters),
		})
	}
	return out
}

func schemaToLLM(s *JSONSchema) *llm.JSONSchema {
	if s == nil {
		return nil
	}
	props := make(map[string]*llm.JSONSchema, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = schemaToLLM(p)
	}
	return &llm.JSONSchema{
		Type:        s.Type,
		Description: s.Description,
		Properties:  props,
		Required:    s.Required,
		Enum:        s.Enum,
	}
}

func schemaToMap(s *JSONSchema) map[string]any {
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

// Executor adapts a Registry to worker.ToolExecutor: the orchestrator's
// dispatched calls carry arguments as a JSON object string (the wire
// format ToolCall.Arguments uses throughout the core, see package llm),
// which Execute decodes into the map[string]any shape tools.Tool expects.
type Executor struct {
	Registry *Registry
}

// NewExecutor wraps reg as a worker.ToolExecutor.
func NewExecutor(reg *Registry) *Executor {
	return &Executor{Registry: reg}
}

// Execute implements worker.ToolExecutor.
func (e *Executor) Execute(ctx context.Context, name, arguments string) (string, error) {
	args := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("tools: decode arguments for %s: %w", name, err)
		}
	}
	result := e.Registry.Execute(ctx, ToolCall{Name: name, Arguments: args})
	if !result.Success {
		return "", fmt.Errorf("%s", result.Error)
	}
	return result.Output, nil
}
