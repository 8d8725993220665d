package orchestrator

import (
	"time"

	"github.com/simonyos/zcode-core/internal/llm"
)

// Event is the tagged union the orchestrator emits downstream. Each variant
// carries its payload inline as its own concrete type rather than as
// optional fields on one shared struct.
type Event interface {
	isEvent()
}

// ReadyEvent is emitted once per accepted request.
type ReadyEvent struct {
	RequestID string
}

func (ReadyEvent) isEvent() {}

// StreamChunkEvent carries a slice of content or thinking content.
// Done marks the final chunk of a turn only when no further tool work will
// occur.
type StreamChunkEvent struct {
	RequestID       string
	Content         string
	Done            bool
	ThinkingContent string
	ThinkingDialect llm.ThinkingDialect
	IsEncrypted     bool
}

func (StreamChunkEvent) isEvent() {}

// ToolCallRequestEvent announces one dispatched tool call.
type ToolCallRequestEvent struct {
	RequestID   string
	ToolCallID  string
	ToolName    string
	ArgsPreview string
	Icon        string
	Status      string
}

func (ToolCallRequestEvent) isEvent() {}

// ToolCallResultEvent announces one completed tool call.
type ToolCallResultEvent struct {
	RequestID     string
	ToolCallID    string
	ToolName      string
	Success       bool
	Summary       string
	ExecutionTime time.Duration
}

func (ToolCallResultEvent) isEvent() {}

// StreamCompleteEvent terminates a successful request.
type StreamCompleteEvent struct {
	RequestID    string
	Usage        llm.TokenUsage
	FinishReason string
}

func (StreamCompleteEvent) isEvent() {}

// StreamErrorEvent terminates a failed or cancelled request.
type StreamErrorEvent struct {
	RequestID string
	Err       error
}

func (StreamErrorEvent) isEvent() {}
