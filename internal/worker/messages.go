package worker

import "github.com/simonyos/zcode-core/internal/llm"

// APIRequest is the tagged union the UI/main thread posts to the API
// worker's api_requests queue.
type APIRequest interface{ isAPIRequest() }

// ChatRequestMsg starts (or continues) a top-level conversation turn.
type ChatRequestMsg struct {
	RequestID string
	Messages  []llm.Message
}

// StreamCancelMsg cancels a request by id. RunAPIWorker reads it only
// between requests: one queued while a ChatRequestMsg is running is handled
// after that request has finished, so it does not stop the running request.
// Calling Orchestrator.Cancel directly from another goroutine does.
type StreamCancelMsg struct {
	RequestID string
}

// ConfigureMsg re-points the API worker at a different endpoint/model.
type ConfigureMsg struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ShutdownMsg tells a worker to stop draining its request queue and exit.
type ShutdownMsg struct{}

func (ChatRequestMsg) isAPIRequest()  {}
func (StreamCancelMsg) isAPIRequest() {}
func (ConfigureMsg) isAPIRequest()    {}
func (ShutdownMsg) isAPIRequest()     {}

// ToolRequestMsg is the tagged union the API worker posts to the tool
// worker's tool_requests queue.
type ToolRequestMsg interface{ isToolRequest() }

// ExecuteMsg asks the tool worker to run one tool call.
type ExecuteMsg struct {
	CallID    string
	Name      string
	Arguments string
}

func (ExecuteMsg) isToolRequest()  {}
func (ShutdownMsg) isToolRequest() {}

// ToolResponseMsg is the tagged union the tool worker posts back on
// tool_responses.
type ToolResponseMsg interface{ isToolResponse() }

// ToolReadyMsg announces the tool worker has started and is draining its
// queue; posted once at startup.
type ToolReadyMsg struct{}

// ToolResultMsg carries a completed tool execution, success or failure.
type ToolResultMsg struct {
	CallID   string
	Success  bool
	Output   string
	Error    string
	Duration int64 // nanoseconds, to keep the wire encoding a plain integer
}

// ToolErrorMsg carries a tool-worker-level failure not tied to a specific
// call (e.g. the executor itself panicked or failed to start).
type ToolErrorMsg struct {
	CallID string
	Error  string
}

func (ToolReadyMsg) isToolResponse()  {}
func (ToolResultMsg) isToolResponse() {}
func (ToolErrorMsg) isToolResponse()  {}
