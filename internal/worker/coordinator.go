package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/simonyos/zcode-core/internal/orchestrator"
)

// Default queue capacities. A conversational core has low concurrency; these
// exist to bound memory, not to tune throughput.
const (
	DefaultAPIRequestCapacity   = 16
	DefaultAPIResponseCapacity  = 256
	DefaultToolRequestCapacity  = 16
	DefaultToolResponseCapacity = 16
)

// Coordinator owns the four typed queues and the shutdown/live-worker
// bookkeeping every worker goroutine checks and updates. It also implements
// orchestrator.ToolQueue by bridging Post/Poll onto the tool_requests and
// tool_responses queues, so the API worker's Orchestrator can dispatch tool
// calls without knowing a tool worker exists on the other end.
type Coordinator struct {
	APIRequests   Queue[APIRequest]
	APIResponses  Queue[orchestrator.Event]
	ToolRequests  Queue[ToolRequestMsg]
	ToolResponses Queue[ToolResponseMsg]

	logger *zap.Logger

	shuttingDown atomic.Bool
	liveWorkers  sync.WaitGroup

	mu        sync.Mutex
	delivered map[string]orchestrator.ToolResponse
}

// NewCoordinator builds a Coordinator over in-process channel queues.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		APIRequests:   NewChanQueue[APIRequest](DefaultAPIRequestCapacity),
		APIResponses:  NewChanQueue[orchestrator.Event](DefaultAPIResponseCapacity),
		ToolRequests:  NewChanQueue[ToolRequestMsg](DefaultToolRequestCapacity),
		ToolResponses: NewChanQueue[ToolResponseMsg](DefaultToolResponseCapacity),
		logger:        logger,
		delivered:     make(map[string]orchestrator.ToolResponse),
	}
}

// Shutdown flips the shared flag every worker polls between receives and
// waits for all of them to exit.
func (c *Coordinator) Shutdown() {
	c.shuttingDown.Store(true)
	c.liveWorkers.Wait()
}

func (c *Coordinator) isShuttingDown() bool {
	return c.shuttingDown.Load()
}

// Post implements orchestrator.ToolQueue: it hands a call to the tool
// worker via the tool_requests queue.
func (c *Coordinator) Post(req orchestrator.ToolRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.ToolRequests.Post(ctx, ExecuteMsg{CallID: req.CallID, Name: req.Name, Arguments: req.Arguments})
}

// Poll implements orchestrator.ToolQueue: a non-blocking lookup against
// whatever relayToolResponses has collected so far.
func (c *Coordinator) Poll(callID string) (orchestrator.ToolResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.delivered[callID]
	if ok {
		delete(c.delivered, callID)
	}
	return resp, ok
}

func (c *Coordinator) record(callID string, resp orchestrator.ToolResponse) {
	c.mu.Lock()
	c.delivered[callID] = resp
	c.mu.Unlock()
}

// relayToolResponses drains tool_responses into the delivered map so Poll
// can answer without blocking. It runs for the lifetime of the coordinator,
// counted against the live-worker total like any other worker goroutine.
func (c *Coordinator) relayToolResponses(ctx context.Context) {
	c.liveWorkers.Add(1)
	defer c.liveWorkers.Done()

	for {
		if c.isShuttingDown() {
			return
		}
		msg, ok := c.ToolResponses.TryReceive()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}
		switch m := msg.(type) {
		case ToolResultMsg:
			c.record(m.CallID, orchestrator.ToolResponse{
				CallID:   m.CallID,
				Success:  m.Success,
				Output:   m.Output,
				Error:    m.Error,
				Duration: time.Duration(m.Duration),
			})
		case ToolErrorMsg:
			c.record(m.CallID, orchestrator.ToolResponse{CallID: m.CallID, Success: false, Error: m.Error})
		case ToolReadyMsg:
			c.logger.Debug("worker: tool worker ready")
		}
	}
}

// StartToolRelay launches the tool-response relay goroutine. Call once,
// before posting any tool requests.
func (c *Coordinator) StartToolRelay(ctx context.Context) {
	go c.relayToolResponses(ctx)
}
