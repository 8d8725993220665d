package worker

import (
	"context"
	"time"
)

// ToolExecutor runs one concrete tool call and returns its output or an
// error. Concrete tool implementations (filesystem, shell, search, …) are
// out of scope for this core; callers supply their own executor.
type ToolExecutor interface {
	Execute(ctx context.Context, name, arguments string) (output string, err error)
}

// RunToolWorker drains tool_requests, executing each call against executor
// and posting the outcome to tool_responses, until a ShutdownMsg, the
// shutdown flag flips, or ctx is canceled.
func RunToolWorker(ctx context.Context, c *Coordinator, executor ToolExecutor) {
	c.liveWorkers.Add(1)
	defer c.liveWorkers.Done()

	_ = c.ToolResponses.Post(ctx, ToolReadyMsg{})

	for {
		if c.isShuttingDown() {
			return
		}
		req, ok := c.ToolRequests.TryReceive()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}

		switch m := req.(type) {
		case ExecuteMsg:
			start := time.Now()
			output, err := executor.Execute(ctx, m.Name, m.Arguments)
			elapsed := time.Since(start)
			if err != nil {
				_ = c.ToolResponses.Post(ctx, ToolResultMsg{CallID: m.CallID, Success: false, Error: err.Error(), Duration: int64(elapsed)})
				continue
			}
			_ = c.ToolResponses.Post(ctx, ToolResultMsg{CallID: m.CallID, Success: true, Output: output, Duration: int64(elapsed)})
		case ShutdownMsg:
			return
		}
	}
}
