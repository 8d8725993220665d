package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/simonyos/zcode-core/internal/orchestrator"
)

// idlePollInterval is how long a worker sleeps between queue polls when its
// request queue is empty. Workers check the shutdown flag on every
// iteration, so teardown latency is bounded by this interval.
const idlePollInterval = 10 * time.Millisecond

// RunAPIWorker drains api_requests until a ShutdownMsg, the shutdown flag
// flips, or ctx is canceled, relaying every orchestrator.Event it produces
// onto api_responses. It hosts C1-C3 (parser, reassembler, orchestrator) in
// one goroutine, matching the coordinator's single-API-worker design: only
// one request runs at a time, so concurrent top-level requests are
// serialized through this loop. No queued message, StreamCancelMsg
// included, is read while a request is running.
func RunAPIWorker(ctx context.Context, c *Coordinator, orch *orchestrator.Orchestrator) {
	c.liveWorkers.Add(1)
	defer c.liveWorkers.Done()

	for {
		if c.isShuttingDown() {
			return
		}
		req, ok := c.APIRequests.TryReceive()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}

		switch m := req.(type) {
		case ChatRequestMsg:
			events := orch.Run(ctx, m.RequestID, m.Messages)
			for ev := range events {
				if err := c.APIResponses.Post(ctx, ev); err != nil {
					c.logger.Debug("worker: dropping api response, post failed", zap.Error(err))
				}
			}
		case StreamCancelMsg:
			orch.Cancel(m.RequestID)
		case ConfigureMsg:
			orch.Configure(m.BaseURL, m.APIKey, m.Model)
		case ShutdownMsg:
			return
		}
	}
}
