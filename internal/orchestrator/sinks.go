package orchestrator

import "github.com/simonyos/zcode-core/internal/llm"

// UsageSink receives the token usage harvested from a turn's final SSE
// frame. Persistence (per model, per conversation/message) is the caller's
// concern; the orchestrator only hands the numbers off.
type UsageSink interface {
	RecordUsage(requestID, model string, usage llm.TokenUsage)
}

// ThinkingSink receives aggregated thinking/reasoning content. Slices are
// coalesced before hand-off: a record is cut when the accumulated text
// reaches the configured minimum length, when the thinking dialect or
// encryption state changes mid-turn, or at stream end for whatever remains.
type ThinkingSink interface {
	RecordThinking(requestID, text string, dialect llm.ThinkingDialect, encrypted bool)
}

// WithUsageSink attaches a token-usage hand-off target.
func WithUsageSink(sink UsageSink) Option {
	return func(o *Orchestrator) { o.usageSink = sink }
}

// WithThinkingSink attaches a thinking-content hand-off target.
func WithThinkingSink(sink ThinkingSink) Option {
	return func(o *Orchestrator) { o.thinkingSink = sink }
}
