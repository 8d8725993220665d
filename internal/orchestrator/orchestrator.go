package orchestrator

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simonyos/zcode-core/internal/llm"
	"github.com/simonyos/zcode-core/internal/sse"
	"github.com/simonyos/zcode-core/internal/toolcall"
)

// Orchestrator runs turns for many concurrent top-level requests, serialized
// in practice because it is always driven from the single API worker
// goroutine (see package worker). activeRequests is the only state shared
// with the outside world (StreamCancel writes it from a different caller),
// so it alone is mutex-protected; everything else in a turn is owned
// exclusively by that turn's goroutine.
type Orchestrator struct {
	cfg       CoreConfig
	transport Transport
	tools     ToolQueue
	logger    *zap.Logger
	clock     func() time.Time
	sleep     func(time.Duration)

	// Persist is the hook into the external conversation store, treated as
	// a black-box append-only log. It is never called for a
	// protocol-placeholder assistant message (empty content, tool calls
	// only) — those aren't stored.
	Persist func(llm.Message)

	usageSink    UsageSink
	thinkingSink ThinkingSink

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

func WithClock(clock func() time.Time) Option { return func(o *Orchestrator) { o.clock = clock } }
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}
func WithLogger(logger *zap.Logger) Option { return func(o *Orchestrator) { o.logger = logger } }
func WithPersist(fn func(llm.Message)) Option {
	return func(o *Orchestrator) { o.Persist = fn }
}

// New creates an Orchestrator. transport and tools are required
// collaborators; cfg is normalized with WithDefaults() internally.
func New(cfg CoreConfig, transport Transport, tools ToolQueue, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.WithDefaults(),
		transport: transport,
		tools:     tools,
		logger:    zap.NewNop(),
		clock:     time.Now,
		sleep:     time.Sleep,
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Cancel implements the StreamCancel request kind: it removes requestID
// from the active set and arranges for a terminal CancelError event.
func (o *Orchestrator) Cancel(requestID string) {
	o.mu.Lock()
	delete(o.active, requestID)
	o.mu.Unlock()
}

// Configure re-creates the HTTP transport with a new base URL, API key, and
// model. It emits no response beyond this debug log.
func (o *Orchestrator) Configure(baseURL, apiKey, model string) {
	o.cfg.BaseURL, o.cfg.APIKey, o.cfg.Model = baseURL, apiKey, model
	o.transport = NewHTTPTransport(nil, baseURL, apiKey)
	o.logger.Debug("orchestrator: reconfigured", zap.String("base_url", baseURL), zap.String("model", model))
}

func (o *Orchestrator) markActive(requestID string) {
	o.mu.Lock()
	o.active[requestID] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) isActive(requestID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[requestID]
	return ok
}

func (o *Orchestrator) persist(msg llm.Message) {
	if msg.IsProtocolPlaceholder() {
		return
	}
	if o.Persist != nil {
		o.Persist(msg)
	}
}

// Run drives one top-level request to completion (or cancellation, or a
// limit error), emitting Events on the returned channel. The channel closes
// once a terminal event (StreamComplete or StreamError) has been sent.
func (o *Orchestrator) Run(ctx context.Context, requestID string, messages []llm.Message) <-chan Event {
	out := make(chan Event)
	o.markActive(requestID)

	go func() {
		defer close(out)
		out <- ReadyEvent{RequestID: requestID}
		o.runTurns(ctx, requestID, messages, out)
	}()

	return out
}

// runTurns is the turn loop: it round-trips with the model, dispatches any
// tool calls it comes back with, and repeats until a turn produces none, a
// completion signal fires, or a limit trips. It is a plain loop with an
// explicit depth counter rather than a recursive call per turn.
func (o *Orchestrator) runTurns(ctx context.Context, requestID string, messages []llm.Message, out chan<- Event) {
	depth := 0
	executedCalls := make(map[string]bool)
	perDepthCounts := make(map[int]map[string]int)
	globalCounts := make(map[string]int)
	firstContentChunk := true

	for {
		if !o.isActive(requestID) {
			out <- StreamErrorEvent{RequestID: requestID, Err: CancelError{}}
			return
		}

		wireReq := llm.ChatRequest{
			Model:       o.cfg.Model,
			Messages:    llm.ToWireMessages(messages),
			Stream:      true,
			Tools:       llm.BuildToolSchema(o.cfg.Tools),
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
			TopP:        o.cfg.TopP,
			TopK:        o.cfg.TopK,
		}

		body, err := o.transport.OpenStream(ctx, wireReq)
		if err != nil {
			out <- StreamErrorEvent{RequestID: requestID, Err: err}
			return
		}

		assistantContent, harvested, usage, finishReason, streamErr := o.consumeTurn(ctx, requestID, body, out, &firstContentChunk)
		body.Close()
		if streamErr != nil {
			out <- StreamErrorEvent{RequestID: requestID, Err: streamErr}
			return
		}
		if !o.isActive(requestID) {
			out <- StreamErrorEvent{RequestID: requestID, Err: CancelError{}}
			return
		}
		if o.usageSink != nil && usage.TotalTokens > 0 {
			o.usageSink.RecordUsage(requestID, o.cfg.Model, usage)
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: assistantContent, ToolCalls: harvested}

		if len(harvested) == 0 {
			messages = append(messages, assistantMsg)
			o.persist(assistantMsg)
			out <- StreamChunkEvent{RequestID: requestID, Content: "", Done: true}
			out <- StreamCompleteEvent{RequestID: requestID, Usage: usage, FinishReason: orDefault(finishReason, "stop")}
			return
		}

		if o.cfg.CompletionSignal(assistantContent) {
			messages = append(messages, assistantMsg)
			o.persist(assistantMsg)
			out <- StreamChunkEvent{RequestID: requestID, Content: "", Done: true}
			out <- StreamCompleteEvent{RequestID: requestID, Usage: usage, FinishReason: "stop"}
			return
		}

		// The limit rejects dispatching this turn's tool calls, not the
		// round-trip that produced them: the turn at depth == MaxTurns still
		// streams, and its assistant content (if any) is still persisted.
		if depth >= o.cfg.MaxTurns {
			if assistantContent != "" {
				messages = append(messages, assistantMsg)
				o.persist(assistantMsg)
			}
			out <- StreamErrorEvent{RequestID: requestID, Err: &DepthExceededError{Depth: depth, MaxTurns: o.cfg.MaxTurns}}
			return
		}

		unique, uniqueSigs := o.dedup(harvested, executedCalls)

		if len(unique) == 0 {
			if blocked := o.duplicateLimitReached(harvested, depth, perDepthCounts, globalCounts); blocked != nil {
				if assistantContent != "" {
					messages = append(messages, assistantMsg)
					o.persist(assistantMsg)
				}
				out <- StreamErrorEvent{RequestID: requestID, Err: blocked}
				return
			}

			rep := harvested[0]
			sig := signature(rep)
			if perDepthCounts[depth] == nil {
				perDepthCounts[depth] = make(map[string]int)
			}
			perDepthCounts[depth][sig]++
			globalCounts[sig]++

			messages = append(messages, assistantMsg)
			o.persist(assistantMsg)

			feedback := llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: rep.ID,
				Name:       rep.Name,
				Content:    "This tool call was already executed; try a different approach.",
			}
			messages = append(messages, feedback)
			o.persist(feedback)

			depth++
			continue
		}

		messages = append(messages, assistantMsg)
		o.persist(assistantMsg)

		for i, call := range unique {
			executedCalls[uniqueSigs[i]] = true
			result := o.dispatchTool(requestID, call, out)
			messages = append(messages, result)
			o.persist(result)
		}

		depth++
	}
}

// consumeTurn drains one SSE stream, forwarding content/thinking chunks and
// feeding tool-call fragments to a fresh reassembler. Thinking slices are
// forwarded to the event channel as they arrive and coalesced separately
// for the thinking sink: a record is cut at the configured minimum length,
// on a dialect change mid-turn, and at stream end for the remainder.
func (o *Orchestrator) consumeTurn(
	ctx context.Context,
	requestID string,
	body io.Reader,
	out chan<- Event,
	firstContentChunk *bool,
) (assistantContent string, harvested []llm.ToolCall, usage llm.TokenUsage, finishReason string, streamErr error) {
	reasm := toolcall.New(
		toolcall.WithClock(o.clock),
		toolcall.WithTimeouts(o.cfg.StaleBufferTimeout, o.cfg.EmptyDialectTimeout),
		toolcall.WithLogger(o.logger),
	)
	parser := sse.New(o.logger, reasm)

	chunks, errFn := parser.Stream(ctx, body)

	var content strings.Builder
	var thinkingBuf strings.Builder
	var thinkingDialect llm.ThinkingDialect

	for chunk := range chunks {
		if !o.isActive(requestID) {
			continue
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
			visible := reasm.ConsumeContent(choice.Delta.Content)
			visible = o.suppressLeadingNewline(visible, firstContentChunk)
			if visible != "" {
				content.WriteString(visible)
				out <- StreamChunkEvent{RequestID: requestID, Content: visible}
			}
			if choice.Delta.Thinking != "" {
				out <- StreamChunkEvent{RequestID: requestID, ThinkingContent: choice.Delta.Thinking, ThinkingDialect: chunk.ThinkingDialect, IsEncrypted: chunk.ThinkingDialect.IsEncrypted()}
				if thinkingBuf.Len() > 0 && chunk.ThinkingDialect != thinkingDialect {
					o.recordThinking(requestID, &thinkingBuf, thinkingDialect)
				}
				thinkingDialect = chunk.ThinkingDialect
				thinkingBuf.WriteString(choice.Delta.Thinking)
				if thinkingBuf.Len() >= o.cfg.ThinkingMinLength {
					o.recordThinking(requestID, &thinkingBuf, thinkingDialect)
				}
			}
			for _, frag := range choice.Delta.ToolCalls {
				reasm.Feed(frag)
			}
		}
		harvested = append(harvested, reasm.Harvest()...)
	}

	if err := errFn(); err != nil {
		return "", nil, llm.TokenUsage{}, "", &TransportError{StatusText: "stream interrupted", Err: err}
	}

	if trailing := reasm.FlushContent(); trailing != "" {
		trailing = o.suppressLeadingNewline(trailing, firstContentChunk)
		if trailing != "" {
			content.WriteString(trailing)
			out <- StreamChunkEvent{RequestID: requestID, Content: trailing}
		}
	}
	o.recordThinking(requestID, &thinkingBuf, thinkingDialect)

	harvested = append(harvested, reasm.Finalize()...)
	return content.String(), harvested, usage, finishReason, nil
}

// recordThinking cuts one coalesced thinking record and resets the buffer.
func (o *Orchestrator) recordThinking(requestID string, buf *strings.Builder, dialect llm.ThinkingDialect) {
	if buf.Len() == 0 {
		return
	}
	if o.thinkingSink != nil {
		o.thinkingSink.RecordThinking(requestID, buf.String(), dialect, dialect.IsEncrypted())
	}
	buf.Reset()
}

// suppressLeadingNewline strips leading newlines from the very first
// content chunk of a request, a cosmetic artifact some backends emit.
func (o *Orchestrator) suppressLeadingNewline(text string, first *bool) string {
	if !*first {
		return text
	}
	trimmed := strings.TrimLeft(text, "\n")
	if trimmed != "" {
		*first = false
	}
	return trimmed
}

// dedup filters out signatures already in executedCalls and, within this
// turn, calls sharing an id with one already kept this turn.
func (o *Orchestrator) dedup(calls []llm.ToolCall, executedCalls map[string]bool) ([]llm.ToolCall, []string) {
	var unique []llm.ToolCall
	var sigs []string
	seenIDs := make(map[string]bool)
	for _, call := range calls {
		sig := signature(call)
		if executedCalls[sig] {
			continue
		}
		if seenIDs[call.ID] {
			continue
		}
		seenIDs[call.ID] = true
		unique = append(unique, call)
		sigs = append(sigs, sig)
	}
	return unique, sigs
}

// duplicateLimitReached checks the per-depth and global repeat limits, run
// only when every harvested call this turn was already a duplicate.
func (o *Orchestrator) duplicateLimitReached(calls []llm.ToolCall, depth int, perDepth map[int]map[string]int, global map[string]int) *DuplicateLimitError {
	for _, call := range calls {
		sig := signature(call)
		if count := perDepth[depth][sig]; count >= o.cfg.MaxAttemptsPerLevel {
			return &DuplicateLimitError{Signature: sig, Scope: "per-depth", Count: count, Limit: o.cfg.MaxAttemptsPerLevel}
		}
		if count := global[sig]; count >= o.cfg.MaxTotalAttempts {
			return &DuplicateLimitError{Signature: sig, Scope: "global", Count: count, Limit: o.cfg.MaxTotalAttempts}
		}
	}
	return nil
}

// dispatchTool posts a call to the tool worker, block-polls up to
// ToolTimeout, and builds the resulting tool-result message.
func (o *Orchestrator) dispatchTool(requestID string, call llm.ToolCall, out chan<- Event) llm.Message {
	out <- ToolCallRequestEvent{
		RequestID:   requestID,
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		ArgsPreview: call.Arguments,
		Icon:        iconFor(call.Name),
		Status:      "running",
	}

	if err := o.tools.Post(ToolRequest{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}); err != nil {
		o.logger.Debug("orchestrator: tool dispatch failed",
			zap.Error(&ToolDispatchError{CallID: call.ID, Name: call.Name, Reason: err.Error()}))
		summary := "Error: tool dispatch failed"
		out <- ToolCallResultEvent{RequestID: requestID, ToolCallID: call.ID, ToolName: call.Name, Success: false, Summary: summary}
		return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: summary}
	}

	deadline := o.clock().Add(o.cfg.ToolTimeout)
	for o.clock().Before(deadline) {
		if resp, ok := o.tools.Poll(call.ID); ok {
			content := resp.Output
			if !resp.Success {
				content = "Error: " + resp.Error
			}
			out <- ToolCallResultEvent{
				RequestID:     requestID,
				ToolCallID:    call.ID,
				ToolName:      call.Name,
				Success:       resp.Success,
				Summary:       summarize(resp),
				ExecutionTime: resp.Duration,
			}
			return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: content}
		}
		o.sleep(o.cfg.ToolPollInterval)
	}

	o.logger.Debug("orchestrator: tool call timed out",
		zap.Error(&ToolTimeoutError{CallID: call.ID, Name: call.Name, Elapsed: o.cfg.ToolTimeout}))
	summary := "Error: Tool execution timed out"
	out <- ToolCallResultEvent{RequestID: requestID, ToolCallID: call.ID, ToolName: call.Name, Success: false, Summary: summary, ExecutionTime: o.cfg.ToolTimeout}
	return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: summary}
}

func summarize(resp ToolResponse) string {
	if resp.Success {
		if len(resp.Output) > 120 {
			return resp.Output[:120] + "…"
		}
		return resp.Output
	}
	return "Error: " + resp.Error
}

// iconFor maps a handful of well-known tool names to a short display glyph,
// falling back to a generic one. Concrete tool implementations are out of
// scope; this only serves the UI event's display hint.
func iconFor(name string) string {
	switch name {
	case "bash", "run_command":
		return "$"
	case "read_file", "list_dir", "glob", "grep":
		return "#"
	case "write_file", "edit_file":
		return "~"
	default:
		return "*"
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
