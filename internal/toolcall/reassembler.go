// Package toolcall implements C2: the tool-call fragment reassembler. The
// LLM may emit a tool call as one chunk, as hundreds of single-character
// fragments, or anywhere in between, and different providers violate the
// OpenAI tool_calls convention in different, mutually incompatible ways.
// Reassembler buffers fragments per call, detects which dialect it is
// looking at, and decides when a call is complete enough to dispatch.
package toolcall

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonyos/zcode-core/internal/llm"
)

const (
	// DefaultStaleTimeout is how long a buffer may go without an update
	// before it is garbage collected.
	DefaultStaleTimeout = 30 * time.Second
	// DefaultEmptyDialectTimeout bounds how long a buffer may sit with an
	// undetected dialect and no arguments before being dropped.
	DefaultEmptyDialectTimeout = 5 * time.Second

	maxMarkerKeep = 16 // longest tracked marker ("</tool_call>") minus one, rounded up
)

// Reassembler owns the buffer table for one SSE stream. It is not safe to
// share across streams; the orchestrator creates one per turn and discards
// it when that turn's stream ends.
type Reassembler struct {
	mu sync.Mutex

	buffers map[string]*Buffer
	order   []string // insertion order, preserved across GC, for deterministic harvest order

	openContentID    string // id of the buffer currently receiving via ConsumeContent, "" if none
	openContentClose string // closing tag paired with the marker that opened it
	contentScratch   strings.Builder
	synthCounter     int64

	logger              *zap.Logger
	clock               func() time.Time
	staleTimeout        time.Duration
	emptyDialectTimeout time.Duration
}

// Option configures a Reassembler at construction.
type Option func(*Reassembler)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Reassembler) { r.clock = clock }
}

// WithTimeouts overrides the stale-buffer and empty-dialect GC timeouts.
func WithTimeouts(stale, emptyDialect time.Duration) Option {
	return func(r *Reassembler) {
		r.staleTimeout = stale
		r.emptyDialectTimeout = emptyDialect
	}
}

// WithLogger attaches a logger for non-fatal parse/GC diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reassembler) { r.logger = logger }
}

// New creates an empty Reassembler ready to accept fragments for one
// top-level request.
func New(opts ...Option) *Reassembler {
	r := &Reassembler{
		buffers:             make(map[string]*Buffer),
		logger:              zap.NewNop(),
		clock:               time.Now,
		staleTimeout:        DefaultStaleTimeout,
		emptyDialectTimeout: DefaultEmptyDialectTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed buffers one structured tool-call fragment (from a delta's tool_calls
// array), applying the three upsert rules: id-present, id-less
// continuation, and id-less-but-named synthesis.
func (r *Reassembler) Feed(frag llm.ToolCallFragment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()

	switch {
	case frag.ID != "":
		buf, ok := r.buffers[frag.ID]
		if !ok {
			buf = newBuffer(frag.ID, false, now)
			r.addBuffer(buf)
		}
		buf.Name += frag.Name
		buf.Arguments += frag.Arguments
		buf.touch(now)
		buf.maybeDetectDialect()

	case frag.Name == "":
		// Id-less, name-less: a continuation of the most recent buffer
		// that already has a name, preferring non-empty arguments and the
		// newest lastUpdated.
		buf := r.mostRecentContinuation()
		if buf == nil {
			r.logger.Debug("toolcall: dropping id-less continuation fragment, no candidate buffer")
			return
		}
		buf.Arguments += frag.Arguments
		buf.touch(now)
		buf.maybeDetectDialect()

	default:
		// No id but a name: synthesize one from the wall clock.
		id := r.synthesizeID(now)
		buf := newBuffer(id, true, now)
		r.addBuffer(buf)
		buf.Name = frag.Name
		buf.Arguments += frag.Arguments
		buf.maybeDetectDialect()
	}
}

// mostRecentContinuation finds the buffer an id-less, name-less fragment
// should continue: the one with a non-empty name, preferring non-empty
// arguments and the newest lastUpdated. Caller holds r.mu.
func (r *Reassembler) mostRecentContinuation() *Buffer {
	var best *Buffer
	for _, id := range r.order {
		buf := r.buffers[id]
		if buf == nil || buf.Name == "" {
			continue
		}
		if best == nil {
			best = buf
			continue
		}
		bestHasArgs := best.Arguments != ""
		bufHasArgs := buf.Arguments != ""
		switch {
		case bufHasArgs && !bestHasArgs:
			best = buf
		case bufHasArgs == bestHasArgs && buf.LastUpdated.After(best.LastUpdated):
			best = buf
		}
	}
	return best
}

// synthesizeID mints a "temp_<epoch>" id from the wall clock.
// Caller holds r.mu.
func (r *Reassembler) synthesizeID(now time.Time) string {
	r.synthCounter++
	return "temp_" + strconv.FormatInt(now.UnixNano(), 10) + "_" + strconv.FormatInt(r.synthCounter, 10)
}

func (r *Reassembler) addBuffer(buf *Buffer) {
	r.buffers[buf.ID] = buf
	r.order = append(r.order, buf.ID)
}

// ConsumeContent scans ordinary content text for embedded XML tool calls
// (Anthropic <invoke>/<tool_use>, Qwen <tool_call>/<toolcall>) and returns
// the subset of text that is safe to display: the XML portion is
// suppressed from the return value and routed into its own buffer instead,
// so tool-call markup never reaches the user as visible text.
func (r *Reassembler) ConsumeContent(text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	remaining := r.contentScratch.String() + text
	r.contentScratch.Reset()
	var visible strings.Builder

	for {
		if r.openContentID != "" {
			buf := r.buffers[r.openContentID]
			if buf == nil {
				r.openContentID = ""
				continue
			}
			// Only the closing tag paired with the opening marker ends the
			// block; inner tags (a </invoke> inside <tool_use>) don't.
			idx := strings.Index(remaining, r.openContentClose)
			if idx == -1 {
				buf.Arguments += remaining
				buf.touch(now)
				remaining = ""
				break
			}
			end := idx + len(r.openContentClose)
			buf.Arguments += remaining[:end]
			buf.touch(now)
			buf.maybeDetectDialect()
			remaining = remaining[end:]
			r.openContentID = ""
			continue
		}

		idx, marker := indexAnyOpen(remaining)
		if idx == -1 {
			// Hold back a trailing "<…" that might be an open marker split
			// across chunk boundaries; everything else is visible now.
			keep := 0
			if lt := strings.LastIndex(remaining, "<"); lt != -1 && len(remaining)-lt <= maxMarkerKeep {
				keep = len(remaining) - lt
			}
			visible.WriteString(remaining[:len(remaining)-keep])
			r.contentScratch.WriteString(remaining[len(remaining)-keep:])
			break
		}
		visible.WriteString(remaining[:idx])
		id := r.synthesizeID(now)
		buf := newBuffer(id, true, now)
		buf.fromContent = true
		r.addBuffer(buf)
		r.openContentID = id
		r.openContentClose = closeMarkerFor(marker)
		remaining = remaining[idx:]
	}

	return visible.String()
}

// FlushContent returns and clears whatever trailing text ConsumeContent has
// been holding back (it retains a short tail in case an XML open marker was
// split across chunk boundaries). The caller invokes this once at stream
// end so that trailing content right before [DONE] is never silently
// dropped.
func (r *Reassembler) FlushContent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := r.contentScratch.String()
	r.contentScratch.Reset()
	return text
}

func indexAnyOpen(s string) (int, string) {
	return indexAnyOf(s, xmlOpenMarkers)
}

func indexAnyOf(s string, markers []string) (int, string) {
	best := -1
	bestMarker := ""
	for _, m := range markers {
		if i := strings.Index(s, m); i != -1 && (best == -1 || i < best) {
			best = i
			bestMarker = m
		}
	}
	return best, bestMarker
}

// Harvest removes and returns every buffer that is complete, after first
// running the stale/malformed GC pass. Harvest is idempotent: calling it
// repeatedly with no new fragments in between returns an empty slice once
// all complete buffers have been drained.
func (r *Reassembler) Harvest() []llm.ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	r.gc(now)

	var harvested []llm.ToolCall
	var remainingOrder []string
	for _, id := range r.order {
		buf := r.buffers[id]
		if buf == nil {
			continue
		}
		if buf.Name == "" {
			// XML dialects carry the name inside the body, not through the
			// structured name field; recover it before the completeness check.
			buf.Name = extractName(buf.Arguments)
		}
		if buf.complete() {
			harvested = append(harvested, buildToolCall(buf))
			delete(r.buffers, id)
			if id == r.openContentID {
				r.openContentID = ""
			}
			continue
		}
		remainingOrder = append(remainingOrder, id)
	}
	r.order = remainingOrder
	return harvested
}

// buildToolCall materializes a final ToolCall from a complete buffer,
// synthesizing the JSON arguments payload for XML dialects from the
// extracted key/value pairs.
func buildToolCall(buf *Buffer) llm.ToolCall {
	if buf.Dialect == DialectOpenAIJSON || (buf.Dialect == DialectUnknown && isValidJSON(buf.Arguments) && isCompleteJSON(buf.Arguments)) {
		return llm.ToolCall{
			ID:        buf.ID,
			Type:      llm.ToolCallKindFunction,
			Name:      buf.Name,
			Arguments: buf.Arguments,
		}
	}
	name := buf.Name
	if name == "" {
		name = extractName(buf.Arguments)
	}
	return llm.ToolCall{
		ID:        buf.ID,
		Type:      llm.ToolCallKindFunction,
		Name:      name,
		Arguments: extractArgs(buf.Arguments),
	}
}

// gc prunes stale and malformed buffers.
// Caller holds r.mu.
func (r *Reassembler) gc(now time.Time) {
	var kept []string
	for _, id := range r.order {
		buf := r.buffers[id]
		if buf == nil {
			continue
		}

		if now.Sub(buf.LastUpdated) > r.staleTimeout {
			r.logger.Debug("toolcall: pruning stale buffer", zap.String("id", id))
			delete(r.buffers, id)
			if id == r.openContentID {
				r.openContentID = ""
			}
			continue
		}
		if buf.Synthetic && buf.Name == "" && buf.Arguments == "" {
			delete(r.buffers, id)
			if id == r.openContentID {
				r.openContentID = ""
			}
			continue
		}
		if buf.Dialect == DialectUndetected && buf.Arguments == "" && now.Sub(buf.LastUpdated) > r.emptyDialectTimeout {
			r.logger.Debug("toolcall: pruning buffer with no resolvable dialect", zap.String("id", id))
			delete(r.buffers, id)
			if id == r.openContentID {
				r.openContentID = ""
			}
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// Recover runs the stream-end heuristic recovery path: for buffers that
// have a name but never satisfied any dialect's completeness predicate, it
// scans the accumulated text for whatever name and key/value pairs it can
// find and emits a recovered call under a freshly synthesized id. Buffers
// that still yield nothing useful are dropped silently (logged, never
// surfaced to the user).
func (r *Reassembler) Recover() []llm.ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recovered []llm.ToolCall
	var remainingOrder []string
	for _, id := range r.order {
		buf := r.buffers[id]
		if buf == nil {
			continue
		}
		if buf.complete() {
			// Let a subsequent Harvest call drain this one normally.
			remainingOrder = append(remainingOrder, id)
			continue
		}
		name := buf.Name
		if name == "" {
			name = extractName(buf.Arguments)
		}
		if name == "" {
			r.logger.Debug("toolcall: discarding unrecoverable buffer at stream end", zap.String("id", id))
			delete(r.buffers, id)
			continue
		}
		recovered = append(recovered, llm.ToolCall{
			ID:        "temp_" + uuid.New().String(),
			Type:      llm.ToolCallKindFunction,
			Name:      name,
			Arguments: extractArgs(buf.Arguments),
		})
		delete(r.buffers, id)
	}
	r.order = remainingOrder
	return recovered
}

// Finalize drains the buffer table at stream end: it harvests any residual
// complete calls, recovers what it can from the rest, and unconditionally
// discards whatever remains, guaranteeing the table is empty once a
// request finishes regardless of how it finished.
func (r *Reassembler) Finalize() []llm.ToolCall {
	calls := r.Harvest()
	calls = append(calls, r.Recover()...)

	r.mu.Lock()
	if len(r.buffers) > 0 {
		r.logger.Debug("toolcall: discarding unrecoverable fragments at stream end", zap.Int("count", len(r.buffers)))
	}
	r.buffers = make(map[string]*Buffer)
	r.order = nil
	r.openContentID = ""
	r.openContentClose = ""
	r.contentScratch.Reset()
	r.mu.Unlock()

	return calls
}

// ExtractFragments implements sse.FallbackExtractor: recovering whatever
// tool-call signal it can from an SSE data line that failed to parse as
// the OpenAI streaming shape at all. It tries JSON first,
// then the XML heuristics, and returns nil if nothing was extracted.
func (r *Reassembler) ExtractFragments(rawLine string) []llm.ToolCallFragment {
	if frag, ok := tryBareJSONFragment(rawLine); ok {
		return []llm.ToolCallFragment{frag}
	}
	name := extractName(rawLine)
	if name == "" {
		return nil
	}
	return []llm.ToolCallFragment{{Name: name, Arguments: extractArgs(rawLine)}}
}
