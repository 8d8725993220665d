// Package orchestrator implements C3: given an incoming chat request, run
// one or more LLM round-trips, executing tool calls between them, until the
// model produces a response with no further tool calls or a limit trips.
//
// The duplicate-feedback limits, thinking minimum length, turn limit, and
// timeouts all live on one CoreConfig value injected at construction,
// rather than as package-level globals.
package orchestrator

import (
	"strings"
	"time"

	"github.com/simonyos/zcode-core/internal/llm"
)

// Defaults match what a typical deployment of this core runs with.
const (
	DefaultMaxTurns            = 30
	DefaultMaxAttemptsPerLevel = 2
	DefaultMaxTotalAttempts    = 6
	DefaultThinkingMinLength   = 50
	DefaultToolTimeout         = 300 * time.Second
	DefaultToolPollInterval    = 100 * time.Millisecond
	DefaultRequestPollInterval = 10 * time.Millisecond
	DefaultStaleBufferTimeout  = 30 * time.Second
	DefaultEmptyDialectTimeout = 5 * time.Second
)

// DefaultCompletionMarker is the out-of-the-box completion signal, present
// only so the core is usable without a caller-supplied predicate. The exact
// phrases a model uses to signal completion aren't part of the core
// contract; callers needing their own convention should set
// CoreConfig.CompletionSignal instead.
const DefaultCompletionMarker = "<task_complete>"

// CompletionSignal reports whether assistant content signals the model
// considers the task finished, regardless of any tool calls also present in
// the same turn.
type CompletionSignal func(content string) bool

// DefaultCompletionSignal checks for DefaultCompletionMarker, case
// insensitively.
func DefaultCompletionSignal(content string) bool {
	return strings.Contains(strings.ToLower(content), DefaultCompletionMarker)
}

// CoreConfig bundles every tunable the orchestrator and reassembler need.
type CoreConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	MaxTurns            int
	MaxAttemptsPerLevel int
	MaxTotalAttempts    int
	ThinkingMinLength   int
	ToolTimeout         time.Duration
	ToolPollInterval    time.Duration
	RequestPollInterval time.Duration
	StaleBufferTimeout  time.Duration
	EmptyDialectTimeout time.Duration

	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   int

	Tools            []llm.ToolDefinition
	CompletionSignal CompletionSignal
}

// WithDefaults fills any zero-valued tunable with its package default,
// leaving explicit caller choices (including an explicit CompletionSignal)
// untouched.
func (c CoreConfig) WithDefaults() CoreConfig {
	if c.MaxTurns == 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxAttemptsPerLevel == 0 {
		c.MaxAttemptsPerLevel = DefaultMaxAttemptsPerLevel
	}
	if c.MaxTotalAttempts == 0 {
		c.MaxTotalAttempts = DefaultMaxTotalAttempts
	}
	if c.ThinkingMinLength == 0 {
		c.ThinkingMinLength = DefaultThinkingMinLength
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ToolPollInterval == 0 {
		c.ToolPollInterval = DefaultToolPollInterval
	}
	if c.RequestPollInterval == 0 {
		c.RequestPollInterval = DefaultRequestPollInterval
	}
	if c.StaleBufferTimeout == 0 {
		c.StaleBufferTimeout = DefaultStaleBufferTimeout
	}
	if c.EmptyDialectTimeout == 0 {
		c.EmptyDialectTimeout = DefaultEmptyDialectTimeout
	}
	if c.CompletionSignal == nil {
		c.CompletionSignal = DefaultCompletionSignal
	}
	return c
}
