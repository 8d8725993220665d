package llm

// ToolCallFragment is one partial tool-call delta as it arrives inside a
// streaming choice. Any of ID, Name, or Arguments may be absent on a given
// fragment. Index carries the provider's tool-call index as it appeared on
// the wire; the reassembler (package toolcall) keys buffers by ID and does
// not use it.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Delta is a per-choice incremental update. Any combination of Role,
// Content, Thinking, and ToolCalls may be populated on a given Delta; zero
// values mean "nothing new of this kind in this fragment", not "empty
// content".
type Delta struct {
	Role      Role
	Content   string
	Thinking  string
	ToolCalls []ToolCallFragment
}

// StreamChoice is one element of a StreamChunk's choices array.
type StreamChoice struct {
	Index        int
	Delta        Delta
	FinishReason string
}

// ThinkingDialect names which of the known thinking/reasoning encodings a
// chunk's thinking content arrived in, so consumers never need to guess
// whether a payload is parseable prose or an opaque, encrypted blob.
type ThinkingDialect string

const (
	ThinkingNone               ThinkingDialect = ""
	ThinkingField              ThinkingDialect = "thinking"
	ThinkingReasoningContent   ThinkingDialect = "reasoning_content"
	ThinkingEncryptedThinking  ThinkingDialect = "encrypted_thinking"
	ThinkingEncryptedReasoning ThinkingDialect = "encrypted_reasoning"
	ThinkingRedacted           ThinkingDialect = "redacted_thinking"
	ThinkingEmbeddedTag        ThinkingDialect = "embedded_tag" // <thinking>...</thinking> inside content
)

// IsEncrypted reports whether this dialect carries an opaque payload that
// must be passed through verbatim and never parsed.
func (d ThinkingDialect) IsEncrypted() bool {
	switch d {
	case ThinkingEncryptedThinking, ThinkingEncryptedReasoning, ThinkingRedacted:
		return true
	default:
		return false
	}
}

// StreamChunk is one parsed SSE event (or, for non-OpenAI-shaped bodies, a
// synthetic event built from whatever the dialect fallback recovered).
type StreamChunk struct {
	Choices         []StreamChoice
	Usage           *TokenUsage
	ThinkingDialect ThinkingDialect
	Done            bool // terminal [DONE] marker or synthesized end-of-stream
}

// ContentText returns the content delta of the first choice; any further
// choices are ignored. In practice there is always either zero or one choice
// for the providers this core talks to.
func (c StreamChunk) ContentText() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}
