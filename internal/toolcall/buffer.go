package toolcall

import (
	"encoding/json"
	"strings"
	"time"
)

// Buffer is the mutable accumulator for one in-progress tool call.
type Buffer struct {
	ID          string
	Synthetic   bool // id was synthesized by this package, not provider-given
	Name        string
	Arguments   string
	Dialect     Dialect
	LastUpdated time.Time

	// fromContent marks a buffer opened by ConsumeContent (an XML tool
	// call embedded in ordinary content text) rather than by Feed (a
	// structured tool_calls delta fragment). Name is never known
	// incrementally for these; it is extracted from Arguments as text
	// accumulates and again, more aggressively, during recovery.
	fromContent bool
}

func newBuffer(id string, synthetic bool, now time.Time) *Buffer {
	return &Buffer{ID: id, Synthetic: synthetic, LastUpdated: now}
}

func (b *Buffer) touch(now time.Time) { b.LastUpdated = now }

// maybeDetectDialect runs dialect detection once there is enough text to
// probe, caching the result on the buffer.
func (b *Buffer) maybeDetectDialect() {
	if b.Dialect != DialectUndetected {
		return
	}
	combined := b.Name + b.Arguments
	if strings.TrimSpace(combined) == "" {
		return
	}
	b.Dialect = detectDialect(combined)
}

// isValidJSON reports whether s parses as JSON at all.
func isValidJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// isCompleteJSON reports whether s is a non-empty object starting with `{`,
// ending with `}`, with balanced braces outside string literals. It is kept
// deliberately independent of isValidJSON: the two can disagree on
// malformed input (valid-but-unbalanced, or balanced-but-invalid), and a
// buffer is only treated as complete when both hold.
func isCompleteJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return false
	}
	depth := 0
	inString := false
	escaped := false
	for _, r := range trimmed {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return !inString && depth == 0
}

// isValidXML reports whether s has a plausible chance of being XML: equal
// counts of '<' and '>' matching.
func isValidXML(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return strings.Count(s, "<") == strings.Count(s, ">")
}

// isCompleteXML reports whether s contains one of the recognized outer
// closing tags, or ends on a generic '>' termination as a last resort.
func isCompleteXML(s string) bool {
	for _, marker := range xmlCloseMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	trimmed := strings.TrimRight(s, " \t\r\n")
	return isValidXML(s) && strings.HasSuffix(trimmed, ">") && len(trimmed) > 1
}

// valid reports whether the buffer's accumulated arguments are even
// parseable in its detected dialect — used by the stale/malformed GC pass,
// not by Harvest (which additionally demands completeness).
func (b *Buffer) valid() bool {
	switch b.Dialect {
	case DialectOpenAIJSON:
		return isValidJSON(b.Arguments)
	case DialectAnthropicXML, DialectQwenXML:
		return isValidXML(b.Arguments)
	case DialectUnknown:
		return isValidJSON(b.Arguments) || isValidXML(b.Arguments)
	default:
		return false
	}
}

// complete reports whether the buffer is harvestable: name resolved and
// arguments complete per its dialect's predicate.
func (b *Buffer) complete() bool {
	if b.Name == "" {
		return false
	}
	switch b.Dialect {
	case DialectOpenAIJSON:
		return isValidJSON(b.Arguments) && isCompleteJSON(b.Arguments)
	case DialectAnthropicXML, DialectQwenXML:
		return isValidXML(b.Arguments) && isCompleteXML(b.Arguments)
	case DialectUnknown:
		jsonOK := isValidJSON(b.Arguments) && isCompleteJSON(b.Arguments)
		xmlOK := isValidXML(b.Arguments) && isCompleteXML(b.Arguments)
		return jsonOK || xmlOK
	default:
		return false
	}
}
