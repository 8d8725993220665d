package toolcall

import "strings"

// Dialect names a provider's convention for encoding tool calls on the
// wire. Detection happens once per buffer, on the first substantive
// fragment, and is cached — see Buffer.Dialect.
type Dialect string

const (
	// DialectUndetected means no fragment carrying enough signal to guess
	// a dialect has arrived yet. Not a provider dialect; the zero value.
	DialectUndetected Dialect = ""

	DialectOpenAIJSON   Dialect = "openai_json"
	DialectAnthropicXML Dialect = "anthropic_xml"
	// DialectQwenXML covers all three mutually incompatible Qwen/GLM XML
	// shapes (<function=name>, <arg_key>/<arg_value>, <argkey>/<argvalue>);
	// they share one completeness predicate and are disambiguated only at
	// harvest time, when the concrete shape determines which extraction
	// regex succeeds.
	DialectQwenXML Dialect = "qwen_xml"
	// DialectUnknown is a detected dialect in its own right: neither JSON
	// nor a recognized XML opener matched, so both parse paths are tried
	// at harvest time.
	DialectUnknown Dialect = "unknown"
)

// anthropicMarkers and qwenMarkers are the priority-ordered string probes
// used to detect a dialect from accumulated buffer text.
var anthropicMarkers = []string{"<invoke ", "<invoke>", "<tool_use>"}
var qwenMarkers = []string{"<function=", "<arg_key>", "<argkey>"}

// detectDialect runs the priority-ordered probes against the accumulated
// name+arguments text of a buffer. It never returns DialectUndetected: once
// called there is always enough text to at least fall back to Unknown.
func detectDialect(nameAndArgs string) Dialect {
	trimmed := strings.TrimSpace(nameAndArgs)
	if strings.HasPrefix(trimmed, "{") {
		return DialectOpenAIJSON
	}
	for _, m := range anthropicMarkers {
		if strings.Contains(nameAndArgs, m) {
			return DialectAnthropicXML
		}
	}
	for _, m := range qwenMarkers {
		if strings.Contains(nameAndArgs, m) {
			return DialectQwenXML
		}
	}
	return DialectUnknown
}

// xmlOpenMarkers is used by Reassembler.ConsumeContent to recognize the
// start of an XML-embedded tool call inside ordinary content text.
var xmlOpenMarkers = []string{"<tool_call>", "<toolcall>", "<invoke ", "<invoke>", "<tool_use>"}

// xmlCloseMarkers are the outer closing tags that make an XML tool call
// body complete.
var xmlCloseMarkers = []string{"</tool_call>", "</toolcall>", "</invoke>", "</tool_use>"}

// closeMarkerFor pairs an open marker with the closing tag that ends its
// block. An <invoke> found bare (outside a <tool_use> wrapper) closes at
// </invoke>; a <tool_use> block runs to </tool_use> even when it wraps an
// inner </invoke>.
func closeMarkerFor(open string) string {
	switch open {
	case "<tool_call>":
		return "</tool_call>"
	case "<toolcall>":
		return "</toolcall>"
	case "<invoke ", "<invoke>":
		return "</invoke>"
	case "<tool_use>":
		return "</tool_use>"
	default:
		return "</tool_call>"
	}
}
