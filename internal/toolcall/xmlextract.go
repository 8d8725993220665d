package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/simonyos/zcode-core/internal/llm"
)

// Extraction regexes for the XML tool-call encodings backends actually
// emit: Anthropic's <invoke name=..>/<parameter name=..>, the
// <function=name>/<parameter=key> shape, and both spellings of the
// <arg_key>/<arg_value> family.
var (
	invokeNameRe   = regexp.MustCompile(`<invoke\s+name="([^"]*)"`)
	functionNameRe = regexp.MustCompile(`<function=([^>]*)>`)
	genericNameRe  = regexp.MustCompile(`name="([^"]*)"`)

	invokeParamRe    = regexp.MustCompile(`(?s)<parameter\s+name="([^"]*)">(.*?)</parameter>`)
	functionParamRe  = regexp.MustCompile(`(?s)<parameter=([^>]*)>(.*?)</parameter>`)
	argKeyValueRe    = regexp.MustCompile(`(?s)<arg_key>(.*?)</arg_key>\s*<arg_value>(.*?)</arg_value>`)
	argKeyValueAltRe = regexp.MustCompile(`(?s)<argkey>(.*?)</argkey>\s*<argvalue>(.*?)</argvalue>`)

	toolCallBareNameRe = regexp.MustCompile(`(?s)<(?:tool_call|toolcall)>\s*([^<\s][^<]*?)\s*(?:<arg_key>|<argkey>|</)`)
)

// extractName finds a tool-call name anywhere in body using the
// priority-ordered probes for the XML tool-call encodings: <function=NAME>
// or name="NAME", falling back to the bare-name convention the <arg_key>
// family uses (name is the plain text right after the opening tag).
func extractName(body string) string {
	if m := functionNameRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := invokeNameRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := genericNameRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := toolCallBareNameRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// extractArgs collects key/value pairs from body using whichever of the
// <parameter name="k">, <parameter=k>, <arg_key>/<arg_value>, or
// <argkey>/<argvalue> shapes actually appear, and returns them encoded as a
// flat JSON object string (the Harvest contract for XML dialects).
func extractArgs(body string) string {
	pairs := map[string]string{}

	for _, m := range invokeParamRe.FindAllStringSubmatch(body, -1) {
		pairs[strings.TrimSpace(m[1])] = m[2]
	}
	for _, m := range functionParamRe.FindAllStringSubmatch(body, -1) {
		pairs[strings.TrimSpace(m[1])] = m[2]
	}
	for _, m := range argKeyValueRe.FindAllStringSubmatch(body, -1) {
		pairs[strings.TrimSpace(m[1])] = m[2]
	}
	for _, m := range argKeyValueAltRe.FindAllStringSubmatch(body, -1) {
		pairs[strings.TrimSpace(m[1])] = m[2]
	}

	return argsToJSON(pairs)
}

func argsToJSON(pairs map[string]string) string {
	if len(pairs) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// tryBareJSONFragment handles the rare backend that, on the non-OpenAI
// recovery path, sends a bare `{"name": ..., "arguments": ...}` object with
// none of the choices/delta wrapping at all.
func tryBareJSONFragment(rawLine string) (llm.ToolCallFragment, bool) {
	var bare struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(rawLine), &bare); err != nil || bare.Name == "" {
		return llm.ToolCallFragment{}, false
	}
	args := "{}"
	if bare.Arguments != nil {
		if raw, err := json.Marshal(bare.Arguments); err == nil {
			args = string(raw)
		}
	}
	return llm.ToolCallFragment{Name: bare.Name, Arguments: args}, true
}
