package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kestrelai/core/internal/models"
)

// Fallback tool-call parsing is a safety net for providers that emit
// tool invocations as plain text instead of using native
// tool-calling. It must stay strictly
// separate from the native path: when a provider's native tool calls are
// present, ParseFallbackCalls is never consulted and any parsed text
// envelope is discarded.

var (
	xmlToolCallPattern = regexp.MustCompile(
		`(?is)<(?:tool_call|function_call)>\s*(.*?)\s*</(?:tool_call|function_call)>`,
	)
	xmlSelfClosingPattern = regexp.MustCompile(
		`(?is)<(?:tool_call|function_call)\s+name="([^"]+)"\s*(?:params|parameters|arguments)='([^']*)'\s*/>`,
	)
	xmlNamePattern = regexp.MustCompile(`(?is)"?name"?\s*[:=]\s*"([^"]+)"`)
)

// xmlToolCallBody is the JSON envelope expected inside a <tool_call> or
// <function_call> block.
type xmlToolCallBody struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
	Params     json.RawMessage `json:"params"`
	Arguments  json.RawMessage `json:"arguments"`
}

func (b xmlToolCallBody) paramsOrArgs() json.RawMessage {
	switch {
	case len(b.Parameters) > 0:
		return b.Parameters
	case len(b.Params) > 0:
		return b.Params
	case len(b.Arguments) > 0:
		return b.Arguments
	default:
		return json.RawMessage("{}")
	}
}

// ParseFallbackCalls extracts embedded tool-call envelopes from
// assistant text. It recognizes, in order of precedence:
//  1. <tool_call>...</tool_call> or <function_call>...</function_call>
//     wrapping a JSON object with name + parameters|params|arguments.
//  2. The self-closing form <tool_call name="..." params='...' />.
//  3. A bare JSON object (no XML envelope) with name + parameters|params|
//     arguments, when it is the entire trimmed text.
//
// Each call is assigned an Index in encounter order so results can later
// be restored to that order by the executor.
func ParseFallbackCalls(text string) []models.ToolCall {
	var calls []models.ToolCall

	for _, m := range xmlToolCallPattern.FindAllStringSubmatch(text, -1) {
		if call, ok := parseToolCallJSON(m[1]); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) > 0 {
		return indexCalls(calls)
	}

	for _, m := range xmlSelfClosingPattern.FindAllStringSubmatch(text, -1) {
		name, rawParams := m[1], m[2]
		calls = append(calls, models.ToolCall{
			Name:   name,
			Params: json.RawMessage(rawParams),
		})
	}
	if len(calls) > 0 {
		return indexCalls(calls)
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if call, ok := parseToolCallJSON(trimmed); ok {
			calls = append(calls, call)
		}
	}

	return indexCalls(calls)
}

func parseToolCallJSON(s string) (models.ToolCall, bool) {
	var body xmlToolCallBody
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		return models.ToolCall{}, false
	}
	if body.Name == "" {
		return models.ToolCall{}, false
	}
	return models.ToolCall{
		Name:   body.Name,
		Params: body.paramsOrArgs(),
	}, true
}

func indexCalls(calls []models.ToolCall) []models.ToolCall {
	for i := range calls {
		calls[i].Index = i
	}
	return calls
}

// StripToolCallEnvelopes removes any recognized tool-call envelope from
// assistant text, leaving only the user-facing remainder, mirroring the
// garbled tool-call XML sometimes seen from models that leak
// tool-call syntax into their visible output.
func StripToolCallEnvelopes(text string) string {
	cleaned := xmlToolCallPattern.ReplaceAllString(text, "")
	cleaned = xmlSelfClosingPattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
