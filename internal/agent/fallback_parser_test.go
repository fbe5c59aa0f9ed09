package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseFallbackCalls(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantCalls int
		wantName  string
	}{
		{
			name:      "tool_call envelope",
			text:      `Sure. <tool_call>{"name":"web_search","parameters":{"q":"weather"}}</tool_call>`,
			wantCalls: 1,
			wantName:  "web_search",
		},
		{
			name:      "function_call envelope",
			text:      `<function_call>{"name":"create_note","params":{"title":"N"}}</function_call>`,
			wantCalls: 1,
			wantName:  "create_note",
		},
		{
			name:      "self-closing form",
			text:      `<tool_call name="search_notes" params='{"q":"B"}' />`,
			wantCalls: 1,
			wantName:  "search_notes",
		},
		{
			name:      "bare JSON object",
			text:      `{"name":"get_list","arguments":{"list":"todo"}}`,
			wantCalls: 1,
			wantName:  "get_list",
		},
		{
			name:      "multiple envelopes keep order",
			text:      `<tool_call>{"name":"a","params":{}}</tool_call> then <tool_call>{"name":"b","params":{}}</tool_call>`,
			wantCalls: 2,
			wantName:  "a",
		},
		{
			name:      "plain text yields nothing",
			text:      "Just an ordinary answer.",
			wantCalls: 0,
		},
		{
			name:      "JSON without name yields nothing",
			text:      `{"params":{"q":"x"}}`,
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := ParseFallbackCalls(tt.text)
			if len(calls) != tt.wantCalls {
				t.Fatalf("got %d calls, want %d", len(calls), tt.wantCalls)
			}
			if tt.wantCalls > 0 {
				if calls[0].Name != tt.wantName {
					t.Errorf("first call name %q, want %q", calls[0].Name, tt.wantName)
				}
				for i, c := range calls {
					if c.Index != i {
						t.Errorf("call %d has index %d", i, c.Index)
					}
					var v any
					if err := json.Unmarshal(c.Params, &v); err != nil {
						t.Errorf("call %d params are not valid JSON: %v", i, err)
					}
				}
			}
		})
	}
}

func TestStripToolCallEnvelopes(t *testing.T) {
	text := `Here you go. <tool_call>{"name":"web_search","params":{}}</tool_call> Done.`
	cleaned := StripToolCallEnvelopes(text)
	if strings.Contains(cleaned, "tool_call") {
		t.Errorf("envelope not stripped: %q", cleaned)
	}
	if !strings.Contains(cleaned, "Here you go.") || !strings.Contains(cleaned, "Done.") {
		t.Errorf("user-visible text damaged: %q", cleaned)
	}
}
