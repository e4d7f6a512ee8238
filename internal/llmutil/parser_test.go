// internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// -- Test Cases --

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		found bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"markdown fence", "```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`, true},
		{"surrounding prose", `Sure! Here you go: {"a":1} hope that helps {"b":2}`, `{"a":1}`, true},
		{"braces inside strings", `{"text":"use } and { freely","n":1}`, `{"text":"use } and { freely","n":1}`, true},
		{"escaped quotes", `{"q":"say \"}\" now"}`, `{"q":"say \"}\" now"}`, true},
		{
			"balanced prose braces before the answer",
			`I will use {braces} to explain. {"action":{"type":"wait"}}`,
			`{"action":{"type":"wait"}}`, true,
		},
		{
			"unbalanced prose brace before the answer",
			`Step {1 of the plan: {"action":{"type":"scroll","direction":"down"}}`,
			`{"action":{"type":"scroll","direction":"down"}}`, true,
		},
		{"unclosed outer object yields the inner one", `{"a": {"b": 1}`, `{"b": 1}`, true},
		{"only invalid candidates", `{not json} and {also not}`, "", false},
		{"no object", "I cannot help with that.", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.input)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
