// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrNoJSONObject is returned when the text contains no balanced JSON object.
var ErrNoJSONObject = errors.New("no JSON object found in model output")

// ExtractJSONObject returns the first balanced {...} span in text that is
// valid JSON. Braces inside JSON string literals are ignored, so markdown
// fences, prose before or after the object, and trailing objects are all
// tolerated. A candidate that never balances or does not decode is skipped
// and scanning resumes at the next opening brace.
func ExtractJSONObject(text string) (string, bool) {
	for offset := 0; offset < len(text); {
		i := strings.IndexByte(text[offset:], '{')
		if i < 0 {
			break
		}
		start := offset + i
		if end, ok := balancedEnd(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		offset = start + 1
	}
	return "", false
}

// balancedEnd returns the index of the brace closing the one at start.
func balancedEnd(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
