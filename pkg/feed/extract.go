package feed

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// leadingThinkPattern matches a <think>...</think> preamble some models emit before their answer.
var leadingThinkPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

var errNoJSON = errors.New("no valid JSON found in input")

// extractJSON returns the first complete JSON object or array in s.
// Classifier exports are often saved straight from a model's reply, so the
// payload may be preceded by reasoning tags, prose or a markdown code fence.
func extractJSON(s string) (string, error) {
	cleaned := leadingThinkPattern.ReplaceAllString(s, "")

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' && cleaned[i] != '[' {
			continue
		}
		if candidate, ok := balancedFrom(cleaned, i); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", errNoJSON
}

// balancedFrom scans from s[start] (an opening bracket) to its matching close,
// tracking nesting across both bracket kinds and skipping string contents.
func balancedFrom(s string, start int) (string, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
