package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// fenceRegex matches a fenced code block, optionally tagged json.
var fenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON recovers a JSON document from a model response. Models
// wrap JSON in prose, code fences or trailing commentary, and long
// responses arrive truncated mid-document when the token limit cuts
// them off; extraction runs through escalating tiers and returns the
// first valid document:
//
//  1. the whole response parses as JSON
//  2. the content of a fenced code block parses
//  3. the first balanced object or array parses
//  4. a truncated document completed by closing its open string and
//     brackets parses
//  5. any balanced object found scanning the response parses
//
// Completion runs before the scan so a cut-off document is repaired as
// a whole instead of yielding its first complete inner object. The
// returned bytes are valid JSON ready for unmarshalling.
func ExtractJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, conerrors.Malformed("chat", fmt.Errorf("empty response"))
	}

	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	for _, m := range fenceRegex.FindAllStringSubmatch(trimmed, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	if candidate := firstBalanced(trimmed); candidate != "" && json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	if candidate := completeTruncated(trimmed); candidate != "" && json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	for _, candidate := range scanObjects(trimmed) {
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, conerrors.Malformed("chat", fmt.Errorf("no valid JSON found in response"))
}

// ExtractJSONInto extracts and unmarshals in one step.
func ExtractJSONInto(raw string, v any) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return conerrors.Malformed("chat", fmt.Errorf("JSON did not match expected shape: %w", err))
	}
	return nil
}

// firstBalanced returns the first balanced {...} or [...] region,
// honoring strings and escapes.
func firstBalanced(s string) string {
	start := -1
	for i, r := range s {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	return balancedFrom(s, start)
}

// balancedFrom walks from an opening bracket at start to its matching
// close. Returns "" when the input ends unbalanced.
func balancedFrom(s string, start int) string {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// scanObjects yields balanced objects starting at each '{' in order.
func scanObjects(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if candidate := balancedFrom(s, i); candidate != "" {
			out = append(out, candidate)
			i += len(candidate) - 1
		}
	}
	return out
}

// completeTruncated repairs a document the model stopped emitting mid
// stream. It walks from the first opening bracket recording the open
// bracket stack, closes an unterminated string, drops a dangling key or
// trailing comma, then appends the missing closers. Returns "" when
// there is nothing to complete.
func completeTruncated(s string) string {
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, ch)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return ""
	}

	doc := s[start:]
	if inString {
		// A string cut off after a backslash cannot be closed cleanly.
		if strings.HasSuffix(doc, "\\") {
			doc = strings.TrimSuffix(doc, "\\")
		}
		doc += `"`
	}
	doc = strings.TrimRight(doc, " \t\r\n")
	doc = strings.TrimSuffix(doc, ",")
	if strings.HasSuffix(strings.TrimRight(doc, " \t\r\n"), ":") {
		doc = dropDanglingKey(doc)
	}

	var closers []byte
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closers = append(closers, '}')
		} else {
			closers = append(closers, ']')
		}
	}
	return doc + string(closers)
}

// dropDanglingKey removes a trailing `"key":` left when truncation hit
// before the value, including the comma that introduced it.
func dropDanglingKey(doc string) string {
	trimmed := strings.TrimRight(doc, " \t\r\n")
	trimmed = strings.TrimSuffix(trimmed, ":")
	trimmed = strings.TrimRight(trimmed, " \t\r\n")
	if !strings.HasSuffix(trimmed, `"`) {
		return doc
	}

	// Scan back over the key string, honoring escaped quotes.
	i := len(trimmed) - 2
	for i >= 0 {
		if trimmed[i] == '"' && (i == 0 || trimmed[i-1] != '\\') {
			break
		}
		i--
	}
	if i < 0 {
		return doc
	}
	out := strings.TrimRight(trimmed[:i], " \t\r\n")
	return strings.TrimSuffix(out, ",")
}
