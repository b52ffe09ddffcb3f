package agentworld

import (
	"encoding/json"
	"strings"
)

// RepairJSON parses raw LLM-emitted tool arguments, applying a fixed
// fallback hierarchy when strict parsing fails:
//
//  1. strict parse
//  2. trailing-comma strip
//  3. unterminated-string close + auto-close of unbalanced braces/brackets
//  4. truncate to the last balanced region
//
// Empty input parses as an empty object. The heuristics are deliberately
// forgiving; LLM argument payloads are frequently cut off mid-string.
func RepairJSON(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return json.RawMessage(`{}`), nil
	}
	if valid(s) {
		return json.RawMessage(s), nil
	}
	if fixed := stripTrailingCommas(s); valid(fixed) {
		return json.RawMessage(fixed), nil
	}
	if fixed := closeUnterminated(stripTrailingCommas(s)); valid(fixed) {
		return json.RawMessage(fixed), nil
	}
	if fixed := truncateToBalanced(s); fixed != "" && valid(fixed) {
		return json.RawMessage(fixed), nil
	}
	return nil, &ToolError{Kind: ToolArgsInvalid, Err: errInvalidJSON}
}

var errInvalidJSON = jsonError("arguments are not valid JSON after sanitization")

type jsonError string

func (e jsonError) Error() string { return string(e) }

func valid(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// stripTrailingCommas removes commas that directly precede a closing brace
// or bracket, outside of strings.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			// Look ahead past whitespace for a closer.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closeUnterminated closes a dangling string literal, drops a trailing
// comma or colon, and appends closers for every unbalanced brace/bracket.
func closeUnterminated(s string) string {
	inString, escaped := false, false
	var stack []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
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
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		if escaped {
			s = s[:len(s)-1]
		}
		s += `"`
	}
	trimmed := strings.TrimRight(s, " \t\n\r")
	if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ":") {
		s = trimmed[:len(trimmed)-1]
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

// truncateToBalanced cuts the input back to the longest prefix that forms
// a balanced JSON object or array, string-aware. Returns "" when no
// balanced prefix exists.
func truncateToBalanced(s string) string {
	inString, escaped := false, false
	depth, last := 0, -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				last = i
			}
		}
	}
	if last < 0 {
		return ""
	}
	return s[:last+1]
}

// parseLooseObject handles object-literal-ish arguments from plain-text
// tool intents: strict JSON first, then the repair hierarchy, then a
// single-quote → double-quote rewrite.
func parseLooseObject(raw string) (json.RawMessage, error) {
	if out, err := RepairJSON(raw); err == nil {
		return out, nil
	}
	swapped := strings.ReplaceAll(raw, "'", `"`)
	return RepairJSON(swapped)
}
