package normalize

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the first balanced top-level JSON array or object found in raw
// that parses as JSON. Code fences are tried before the surrounding text.
// Returns ErrResponseUnparsable when raw contains no parseable JSON value.
func ExtractJSON(raw string) (json.RawMessage, error) {
	values := candidates(raw)
	if len(values) == 0 {
		return nil, ErrResponseUnparsable
	}
	return values[0], nil
}

// ExtractObject is ExtractJSON restricted to objects. Arrays and footnotes such as
// "[1]" ahead of the object are skipped.
func ExtractObject(raw string) (json.RawMessage, error) {
	for _, v := range candidates(raw) {
		if v[0] == '{' {
			return v, nil
		}
	}
	return nil, ErrResponseUnparsable
}

// candidates returns every distinct top-level JSON value in raw in the order they are
// tried: the contents of code fences first, then the whole text.
func candidates(raw string) []json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	var out []json.RawMessage
	seen := make(map[string]bool)
	add := func(values []json.RawMessage) {
		for _, v := range values {
			if !seen[string(v)] {
				seen[string(v)] = true
				out = append(out, v)
			}
		}
	}
	for _, block := range fencedBlocks(trimmed) {
		add(jsonValues(block))
	}
	add(jsonValues(trimmed))
	return out
}

// fencedBlocks returns the contents of every ``` fenced block in s, with any language
// label on the opening line removed. An unterminated final fence runs to the end of s.
func fencedBlocks(s string) []string {
	var blocks []string
	rest := s
	for {
		start := strings.Index(rest, "```")
		if start == -1 {
			return blocks
		}
		body := rest[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl != -1 && isFenceLabel(body[:nl]) {
			body = body[nl+1:]
		}
		end := strings.Index(body, "```")
		if end == -1 {
			return append(blocks, strings.TrimSpace(body))
		}
		blocks = append(blocks, strings.TrimSpace(body[:end]))
		rest = body[end+3:]
	}
}

func isFenceLabel(line string) bool {
	line = strings.TrimSpace(line)
	for _, r := range line {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// jsonValues tries every '[' or '{' in input as the start of a balanced span and
// returns the spans that are valid JSON. Scanning resumes after each valid span, so
// values nested inside one are not reported separately.
func jsonValues(input string) []json.RawMessage {
	var out []json.RawMessage
	for i := 0; i < len(input); i++ {
		if input[i] != '[' && input[i] != '{' {
			continue
		}
		end, ok := balancedEnd(input, i)
		if !ok {
			continue
		}
		span := input[i : end+1]
		if json.Valid([]byte(span)) {
			out = append(out, json.RawMessage(span))
			i = end
		}
	}
	return out
}

// balancedEnd returns the index of the bracket closing the one at start, skipping
// brackets inside JSON strings.
func balancedEnd(input string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(input); i++ {
		ch := input[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[', '{':
			stack = append(stack, ch)
		case ']', '}':
			if len(stack) == 0 {
				return 0, false
			}
			open := stack[len(stack)-1]
			if (open == '[' && ch != ']') || (open == '{' && ch != '}') {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
