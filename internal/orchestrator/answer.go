package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)```")

// parseAnswer extracts the result from a final model answer: the first
// fenced JSON block, else the first balanced JSON object or array, else
// the trimmed text.
func parseAnswer(text string) any {
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		if v, ok := decodeJSON(m[1]); ok {
			return v
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end := matchingClose(text, i)
		if end < 0 {
			continue
		}
		if v, ok := decodeJSON(text[i : end+1]); ok {
			return v
		}
	}
	return strings.TrimSpace(text)
}

func decodeJSON(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// matchingClose returns the index of the bracket closing text[start],
// skipping string literals, or -1.
func matchingClose(text string, start int) int {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
