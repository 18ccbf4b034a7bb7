package utils

import (
	"encoding/json"
	"sort"
	"strings"
)

// FixJSON repairs the common ways LLMs mangle JSON output: markdown code
// fences, leading prose before the first bracket, and unbalanced trailing
// brackets from truncated completions.
func FixJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Cut leading prose before the first bracket.
	objIdx := strings.IndexAny(s, "{[")
	if objIdx > 0 {
		s = s[objIdx:]
	}
	if s == "" {
		return s
	}

	// Balance brackets, tracking string and escape state.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, ", \n\t")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

// NormalizeToList coerces an arbitrary decoded JSON value into a list.
// Strings are parsed (with repair) and normalized recursively. For objects,
// a "chapters" key wins, then a sole list-valued key, then the first
// list-valued key in sorted key order; an object with no list values is
// wrapped as a single-element list, as is any scalar.
func NormalizeToList(value interface{}) []interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	case string:
		var decoded interface{}
		if err := json.Unmarshal([]byte(FixJSON(v)), &decoded); err != nil {
			return []interface{}{v}
		}
		if _, isString := decoded.(string); isString {
			return []interface{}{decoded}
		}
		return NormalizeToList(decoded)
	case map[string]interface{}:
		if chapters, ok := v["chapters"].([]interface{}); ok {
			return chapters
		}
		var listKeys []string
		for k, val := range v {
			if _, isList := val.([]interface{}); isList {
				listKeys = append(listKeys, k)
			}
		}
		if len(listKeys) > 0 {
			sort.Strings(listKeys)
			return v[listKeys[0]].([]interface{})
		}
		return []interface{}{v}
	default:
		return []interface{}{v}
	}
}
