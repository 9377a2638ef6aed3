package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONArray means a batch response did not contain a JSON array at all.
var ErrNoJSONArray = errors.New("no JSON array in response")

func stripCodeFence(s string) string {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// ParseJSONArray decodes a batch response into its objects. Non-object elements are skipped.
func ParseJSONArray(resp string) ([]map[string]any, error) {
	cleaned := stripCodeFence(resp)
	if !strings.HasPrefix(cleaned, "[") {
		start := strings.Index(cleaned, "[")
		if start == -1 {
			return nil, ErrNoJSONArray
		}
		end := strings.LastIndex(cleaned, "]")
		if end < start {
			return nil, fmt.Errorf("unterminated JSON array")
		}
		cleaned = cleaned[start : end+1]
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	out := make([]map[string]any, 0, len(raw))
	for _, elem := range raw {
		var obj map[string]any
		if err := json.Unmarshal(elem, &obj); err != nil || obj == nil {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

// ParseJSONObject decodes a single-item response. A bare one-element array is accepted too.
func ParseJSONObject(resp string) (map[string]any, error) {
	cleaned := stripCodeFence(resp)
	if strings.HasPrefix(cleaned, "[") {
		if items, err := ParseJSONArray(cleaned); err == nil && len(items) == 1 {
			return items[0], nil
		}
	}

	if obj, ok := extractFirstJSONObject(cleaned); ok {
		cleaned = obj
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("decode item response: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("item response is null")
	}
	return data, nil
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
