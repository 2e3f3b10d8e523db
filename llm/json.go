package llm

import (
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model response. Fenced ```json
// blocks are preferred; otherwise the text between the first '{' and the last
// '}' is taken.
func ExtractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
		return strings.TrimSpace(rest), nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return text[start : end+1], nil
}
