package llm

import (
	"errors"
	"strings"
)

var errNoJSON = errors.New("no JSON object in response")

// extractJSON pulls the JSON object out of a model reply. Small models wrap
// JSON in markdown fences or add chatter around it, so fences are stripped
// and the text between the first '{' and the last '}' is returned.
func extractJSON(resp string) (string, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}
