package util

import (
	"strings"
)

// ExtractJSON strips a surrounding markdown code fence (```json or ```) from
// an LLM response. Text without a fence is returned trimmed.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// drop the info string, e.g. "json"
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if info := strings.TrimSpace(s[:nl]); info == "" || !strings.ContainsAny(info, "{[") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
