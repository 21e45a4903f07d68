package replan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON unmarshals model output into T after stripping code fences. When
// the reply wraps the object in prose, the outermost {...} span is tried.
func decodeJSON[T any](raw string) (*T, error) {
	clean := sanitizeJSON(raw)
	var out T
	err := json.Unmarshal([]byte(clean), &out)
	if err == nil {
		return &out, nil
	}
	if start, end := strings.Index(clean, "{"), strings.LastIndex(clean, "}"); start >= 0 && end > start {
		var inner T
		if json.Unmarshal([]byte(clean[start:end+1]), &inner) == nil {
			return &inner, nil
		}
	}
	return nil, fmt.Errorf("decode JSON: %w", err)
}

func sanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}
