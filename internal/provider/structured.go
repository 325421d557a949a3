package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls an embedded JSON object out of free-form model text by
// slicing from the first '{' to the last '}'. Models often wrap JSON in prose,
// so this is intentionally forgiving; anything that does not parse is ignored.
func extractJSON(text string) any {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil
	}
	return parsed
}

// summarize renders a structured payload as the human-readable Response text,
// e.g. "Detected objects: [...]".
func summarize(label string, data any) string {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%s: %v", label, data)
	}
	return fmt.Sprintf("%s: %s", label, b)
}
