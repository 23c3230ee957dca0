package vlm

import (
	"encoding/json"
	"strings"
)

// observationItem is one element of the observer's JSON array response.
type observationItem struct {
	Timestamp   float64      `json:"timestamp"`
	Description string       `json:"description"`
	People      []personItem `json:"people"`
}

type personItem struct {
	PersonID   string `json:"person_id"`
	Appearance string `json:"appearance"`
	Details    string `json:"details"`
}

// stripFences removes a markdown code fence wrapper (```json ... ```) if the
// model added one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// parseObservationArray parses the observer response. ok is false when the
// payload is not a JSON array; callers then degrade to raw text.
func parseObservationArray(raw string) ([]observationItem, bool) {
	cleaned := stripFences(raw)
	var items []observationItem
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, false
	}
	return items, true
}
