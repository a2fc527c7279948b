package logs

import (
	"encoding/json"
	"strings"

	"celigo/internal/logging"
)

// Filter selects log lines by their structured fields. Zero fields match
// everything; lines that are not JSON only match an empty filter.
type Filter struct {
	WorkUnit      string
	CorrelationID string
	Stage         string
	// MinLevel is debug, info, warn, or error.
	MinLevel string
}

func (f Filter) empty() bool {
	return f.WorkUnit == "" && f.CorrelationID == "" && f.Stage == "" && f.MinLevel == ""
}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return false
	}
	if !fieldEquals(fields, logging.FieldWorkUnit, f.WorkUnit) ||
		!fieldEquals(fields, logging.FieldCorrelationID, f.CorrelationID) ||
		!fieldEquals(fields, logging.FieldStage, f.Stage) {
		return false
	}
	if f.MinLevel != "" {
		level, _ := fields["level"].(string)
		return levelRank(level) >= levelRank(f.MinLevel)
	}
	return true
}

func fieldEquals(fields map[string]any, key, want string) bool {
	if want == "" {
		return true
	}
	got, _ := fields[key].(string)
	return got == want
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "info", "":
		return 1
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}
