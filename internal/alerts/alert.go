package alerts

import (
	"strings"
	"time"
)

// Severity is the ordered alert urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering value for a severity; unknown severities rank
// below info.
func (s Severity) Rank() int {
	switch Severity(strings.TrimSpace(strings.ToLower(string(s)))) {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as urgent as target.
func (s Severity) AtLeast(target Severity) bool {
	return s.Rank() >= target.Rank()
}

// Valid returns true when the severity is known.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Alert is one named operational condition. Evaluating the same underlying
// condition at different times yields alerts with the same Name, which is
// what lets the dispatcher recognize repeats.
type Alert struct {
	Name     string         `json:"name"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	RaisedAt time.Time      `json:"raised_at"`
	Context  map[string]any `json:"context,omitempty"`
}
