package compliance

import "time"

// Severity orders violations for routing and display.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid returns true when severity is a known level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank maps severity to a sortable weight, CRITICAL highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// WindowRange locates the window a violation was derived from. Nil on
// per-reading violations.
type WindowRange struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Violation is one rule firing. Delivery is at least once: overlapping
// sliding windows may each report the same underlying condition, and
// consumers deduplicate on (plant_id, rule, window, timestamp) if they
// need exactly-once semantics.
type Violation struct {
	PlantID       string       `json:"plant_id"`
	Rule          string       `json:"rule"`
	Severity      Severity     `json:"severity"`
	ObservedValue float64      `json:"observed_value"`
	Threshold     float64      `json:"threshold"`
	Window        *WindowRange `json:"window,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	Message       string       `json:"message"`
}
