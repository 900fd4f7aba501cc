package action

import "fmt"

// RiskLevel classifies how dangerous an action is. Comparisons must always go
// through Severity: the string values sort the wrong way alphabetically
// ("high" < "low"), so a direct comparison silently inverts the ceiling check.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskSeverity = map[RiskLevel]int{
	RiskLow:    0,
	RiskMedium: 1,
	RiskHigh:   2,
}

// Severity returns the integer rank of the risk level (low=0, medium=1, high=2).
func (r RiskLevel) Severity() int {
	return riskSeverity[r]
}

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	_, ok := riskSeverity[r]
	return ok
}

// Exceeds reports whether r is strictly more severe than other.
func (r RiskLevel) Exceeds(other RiskLevel) bool {
	return r.Severity() > other.Severity()
}

// ParseRiskLevel parses a risk level string, rejecting unknown values.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}
