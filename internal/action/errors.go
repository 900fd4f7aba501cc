package action

import "fmt"

// ValidationError marks a malformed envelope, rejected before any gate or
// routing logic runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope: %s: %s", e.Field, e.Reason)
}
