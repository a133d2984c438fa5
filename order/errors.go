package order

import "fmt"

// ValidationError rejects a malformed or rule-violating order synchronously,
// with no side effect on engine state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid order: " + e.Reason
}

// Invalidf builds a ValidationError with a formatted reason.
func Invalidf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
