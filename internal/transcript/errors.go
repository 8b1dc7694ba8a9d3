package transcript

import "strings"

// ValidationError reports a mutation that would break a transcript invariant,
// or a decoded transcript that already breaks one.
type ValidationError struct {
	Reasons []string
}

func (e ValidationError) Error() string {
	return "transcript: invalid: " + strings.Join(e.Reasons, "; ")
}

func invalid(reason string) ValidationError {
	return ValidationError{Reasons: []string{reason}}
}

// NotFoundError reports an operation on a message id that is absent from a view.
type NotFoundError struct {
	ID   string
	View string
}

func (e NotFoundError) Error() string {
	if e.View == "" {
		return "transcript: message not found: " + e.ID
	}
	return "transcript: message " + e.ID + " not found in " + e.View + " view"
}
