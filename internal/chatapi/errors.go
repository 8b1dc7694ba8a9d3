package chatapi

import (
	"fmt"
	"strings"
)

// RemoteError is a non-2xx response from the backend.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code to retry classification.
func (e *RemoteError) HTTPStatus() int {
	return e.StatusCode
}

// ExtractionError means a response parsed but none of the expected id
// fields were present.
type ExtractionError struct {
	Op     string
	Fields []string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: response has none of the fields %s", e.Op, strings.Join(e.Fields, ", "))
}
