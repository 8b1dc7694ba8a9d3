package completion

import (
	"fmt"

	"github.com/chatsync/internal/transcript"
)

// TimeoutError means the poll budget ran out before the assistant message
// had content. Transcript is the last state observed, reconciled when
// possible.
type TimeoutError struct {
	Attempts   int
	LastErr    error
	Transcript *transcript.Transcript
}

func (e *TimeoutError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("no assistant content after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("no assistant content after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}
