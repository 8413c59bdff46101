package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEvidenceRequired blocks advancing past a step that still needs a
	// capture or an explicit skip.
	ErrEvidenceRequired = errors.New("evidence required before advancing")

	// ErrSkipNotAllowed rejects skipping a step whose evidence is mandatory.
	ErrSkipNotAllowed = errors.New("step requires evidence and cannot be skipped")

	// ErrNotAtFinalStep rejects completion attempts before the last step.
	ErrNotAtFinalStep = errors.New("completion is only available at the final step")

	// ErrCompletionInFlight rejects any operation while the terminal
	// completion call is still pending, preventing a double submit.
	ErrCompletionInFlight = errors.New("completion already in flight")

	// ErrTaskFinalized rejects mutations of an already completed execution.
	ErrTaskFinalized = errors.New("task is already finalized")
)

// MissingEvidenceError rejects completion while required steps lack evidence.
//
// Titles lists the affected step titles verbatim so the operator knows exactly
// what is left, including steps a conditional branch jumped past.
type MissingEvidenceError struct {
	Titles []string
}

func (e *MissingEvidenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("evidence missing for required steps: %s", strings.Join(e.Titles, ", "))
}

// SignaturesMissingError rejects completion while dual sign-off roles have not
// all signed.
type SignaturesMissingError struct {
	Roles []string
}

func (e *SignaturesMissingError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("sign-off still required from: %s", strings.Join(e.Roles, ", "))
}

// CompletionError wraps a failure of the external completion callback.
//
// Execution state is preserved unchanged behind it so the operator can retry
// without re-entering evidence.
type CompletionError struct {
	TaskID string
	Cause  error
}

func (e *CompletionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("completing task %s: %v", e.TaskID, e.Cause)
}

func (e *CompletionError) Unwrap() error { return e.Cause }
