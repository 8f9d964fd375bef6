package document

import (
	"errors"
	"fmt"
)

// ErrPollTimeout is returned by Poll when the document does not reach a
// terminal status within the allowed attempts
var ErrPollTimeout = errors.New("document did not reach a terminal status")

// ValidationError rejects an upload before any side effect happens
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload: %s", e.Reason)
}

// NotFoundError indicates the referenced document does not exist
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s", e.ID)
}

// InvalidStateError indicates an operation was attempted against a document
// in the wrong lifecycle stage, including a second start while a job is
// already in flight
type InvalidStateError struct {
	ID     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("document %s is in state %q", e.ID, e.Status)
}

// ExportError rejects an export request as a whole; no partial artifact is
// ever produced
type ExportError struct {
	Reason string
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed: %s", e.Reason)
}
