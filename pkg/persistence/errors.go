package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrStepRunNotFound indicates a step run was not found by the given identifier.
	ErrStepRunNotFound = errors.New("workflow step run not found")

	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrConcurrentUpdate indicates the stored run version moved on since it was read.
	ErrConcurrentUpdate = errors.New("concurrent update")

	// ErrRunAlreadyExists indicates a run with the same identifier already exists.
	ErrRunAlreadyExists = errors.New("workflow run already exists")

	// ErrInvalidListOptions indicates invalid paging or filter options.
	ErrInvalidListOptions = errors.New("invalid list options")
)

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string // Operation being performed (e.g., "GetByID", "Update")
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{
		Op:    op,
		RunID: runID,
		Err:   err,
	}
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsConcurrentUpdate checks if an error indicates an optimistic concurrency conflict.
func IsConcurrentUpdate(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}
