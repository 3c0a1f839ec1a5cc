package protocol

import (
	"errors"
	"fmt"
)

// RetryableError marks a transient step failure. Any error that is not a
// PermanentError or DefinitionError is retried as well.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// DefinitionError reports a broken step definition, such as an unknown step
// type or a missing required config key. It is never retried.
type DefinitionError struct {
	StepKey string
	Err     error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("step %q: %v", e.StepKey, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// Retryable wraps err as a transient failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err}
}

// Permanent wraps err as a failure that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

// Permanentf formats a permanent failure.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}

	var definition *DefinitionError

	return errors.As(err, &definition)
}
