package orchestrator

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every *ValidationError
var ErrValidation = errors.New("validation failed")

// ErrShuttingDown is returned by Start once Shutdown has begun
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// ValidationError rejects a submission before any job record exists
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// stageError aborts the pipeline. Its message is stored verbatim as the job error.
type stageError struct {
	stage string
	msg   string
}

func (e *stageError) Error() string {
	return e.msg
}

// errJobGone means the record was removed mid-pipeline (cleanup)
var errJobGone = errors.New("job record removed")
