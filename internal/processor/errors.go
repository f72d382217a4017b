package processor

import (
	"errors"
	"fmt"
)

// Stage names the pipeline phase an error occurred in.
type Stage string

const (
	StageValidation     Stage = "validation"
	StageFlowLoading    Stage = "flow_loading"
	StageSaveDiscussion Stage = "save_discussion"
	StageUpdateStatus   Stage = "update_status"
	StageUpdateMetadata Stage = "update_metadata"
	StageUpdateResults  Stage = "update_results"
	StageUnknown        Stage = "unknown"
)

// ProcessingError is the single error type the pipeline surfaces. Retryable
// is false for bad input and missing configuration, where retrying without
// operator action cannot succeed; anything unanticipated defaults to
// retryable.
type ProcessingError struct {
	Message   string
	Stage     Stage
	Retryable bool
	Context   map[string]any
	cause     error
}

func (e *ProcessingError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.cause
}

// newError builds a ProcessingError without a cause.
func newError(stage Stage, retryable bool, message string) *ProcessingError {
	return &ProcessingError{Message: message, Stage: stage, Retryable: retryable}
}

// wrapError attaches a stage to an underlying failure. An error that is
// already a ProcessingError passes through unchanged so the original stage
// survives rethrows.
func wrapError(stage Stage, retryable bool, message string, cause error) *ProcessingError {
	var pe *ProcessingError
	if errors.As(cause, &pe) {
		return pe
	}
	return &ProcessingError{Message: message, Stage: stage, Retryable: retryable, cause: cause}
}

// WithContext attaches diagnostic key/values and returns the error.
func (e *ProcessingError) WithContext(key string, value any) *ProcessingError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether err should be retried. Unrecognized errors
// default to retryable.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
