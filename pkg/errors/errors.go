package errors

import (
	"context"
	"errors"
	"fmt"
)

type PipelineError struct {
	Code        string
	Message     string
	Cause       error
	CollectorID string
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

const (
	ErrCodeCollectorNotFound = "COLLECTOR_NOT_FOUND"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeInvalidReport     = "INVALID_REPORT"
	ErrCodeStoreFailed       = "STORE_FAILED"
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeCancelled         = "CANCELLED"
)

func ErrCollectorNotFound(collectorID string) *PipelineError {
	return &PipelineError{
		Code:        ErrCodeCollectorNotFound,
		Message:     "collector not found",
		CollectorID: collectorID,
	}
}

func ErrInvalidConfig(msg string, cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

func ErrInvalidReport(msg string, cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeInvalidReport,
		Message: msg,
		Cause:   cause,
	}
}

func ErrStoreFailed(msg string, cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeStoreFailed,
		Message: msg,
		Cause:   cause,
	}
}

func ErrSourceUnavailable(collectorID string, cause error) *PipelineError {
	return &PipelineError{
		Code:        ErrCodeSourceUnavailable,
		Message:     "stats source unavailable",
		Cause:       cause,
		CollectorID: collectorID,
	}
}

// HasCode reports whether any PipelineError in err's chain carries code.
func HasCode(err error, code string) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
