package domain

import "fmt"

// ErrorCategory labels a remote-operation failure with an actionable bucket.
type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "network"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryPermission ErrorCategory = "permission"
	CategoryValidation ErrorCategory = "validation"
	CategoryServer     ErrorCategory = "server"
	CategoryClient     ErrorCategory = "client"
	CategoryUnknown    ErrorCategory = "unknown"
)

// Severity indicates how loudly a failure should be surfaced.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ClassifiedError is the immutable result of classifying an arbitrary failure
// value. It carries enough structure for a caller to pick a message and decide
// whether to offer a retry, without the classifier ever rendering text itself.
type ClassifiedError struct {
	Category  ErrorCategory
	Severity  Severity
	Retryable bool
	Message   string
	Cause     error
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	return string(e.Category)
}

// Unwrap exposes the raw cause for errors.Is / errors.As chains.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}
