// Package errors provides standardized error handling for the reminder delivery pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeReminderNotFound ErrorCode = "REMINDER_NOT_FOUND"
	ErrCodeReminderInactive ErrorCode = "REMINDER_INACTIVE"

	ErrCodeNoSubscriptions ErrorCode = "NO_SUBSCRIPTIONS"
	ErrCodeEndpointGone    ErrorCode = "ENDPOINT_GONE"
	ErrCodePushSendFailed  ErrorCode = "PUSH_SEND_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"

	ErrCodeInvalidJobPayload ErrorCode = "INVALID_JOB_PAYLOAD"
	ErrCodeRunTimeout        ErrorCode = "RUN_TIMEOUT"
	ErrCodeRunLocked         ErrorCode = "RUN_LOCKED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewReminderNotFoundError creates a non-retryable lookup error.
func NewReminderNotFoundError(reminderID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeReminderNotFound,
		Message:   "Reminder not found",
		Details:   fmt.Sprintf("reminderId: %s", reminderID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewReminderInactiveError creates a non-retryable state error.
// A reminder deactivated between matching and delivery must not be sent.
func NewReminderInactiveError(reminderID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeReminderInactive,
		Message:   "Reminder is no longer active",
		Details:   fmt.Sprintf("reminderId: %s", reminderID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoSubscriptionsError creates a non-retryable recipient-level error.
func NewNoSubscriptionsError(userID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoSubscriptions,
		Message:   "No push subscriptions found for user",
		Details:   fmt.Sprintf("userId: %s", userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEndpointGoneError creates a non-retryable error marking a dead subscription.
// The caller is expected to prune the subscription when it sees this code.
func NewEndpointGoneError(endpoint string, statusCode int) *StandardError {
	return &StandardError{
		Code:      ErrCodeEndpointGone,
		Message:   "Push endpoint is gone or expired",
		Details:   fmt.Sprintf("endpoint: %s, status: %d", endpoint, statusCode),
		Retryable: false,
		Metadata:  map[string]interface{}{"statusCode": statusCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewPushSendFailedError creates a retryable push delivery error.
func NewPushSendFailedError(endpoint string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePushSendFailed,
		Message:   "Push delivery failed",
		Details:   fmt.Sprintf("endpoint: %s, error: %s", endpoint, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidJobPayloadError creates a non-retryable payload error.
// Malformed jobs go straight to the dead letter queue.
func NewInvalidJobPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidJobPayload,
		Message:   "Job payload failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunTimeoutError creates a non-retryable run budget error.
func NewRunTimeoutError(budget time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeRunTimeout,
		Message:   "Delivery run exceeded its time budget",
		Details:   fmt.Sprintf("budget: %s", budget),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunLockedError creates a non-retryable overlapping-run error.
func NewRunLockedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeRunLocked,
		Message:   "Another delivery run is already in progress",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodePushSendFailed:
		return 3 // Retryable technical errors

	default:
		return 0 // Business errors: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// AsStandard unwraps err into a *StandardError if possible.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsRetryable reports whether an error should be retried. Errors that do
// not carry a StandardError are treated as transient.
func IsRetryable(err error) bool {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Retryable
	}
	return true
}

// CodeOf returns the error code carried by err, or empty string.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ""
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "REMINDER"):
		return "REMINDER"
	case strings.Contains(codeStr, "SUBSCRIPTION") || strings.Contains(codeStr, "ENDPOINT") || strings.Contains(codeStr, "PUSH"):
		return "PUSH"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "PAYLOAD"):
		return "VALIDATION"
	case strings.Contains(codeStr, "RUN"):
		return "RUN"
	default:
		return "OTHER"
	}
}
