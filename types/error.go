package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the marketplace core.
type ErrorCode string

// Validation error codes
const (
	ErrInvalidProfile ErrorCode = "INVALID_PROFILE"
	ErrInvalidTask    ErrorCode = "INVALID_TASK"
	ErrInvalidMessage ErrorCode = "INVALID_MESSAGE"
)

// Security error codes
const (
	ErrSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	ErrDecryptionFailed ErrorCode = "DECRYPTION_FAILED"
	ErrEncryptionFailed ErrorCode = "ENCRYPTION_FAILED"
)

// Scheduling error codes
const (
	ErrAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	ErrTaskNotFound     ErrorCode = "TASK_NOT_FOUND"
	ErrNoEligibleAgent  ErrorCode = "NO_ELIGIBLE_AGENT"
	ErrSystemOverloaded ErrorCode = "SYSTEM_OVERLOADED"
	ErrDeliveryFailed   ErrorCode = "DELIVERY_FAILED"
	ErrExpired          ErrorCode = "EXPIRED"
)

// Message validation sentinels. Verify treats all of these as a failed
// check rather than an error, but callers constructing messages get a
// concrete reason.
var (
	ErrMessageMissingID        = errors.New("message missing id")
	ErrMessageInvalidType      = errors.New("message type invalid")
	ErrMessageMissingSender    = errors.New("message missing sender")
	ErrMessageMissingReceiver  = errors.New("message missing receiver")
	ErrMessageMissingTimestamp = errors.New("message missing timestamp")
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
