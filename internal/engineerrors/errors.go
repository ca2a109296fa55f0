// Package engineerrors defines the structured error kinds the matching
// core returns: a single tagged type instead of a zoo of sentinel
// errors, so adapters (HTTP, gRPC, tests) can branch on Code without
// type-asserting each failure shape.
package engineerrors

import (
	"fmt"
	"time"
)

// Code identifies the kind of failure, independent of its message.
type Code string

const (
	Validation              Code = "VALIDATION"
	NotFound                Code = "NOT_FOUND"
	NotCancellable          Code = "NOT_CANCELLABLE"
	AlreadyCancelled        Code = "ALREADY_CANCELLED"
	AlreadyMatched          Code = "ALREADY_MATCHED"
	ContractExecutionFailed Code = "CONTRACT_EXECUTION_FAILED"
	VerificationMismatch    Code = "VERIFICATION_MISMATCH"
	Timeout                 Code = "TIMEOUT"
	Conflict                Code = "CONFLICT"
)

// EngineError is the structured error returned by every core operation.
type EngineError struct {
	Code      Code
	Message   string
	Details   map[string]interface{}
	Timestamp time.Time
	Cause     error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/errors.As.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair of diagnostic context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an EngineError with no underlying cause.
func New(code Code, message string) *EngineError {
	return &EngineError{Code: code, Message: message, Timestamp: time.Now()}
}

// Newf creates an EngineError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *EngineError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code/message to an existing error as its cause.
func Wrap(err error, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{Code: code, Message: message, Timestamp: time.Now(), Cause: err}
}

// Is reports whether err is an *EngineError with the given code.
func Is(err error, code Code) bool {
	ee, ok := err.(*EngineError)
	if !ok {
		if u, ok := err.(interface{ Unwrap() error }); ok {
			return Is(u.Unwrap(), code)
		}
		return false
	}
	return ee.Code == code
}

// GetCode extracts the Code from err, or "" if err is not an *EngineError.
func GetCode(err error) Code {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ""
}

// Retryable reports whether the caller may usefully retry with fresh
// state: the expected-race and timeout outcomes, not the fatal Conflict
// kind.
func Retryable(err error) bool {
	switch GetCode(err) {
	case NotCancellable, AlreadyCancelled, AlreadyMatched, Timeout:
		return true
	default:
		return false
	}
}
