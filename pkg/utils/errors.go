package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WithStackTrace adds stack trace to the error
func (e *AppError) WithStackTrace() *AppError {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	e.StackTrace = string(buf[:n])
	return e
}

// IsCode reports whether err is an AppError carrying the given code
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Common error codes
const (
	ErrCodeDatabase      = "DATABASE_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT_ERROR"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodePublish       = "PUBLISH_ERROR"
)
