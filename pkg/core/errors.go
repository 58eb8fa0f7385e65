package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, session_create, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context (locator, worker, env)
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches another ExecutionError by code, so derived errors satisfy
// errors.Is(err, ErrElementNotFound).
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Soft: a default is substituted
	ErrConfigMissing = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "config_missing",
		Message:  "configuration value missing",
	}

	// Fatal for the current test
	ErrCapabilityBuild = &ExecutionError{
		Category: ErrCategoryCapability,
		Code:     "capability_build",
		Message:  "could not build session capabilities",
	}
	ErrSessionCreate = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_create",
		Message:  "could not create remote session",
	}
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryElement,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrActionFailed = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "action_failed",
		Message:  "action failed",
	}
	ErrInputFailed = &ExecutionError{
		Category: ErrCategoryInput,
		Code:     "input_failed",
		Message:  "text input failed",
	}
	ErrAssertion = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "assertion_failed",
		Message:  "assertion failed",
	}

	// Soft: logged only
	ErrArtifactIO = &ExecutionError{
		Category: ErrCategoryArtifact,
		Code:     "artifact_io",
		Message:  "artifact I/O failed",
	}
	ErrCleanupIO = &ExecutionError{
		Category: ErrCategoryCleanup,
		Code:     "cleanup_io",
		Message:  "artifact cleanup failed",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	if err != nil {
		return ErrCategoryAssertion
	}
	return ErrCategoryNone
}

// IsInfrastructure reports whether err was caused by a broken environment
// (config, capabilities or session) rather than by the app under test.
func IsInfrastructure(err error) bool {
	return CategoryOf(err).Infrastructure()
}

// IsSoft reports whether err must only be logged.
func IsSoft(err error) bool {
	return CategoryOf(err).Soft()
}
