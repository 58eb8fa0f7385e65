package core

// TestStatus represents the outcome of a single test.
type TestStatus int

const (
	StatusPending TestStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Assertion or action failure
	StatusErrored                   // Infrastructure failure (config, capabilities, session)
	StatusSkipped                   // Skipped by the host runner
)

// String returns the string representation of TestStatus
func (s TestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s TestStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsFailure returns true for failed and errored tests.
func (s TestStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusErrored
}

// ErrorCategory classifies the type of error for reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryConfig                          // Missing profile, key or device
	ErrCategoryCapability                      // Capabilities could not be built
	ErrCategorySession                         // Remote session could not be created
	ErrCategoryElement                         // Element not found within the wait bound
	ErrCategoryAction                          // Click or other action failed
	ErrCategoryInput                           // Text input failed
	ErrCategoryArtifact                        // Screenshot or report fragment I/O
	ErrCategoryCleanup                         // Stale artifact cleanup I/O
	ErrCategoryAssertion                       // Test assertion failed
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryCapability:
		return "capability"
	case ErrCategorySession:
		return "session"
	case ErrCategoryElement:
		return "element"
	case ErrCategoryAction:
		return "action"
	case ErrCategoryInput:
		return "input"
	case ErrCategoryArtifact:
		return "artifact"
	case ErrCategoryCleanup:
		return "cleanup"
	case ErrCategoryAssertion:
		return "assertion"
	default:
		return "unknown"
	}
}

// Soft reports whether errors of this category are logged only and never abort a test.
func (c ErrorCategory) Soft() bool {
	switch c {
	case ErrCategoryConfig, ErrCategoryArtifact, ErrCategoryCleanup:
		return true
	default:
		return false
	}
}

// Infrastructure reports whether the category means "environment broken"
// rather than "behavior regressed".
func (c ErrorCategory) Infrastructure() bool {
	switch c {
	case ErrCategoryConfig, ErrCategoryCapability, ErrCategorySession:
		return true
	default:
		return false
	}
}
