package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchElement is returned when a locator matches nothing.
	ErrNoSuchElement = errors.New("no such element")
	// ErrStaleElement is returned when an element left the view hierarchy.
	ErrStaleElement = errors.New("stale element reference")
)

// WebDriverError is a W3C error response.
type WebDriverError struct {
	Status  int
	Code    string // W3C error code, e.g. "no such element"
	Message string
}

func (e *WebDriverError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is maps W3C error codes onto the package sentinels.
func (e *WebDriverError) Is(target error) bool {
	switch target {
	case ErrNoSuchElement:
		return e.Code == "no such element"
	case ErrStaleElement:
		return e.Code == "stale element reference"
	}
	return false
}
