package analysis

import (
	"errors"
	"fmt"
)

// ErrMalformedResult marks a response body that is not an analysis result.
var ErrMalformedResult = errors.New("analysis: malformed result")

// StatusError is returned for any non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("analysis: backend returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("analysis: backend returned status %d", e.StatusCode)
}

// UnreachableError indicates the backend could not be contacted.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e == nil {
		return "analysis: backend unreachable"
	}
	if e.Host != "" {
		return fmt.Sprintf("analysis: backend unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("analysis: backend unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}
