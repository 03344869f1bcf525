package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated matches any 401 that survived the refresh pipeline
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrMalformedPayload marks a body that should be structured data but is not
	ErrMalformedPayload = errors.New("malformed payload")
)

// StatusError is a non-2xx response surfaced verbatim to the caller
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (status %d): %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrUnauthenticated) match 401s
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// ValidationError is returned when a request is rejected before dispatch
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
