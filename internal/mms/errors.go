// Package mms is the client for the target model server: project
// creation, refs and tags, element uploads and deletions, and loading a
// ref's elements back as a snapshot.
package mms

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, mms.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("mms: bad request")
	ErrUnauthorized = errors.New("mms: unauthorized")
	ErrForbidden    = errors.New("mms: forbidden")
	ErrNotFound     = errors.New("mms: not found")
	ErrConflict     = errors.New("mms: conflict")
	ErrThrottled    = errors.New("mms: throttled")
	ErrServerError  = errors.New("mms: server error")
)

// Error wraps a sentinel error with the request, status code and the
// response body for debugging.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("mms: %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
