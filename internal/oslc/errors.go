// Package oslc is the client for the requirements server: session login,
// RDF resource fetches classified for the crawler, and discovery of the
// project's components, configurations and seed requirements.
package oslc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, oslc.ErrNotFound) to check.
var (
	ErrUnauthorized = errors.New("oslc: unauthorized")
	ErrForbidden    = errors.New("oslc: forbidden")
	ErrNotFound     = errors.New("oslc: not found")
	ErrGone         = errors.New("oslc: resource gone")
	ErrServerError  = errors.New("oslc: server error")
	ErrAuthFailed   = errors.New("oslc: authentication failed")
)

// HTTPError reports a non-2xx response. The crawler logs it and abandons
// the branch; discovery calls treat it as fatal unless it is a 404.
type HTTPError struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("oslc: HTTP %d from <%s>", e.StatusCode, e.URL)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// SkipError reports a 2xx response whose content is not RDF: images, HTML
// error pages, attachments.
type SkipError struct {
	URL         string
	ContentType string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("oslc: skipping <%s> (%s)", e.URL, e.ContentType)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrGone
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// IsTransient reports whether err is a network-level failure worth
// retrying: connection reset, broken pipe, timeout or DNS failure.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
