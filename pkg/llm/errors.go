package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a model call failure. It is assigned once, at the
// transport boundary, and never re-derived from message text elsewhere.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindCapacity covers quota, rate limits and overloaded backends.
	KindCapacity
	// KindNotFound means the model identifier does not exist.
	KindNotFound
	// KindInvalidRequest means the backend rejected the request shape.
	KindInvalidRequest
	// KindAuth means the credentials were refused.
	KindAuth
	// KindEmptyResponse means the call succeeded but yielded nothing usable.
	KindEmptyResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindCapacity:
		return "capacity"
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindAuth:
		return "auth"
	case KindEmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

// Error is the normalized failure every provider returns.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: %s", e.Provider, e.Model, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ExhaustedError is returned by the fallback invoker when every candidate
// model failed with a capacity error.
type ExhaustedError struct {
	Models []string
	Last   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d models exhausted: %v", len(e.Models), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// KindOf extracts the ErrorKind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCapacity reports whether err is a capacity failure.
func IsCapacity(err error) bool {
	return KindOf(err) == KindCapacity
}

// IsContextError reports cancellation or deadline expiry.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var capacityMarkers = []string{
	"quota",
	"overload",
	"resource exhausted",
	"resource_exhausted",
	"rate limit",
	"too many requests",
	"unavailable",
}

// ClassifyStatus maps an HTTP status and backend message to an ErrorKind.
// Providers call it from their boundary error conversion.
func ClassifyStatus(code int, message string) ErrorKind {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return KindCapacity
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusBadRequest:
		return KindInvalidRequest
	}

	msg := strings.ToLower(message)
	for _, m := range capacityMarkers {
		if strings.Contains(msg, m) {
			return KindCapacity
		}
	}
	if strings.Contains(msg, "not found") {
		return KindNotFound
	}
	return KindUnknown
}

// NewError wraps a provider failure with its classification.
func NewError(provider, model string, code int, message string, err error) *Error {
	return &Error{
		Kind:       ClassifyStatus(code, message),
		Provider:   provider,
		Model:      model,
		StatusCode: code,
		Message:    message,
		Err:        err,
	}
}
