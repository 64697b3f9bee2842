package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrRateLimited means the local limiter refused the call before any
// network traffic. Retry after the window rolls over.
var ErrRateLimited = errors.New("rate limited: too many requests in the current window")

// ErrCanceled is returned when the caller abandoned the request. It is not
// a failure: nothing is retried, cached or reported.
var ErrCanceled = fmt.Errorf("request canceled: %w", context.Canceled)

// NoResponseError covers transport failures and timeouts.
type NoResponseError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *NoResponseError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: no response: timed out", e.Method, e.URL)
	}
	return fmt.Sprintf("%s %s: no response: %v", e.Method, e.URL, e.Err)
}

func (e *NoResponseError) Unwrap() error {
	return e.Err
}

// ServerError is a non-2xx answer from a catalog API.
type ServerError struct {
	Method  string
	URL     string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: API error %d: %s", e.Method, e.URL, e.Status, msg)
}

// IsUnsupported reports a 404, which the catalogs use for features or
// categories the backend does not offer.
func (e *ServerError) IsUnsupported() bool {
	return e.Status == http.StatusNotFound
}

// RequestSetupError means the request could not be built (bad URL, unencodable body).
type RequestSetupError struct {
	Err error
}

func (e *RequestSetupError) Error() string {
	return "request setup failed: " + e.Err.Error()
}

func (e *RequestSetupError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether retrying later, or serving fallback data,
// makes sense for err.
func IsRecoverable(err error) bool {
	var noResponse *NoResponseError
	if errors.As(err, &noResponse) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var serverErr *ServerError
	return errors.As(err, &serverErr) && serverErr.Status >= 500
}

// UserMessage renders err as text the UI can show as-is.
func UserMessage(err error) string {
	var serverErr *ServerError
	var noResponse *NoResponseError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "Too many requests right now. Please try again in a moment."
	case errors.Is(err, context.Canceled):
		return ""
	case errors.As(err, &noResponse):
		return "Could not reach the music service. Check your connection and retry."
	case errors.As(err, &serverErr) && serverErr.IsUnsupported():
		return "This feature or category isn't supported by the music service."
	case errors.As(err, &serverErr):
		return fmt.Sprintf("The music service returned an error (%d).", serverErr.Status)
	default:
		return "Something went wrong. Please retry."
	}
}
