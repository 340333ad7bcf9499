package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrUnauthorized indicates the remote rejected our credentials
	ErrUnauthorized = errors.New("remote authentication failed")

	// ErrSessionExpired indicates refresh was attempted and also rejected;
	// tokens have been cleared and the user must sign in again
	ErrSessionExpired = errors.New("session expired")

	// ErrNotFound indicates the requested resource doesn't exist
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a domain conflict (e.g. job already tracked)
	ErrConflict = errors.New("conflict with remote state")

	// ErrUnavailable indicates the remote is temporarily unavailable
	ErrUnavailable = errors.New("remote temporarily unavailable")
)

// APIError carries the HTTP status and any field-scoped validation messages
// returned by the remote service
type APIError struct {
	Code    int
	Message string
	Fields  map[string]string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is worth retrying with backoff:
// network-level failures, timeouts, and 5xx responses
func IsTransient(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == 0
	}
	return false
}

// IsValidation reports whether the error carries field-scoped validation
// messages; such errors are never retried
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusUnprocessableEntity
}

// errorBody is the remote service's error envelope
type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// parseError converts a non-2xx response into a typed error
func parseError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	apiErr := &APIError{
		Code:    resp.StatusCode,
		Message: body.Error,
		Fields:  body.Fields,
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.Err = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		apiErr.Err = ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		apiErr.Err = ErrConflict
	case resp.StatusCode >= 500:
		apiErr.Err = ErrUnavailable
	}

	return apiErr
}
