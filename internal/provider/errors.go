package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
)

// ErrMissingAPIKey is returned by Send when the sender has no API key.
var ErrMissingAPIKey = fmt.Errorf("%w: missing API key", domain.ErrValidation)

// ServiceError means the provider rejected the whole request. Resending the
// same request unmodified will not help.
type ServiceError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "gcm service error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		parts = append(parts, body)
	}

	return strings.Join(parts, ": ")
}

// MalformedResponseError is returned when a 200 response cannot be reconciled
// with the request it answers.
type MalformedResponseError struct {
	StatusCode int
	Reason     string
	Cause      error
}

func (e *MalformedResponseError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("malformed gcm response: status=%d: %s", e.StatusCode, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failed Send may succeed when repeated
// unchanged. Provider rejections and validation errors never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, domain.ErrValidation) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return false
	}
	var malformedErr *MalformedResponseError
	if errors.As(err, &malformedErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary() //nolint:staticcheck
	}

	return false
}
