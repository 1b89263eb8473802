package domain

import (
	"encoding/json"
	"net/http"
	"time"
)

// Provider error codes that drive per-recipient classification.
const (
	ErrorCodeUnavailable         = "Unavailable"
	ErrorCodeInternalServerError = "InternalServerError"
	ErrorCodeNotRegistered       = "NotRegistered"
)

// Result is the reconciled outcome of one send attempt.
//
// For multicast messages Success, Failure, Unregistered and Unavailable
// partition the addressed recipients (up to duplicate tokens, which collapse in
// the map-valued fields). For single-target messages they stay empty and the
// outcome is carried by MessageID / Error.
type Result struct {
	StatusCode     int
	MulticastID    string
	CanonicalCount int

	Success      map[string]string
	Failure      map[string]string
	Unregistered []string
	Unavailable  []string
	CanonicalIDs map[string]string

	// MessageID and Error come from the top-level body of single-target sends.
	MessageID string
	Error     string

	// Backoff is the provider's Retry-After hint, nil when absent.
	Backoff *time.Duration

	Message *Message
	Raw     json.RawMessage
}

func NewResult(message *Message, statusCode int) *Result {
	return &Result{
		StatusCode:   statusCode,
		Success:      make(map[string]string),
		Failure:      make(map[string]string),
		Unregistered: []string{},
		Unavailable:  []string{},
		CanonicalIDs: make(map[string]string),
		Message:      message,
	}
}

// ServerError reports whether the provider invalidated the whole batch.
func (r *Result) ServerError() bool {
	return r.StatusCode >= http.StatusInternalServerError && r.StatusCode <= 599
}

// TargetUnavailable reports whether a single-target send came back with a
// temporary error code.
func (r *Result) TargetUnavailable() bool {
	if r == nil || r.Message == nil || r.Message.IsMulticast() {
		return false
	}
	return r.Error == ErrorCodeUnavailable || r.Error == ErrorCodeInternalServerError
}

// RetryMessage returns a message addressed to the unavailable recipients, or
// nil when there is nothing to retry. Failed and unregistered recipients are
// never retried.
func (r *Result) RetryMessage() (*Message, error) {
	if r == nil || len(r.Unavailable) == 0 {
		return nil, nil
	}
	return BuildRetryMessage(r.Message, r.Unavailable)
}
