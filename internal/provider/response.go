package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
)

// opaqueID holds identifiers the provider sends either as JSON numbers or strings.
type opaqueID string

func (id *opaqueID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = opaqueID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = opaqueID(n.String())
	return nil
}

type responseBody struct {
	MulticastID  *opaqueID      `json:"multicast_id"`
	Success      int            `json:"success"`
	Failure      int            `json:"failure"`
	CanonicalIDs int            `json:"canonical_ids"`
	Results      []*resultEntry `json:"results"`
	MessageID    *opaqueID      `json:"message_id"`
	Error        *string        `json:"error"`
}

type resultEntry struct {
	MessageID      *opaqueID `json:"message_id"`
	RegistrationID *string   `json:"registration_id"`
	Error          *string   `json:"error"`
}

// ParseResponse reconciles a raw provider response with the message that
// produced it.
//
// 400, 401 and any status other than 200 or 5xx fail with *ServiceError.
// A 5xx invalidates the whole batch: every registration id becomes
// unavailable and the body is ignored. A 200 body's results are matched to
// the request's registration ids by position; a length mismatch fails with
// *MalformedResponseError.
func ParseResponse(message *domain.Message, statusCode int, header http.Header, body []byte) (*domain.Result, error) {
	return parseResponse(message, statusCode, header, body, time.Now)
}

func parseResponse(
	message *domain.Message,
	statusCode int,
	header http.Header,
	body []byte,
	now func() time.Time,
) (*domain.Result, error) {
	if message == nil {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	switch {
	case statusCode == http.StatusBadRequest:
		return nil, &ServiceError{
			StatusCode: statusCode,
			Message:    "bad request",
			Body:       string(body),
		}
	case statusCode == http.StatusUnauthorized:
		return nil, &ServiceError{
			StatusCode: statusCode,
			Message:    "unauthorized",
			Body:       string(body),
		}
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		result := domain.NewResult(message, statusCode)
		result.Backoff = parseRetryAfter(header, now)
		if message.IsMulticast() {
			result.Unavailable = message.RegistrationIDs()
		}
		return result, nil
	case statusCode == http.StatusOK:
		return parseOK(message, header, body, now)
	default:
		return nil, &ServiceError{
			StatusCode: statusCode,
			Message:    "unexpected status",
			Body:       string(body),
		}
	}
}

func parseOK(message *domain.Message, header http.Header, body []byte, now func() time.Time) (*domain.Result, error) {
	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedResponseError{
			StatusCode: http.StatusOK,
			Reason:     "invalid json body",
			Cause:      err,
		}
	}

	result := domain.NewResult(message, http.StatusOK)
	result.Raw = append(json.RawMessage(nil), body...)
	result.CanonicalCount = parsed.CanonicalIDs
	result.Backoff = parseRetryAfter(header, now)
	if parsed.MulticastID != nil {
		result.MulticastID = string(*parsed.MulticastID)
	}

	if !message.IsMulticast() {
		applySingleTarget(result, parsed)
		return result, nil
	}

	recipients := message.RegistrationIDs()
	if parsed.Results == nil {
		return nil, &MalformedResponseError{
			StatusCode: http.StatusOK,
			Reason:     "results are missing",
		}
	}
	if len(parsed.Results) != len(recipients) {
		return nil, &MalformedResponseError{
			StatusCode: http.StatusOK,
			Reason:     fmt.Sprintf("got %d results for %d registration ids", len(parsed.Results), len(recipients)),
		}
	}

	for i, entry := range parsed.Results {
		recipient := recipients[i]
		if entry == nil {
			return nil, &MalformedResponseError{
				StatusCode: http.StatusOK,
				Reason:     fmt.Sprintf("result %d is null", i),
			}
		}

		switch {
		case entry.MessageID != nil:
			result.Success[recipient] = string(*entry.MessageID)
			if entry.RegistrationID != nil && *entry.RegistrationID != "" {
				result.CanonicalIDs[recipient] = *entry.RegistrationID
			}
		case entry.Error != nil:
			switch code := *entry.Error; code {
			case domain.ErrorCodeUnavailable, domain.ErrorCodeInternalServerError:
				result.Unavailable = append(result.Unavailable, recipient)
			case domain.ErrorCodeNotRegistered:
				result.Unregistered = append(result.Unregistered, recipient)
			default:
				result.Failure[recipient] = code
			}
		default:
			return nil, &MalformedResponseError{
				StatusCode: http.StatusOK,
				Reason:     fmt.Sprintf("result %d has neither message_id nor error", i),
			}
		}
	}

	return result, nil
}

// Topic sends answer with a top-level message_id or error, single token sends
// with a one-entry results array.
func applySingleTarget(result *domain.Result, parsed responseBody) {
	if parsed.MessageID != nil {
		result.MessageID = string(*parsed.MessageID)
	}
	if parsed.Error != nil {
		result.Error = *parsed.Error
	}
	if len(parsed.Results) == 1 && parsed.Results[0] != nil && result.MessageID == "" && result.Error == "" {
		entry := parsed.Results[0]
		if entry.MessageID != nil {
			result.MessageID = string(*entry.MessageID)
		}
		if entry.Error != nil {
			result.Error = *entry.Error
		}
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP-date. Anything else is
// treated as absent.
func parseRetryAfter(header http.Header, now func() time.Time) *time.Duration {
	if header == nil {
		return nil
	}

	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return nil
	}
	d := at.Sub(now())
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	return &d
}
