package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the provider's multicast send endpoint.
	DefaultEndpoint = "https://gcm-http.googleapis.com/gcm/send"

	defaultSendTimeout = 10 * time.Second
)

var _ Provider = (*Sender)(nil)

// Sender posts messages to the provider and reconciles the responses.
// It keeps no state between calls besides its configuration.
type Sender struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	logger   *zap.Logger
	now      func() time.Time
}

func NewSender(apiKey string, endpoint string, logger *zap.Logger) (*Sender, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewSenderWithClient(apiKey, endpoint, client, logger)
}

// NewSenderWithClient builds a Sender around a caller-owned resty client. The
// API key is not checked here; Send reports a missing key.
func NewSenderWithClient(apiKey string, endpoint string, client *resty.Client, logger *zap.Logger) (*Sender, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		trimmedEndpoint = DefaultEndpoint
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gcm endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &Sender{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *Sender) Endpoint() string {
	if s == nil {
		return ""
	}
	return s.endpoint
}

// Send performs exactly one POST. Transport failures are returned as they come
// from the HTTP client; provider rejections come back as *ServiceError and
// per-recipient failures are reported in the Result.
func (s *Sender) Send(ctx context.Context, message *domain.Message) (*domain.Result, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("sender is not initialized")
	}
	if message == nil {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	if s.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("%w: message body is not serializable: %v", domain.ErrValidation, err)
	}

	logger := observability.WithContextLogger(s.logger, ctx)

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "key="+s.apiKey).
		SetBody(payload).
		Post(s.endpoint)
	if err != nil {
		logger.Warn("gcm request failed",
			zap.String("endpoint", s.endpoint),
			zap.Error(err),
		)
		return nil, err
	}

	result, err := parseResponse(message, response.StatusCode(), response.Header(), response.Body(), s.now)
	if err != nil {
		logger.Error("gcm response rejected",
			zap.Int("status", response.StatusCode()),
			zap.Error(err),
		)
		return nil, err
	}

	fields := []zap.Field{
		zap.Int("status", result.StatusCode),
		zap.String("multicastId", result.MulticastID),
		zap.Int("recipients", len(message.Recipients())),
		zap.Int("success", len(result.Success)),
		zap.Int("failure", len(result.Failure)),
		zap.Int("unregistered", len(result.Unregistered)),
		zap.Int("unavailable", len(result.Unavailable)),
		zap.Int("canonical", len(result.CanonicalIDs)),
	}
	if result.Backoff != nil {
		fields = append(fields, zap.Duration("backoff", *result.Backoff))
	}
	logger.Debug("gcm response reconciled", fields...)

	return result, nil
}
