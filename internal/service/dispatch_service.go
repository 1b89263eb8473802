package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"time"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/kursadbilgin/gcm-relay/internal/provider"
	"github.com/kursadbilgin/gcm-relay/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxAttempts   = 5
	minConcurrency       = 1
	maxRetryDelay        = 60 * time.Second
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250

	rateLimitKey = "gcm"
)

// Retry reasons used in logs and metrics.
const (
	retryReasonUnavailable = "unavailable"
	retryReasonServerError = "server_error"
	retryReasonTransport   = "transport"
)

// Report aggregates the outcome of every attempt made for one message.
// Unavailable holds only the recipients still undelivered when the attempts
// ran out.
type Report struct {
	MulticastIDs []string          `json:"multicastIds"`
	Success      map[string]string `json:"success"`
	Failure      map[string]string `json:"failure"`
	CanonicalIDs map[string]string `json:"canonicalIds"`
	Unregistered []string          `json:"unregistered"`
	Unavailable  []string          `json:"unavailable"`

	// MessageID and Error are set for single-target sends.
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`

	Attempts int `json:"attempts"`
}

func newReport() *Report {
	return &Report{
		MulticastIDs: []string{},
		Success:      make(map[string]string),
		Failure:      make(map[string]string),
		CanonicalIDs: make(map[string]string),
		Unregistered: []string{},
		Unavailable:  []string{},
	}
}

func (r *Report) addResult(result *domain.Result) {
	if result.MulticastID != "" {
		r.MulticastIDs = append(r.MulticastIDs, result.MulticastID)
	}
	maps.Copy(r.Success, result.Success)
	maps.Copy(r.Failure, result.Failure)
	maps.Copy(r.CanonicalIDs, result.CanonicalIDs)
	r.Unregistered = append(r.Unregistered, result.Unregistered...)
	if result.MessageID != "" {
		r.MessageID = result.MessageID
	}
	r.Error = result.Error
}

func (r *Report) merge(other *Report) {
	r.MulticastIDs = append(r.MulticastIDs, other.MulticastIDs...)
	maps.Copy(r.Success, other.Success)
	maps.Copy(r.Failure, other.Failure)
	maps.Copy(r.CanonicalIDs, other.CanonicalIDs)
	r.Unregistered = append(r.Unregistered, other.Unregistered...)
	r.Unavailable = append(r.Unavailable, other.Unavailable...)
	if other.MessageID != "" {
		r.MessageID = other.MessageID
	}
	if other.Error != "" {
		r.Error = other.Error
	}
	r.Attempts += other.Attempts
}

// DispatchService drives the send, inspect, resend loop on behalf of callers.
// The provider itself never retries.
type DispatchService struct {
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxAttempts int
	concurrency int
	now         func() time.Time
	randIntn    func(n int) int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewDispatchService(
	p provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	maxAttempts int,
	concurrency int,
	logger *zap.Logger,
) (*DispatchService, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if concurrency < minConcurrency {
		concurrency = minConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		provider:    p,
		rateLimiter: rateLimiter,
		logger:      logger,
		maxAttempts: maxAttempts,
		concurrency: concurrency,
		now:         time.Now,
		randIntn:    rand.Intn,
		sleep:       sleepWithContext,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Dispatch sends message, resending unavailable recipients until every
// recipient has a final outcome or the attempt budget is spent. A
// single-target send is resent on a 5xx response or an Unavailable or
// InternalServerError result. Multicast messages above the provider limit are
// split and sent concurrently.
//
// On error the returned report still holds what the finished attempts
// produced, Attempts included.
func (s *DispatchService) Dispatch(ctx context.Context, message *domain.Message) (*Report, error) {
	if message == nil {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	chunks := message.Split(domain.MaxRegistrationIDs)
	reports := make([]*Report, len(chunks))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			report, err := s.dispatchChunk(groupCtx, chunk)
			reports[i] = report
			return err
		})
	}
	err := g.Wait()

	total := newReport()
	for _, report := range reports {
		if report != nil {
			total.merge(report)
		}
	}
	return total, err
}

func (s *DispatchService) dispatchChunk(ctx context.Context, message *domain.Message) (*Report, error) {
	logger := observability.WithContextLogger(s.logger, ctx)
	report := newReport()
	current := message

	for attempt := 1; ; attempt++ {
		if s.rateLimiter != nil {
			if err := s.rateLimiter.Wait(ctx, rateLimitKey); err != nil {
				return report, fmt.Errorf("rate limiter wait failed: %w", err)
			}
		}

		report.Attempts++
		result, err := s.send(ctx, current)
		if err != nil {
			if !provider.IsTransient(err) {
				return report, err
			}
			if attempt >= s.maxAttempts {
				return report, fmt.Errorf("gcm send failed after %d attempts: %w", attempt, err)
			}

			delay := s.computeRetryDelay(attempt)
			logger.Warn("gcm send failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			s.metrics.IncRetryScheduled(retryReasonTransport)
			if err := s.sleep(ctx, delay); err != nil {
				return report, err
			}
			continue
		}

		report.addResult(result)
		s.recordOutcomes(result)

		next, err := result.RetryMessage()
		if err != nil {
			return report, fmt.Errorf("failed to build retry message: %w", err)
		}
		reason := retryReasonUnavailable
		// A single-target send has no recipient list to mark unavailable, so it
		// is resent whole.
		if next == nil && !current.IsMulticast() {
			switch {
			case result.ServerError():
				next = current
				reason = retryReasonServerError
			case result.TargetUnavailable():
				next = current
			}
		}
		if next == nil {
			return report, nil
		}

		if attempt >= s.maxAttempts {
			report.Unavailable = next.Recipients()
			s.metrics.AddRecipients(observability.OutcomeUnavailable, len(report.Unavailable))
			logger.Warn("gcm retry budget exhausted",
				zap.Int("attempts", attempt),
				zap.Int("unavailable", len(report.Unavailable)),
			)
			return report, nil
		}

		delay := s.computeRetryDelay(attempt)
		if result.Backoff != nil {
			delay = *result.Backoff
		}
		logger.Info("gcm retry scheduled",
			zap.Int("attempt", attempt),
			zap.String("reason", reason),
			zap.Int("recipients", len(next.Recipients())),
			zap.Duration("delay", delay),
		)
		s.metrics.IncRetryScheduled(reason)
		if err := s.sleep(ctx, delay); err != nil {
			return report, err
		}
		current = next
	}
}

func (s *DispatchService) send(ctx context.Context, message *domain.Message) (*domain.Result, error) {
	s.metrics.IncInFlight()
	defer s.metrics.DecInFlight()

	start := s.now()
	result, err := s.provider.Send(ctx, message)
	elapsed := s.now().Sub(start)

	switch {
	case err == nil:
		s.metrics.ObserveGCMRequest(observability.StatusClass(result.StatusCode), elapsed)
	default:
		var serviceErr *provider.ServiceError
		if errors.As(err, &serviceErr) {
			s.metrics.ObserveGCMRequest(observability.StatusClass(serviceErr.StatusCode), elapsed)
		} else {
			s.metrics.ObserveGCMRequest("transport_error", elapsed)
		}
	}

	return result, err
}

func (s *DispatchService) recordOutcomes(result *domain.Result) {
	s.metrics.AddRecipients(observability.OutcomeSuccess, len(result.Success))
	s.metrics.AddRecipients(observability.OutcomeFailure, len(result.Failure))
	s.metrics.AddRecipients(observability.OutcomeUnregistered, len(result.Unregistered))
	s.metrics.AddCanonicalIDs(len(result.CanonicalIDs))
}

func (s *DispatchService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
