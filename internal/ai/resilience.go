package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"rag-knowledge-platform/internal/telemetry"
)

// remoteRetries is the number of extra attempts after a transient failure.
const remoteRetries = 1

func isRetryable(err error) bool {
	var pErr *ProviderError
	return errors.As(err, &pErr) && pErr.Retryable
}

func newBreaker(name string, logger *slog.Logger, metrics *telemetry.Metrics) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// client errors such as a bad token say nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordCircuitBreakerState(name, to.String())
		},
	})
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// remoteCaller applies the client-side rate limit, a per-attempt timeout, the
// circuit breaker and one retry after a fixed backoff.
type remoteCaller struct {
	timeout time.Duration
	backoff time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

func (c *remoteCaller) call(ctx context.Context, op, provider string, breaker *gobreaker.CircuitBreaker, fn func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ProviderError{Op: op, Provider: provider, Endpoint: "client rate limiter", Err: err}
	}

	var err error
	for attempt := 0; attempt <= remoteRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying remote provider call", "provider", provider, "op", op, "error", err)
			timer := time.NewTimer(c.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		err = c.attempt(ctx, op, provider, breaker, fn)
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *remoteCaller) attempt(ctx context.Context, op, provider string, breaker *gobreaker.CircuitBreaker, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, fn(actx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ProviderError{Op: op, Provider: provider, Endpoint: "circuit breaker " + breaker.Name(), Err: err}
	}
	return err
}
