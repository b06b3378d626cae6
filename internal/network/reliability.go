package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliabilityConfig — параметры защитной обертки
type ReliabilityConfig struct {
	Attempts            uint
	RateLimit           float64
	RateBurst           int
	CBMaxRequests       uint32
	CBInterval          time.Duration
	CBTimeout           time.Duration
	ConsecutiveFailures uint32
	CallTimeout         time.Duration
}

// ReliabilityWrapper защищает вызовы агентской сети:
// Rate Limiter -> Circuit Breaker -> Retries с умным бэкоффом.
type ReliabilityWrapper struct {
	next     Invoker
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliabilityWrapper(next Invoker, cfg ReliabilityConfig) *ReliabilityWrapper {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-network",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > failures
		},
	})

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  limiter,
		attempts: cfg.Attempts,
		timeout:  cfg.CallTimeout,
	}
}

func (w *ReliabilityWrapper) Invoke(ctx context.Context, agent, prompt string) (string, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalText string

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если апстрим вернул ThrottleError (считал Retry-After заголовок)
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			finalText, callErr = w.next.Invoke(tCtx, agent, prompt)
			return callErr
		})

		return finalText, retryErr
	})

	if err != nil {
		return "", err
	}

	return cbResult.(string), nil
}
