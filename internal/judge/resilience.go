package judge

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // initial retry interval (default 100ms)
	MaxInterval         time.Duration // maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // maximum total retry time (default 1min)
	Multiplier          float64       // backoff multiplier (default 2.0)
	RandomizationFactor float64       // jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Resilient wraps a Judge with exponential backoff retry and a circuit
// breaker, so a flapping model API degrades into the callers' deterministic
// fallbacks instead of hanging the loop on every call.
type Resilient struct {
	inner    Judge
	breaker  *gobreaker.CircuitBreaker
	retryCfg RetryConfig
}

// NewResilient wraps a judge with retry and circuit breaking.
func NewResilient(inner Judge, retryCfg RetryConfig) *Resilient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "judge",
		MaxRequests: 3,                // allow 3 test requests in half-open state
		Interval:    0,                // don't clear counts automatically
		Timeout:     30 * time.Second, // stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Don't count caller cancellation as an API failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	return &Resilient{inner: inner, breaker: cb, retryCfg: retryCfg}
}

// Complete implements Judge.
func (r *Resilient) Complete(ctx context.Context, prompt string) (string, error) {
	return r.callWithRetry(ctx, func() (string, error) {
		return r.inner.Complete(ctx, prompt)
	})
}

// CompleteJSON implements Judge.
func (r *Resilient) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return r.callWithRetry(ctx, func() (string, error) {
		return r.inner.CompleteJSON(ctx, prompt)
	})
}

// Close implements Judge.
func (r *Resilient) Close() error { return r.inner.Close() }

func (r *Resilient) callWithRetry(ctx context.Context, call func() (string, error)) (string, error) {
	var out string

	operation := func() error {
		// Check context first - fail fast if cancelled.
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := r.breaker.Execute(func() (interface{}, error) {
			return call()
		})
		if err != nil {
			// Circuit is open - don't retry.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			// Context cancelled - stop retrying.
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		out = result.(string)
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = r.retryCfg.InitialInterval
	backoffPolicy.MaxInterval = r.retryCfg.MaxInterval
	backoffPolicy.MaxElapsedTime = r.retryCfg.MaxElapsedTime
	backoffPolicy.Multiplier = r.retryCfg.Multiplier
	backoffPolicy.RandomizationFactor = r.retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(backoffPolicy, ctx))
	return out, err
}
