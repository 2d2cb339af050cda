package scraper

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/idealinvestse/shoppi-shop-finder/config"
)

// RetryPolicy re-invokes an operation on transient failures with
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed bounds the total time spent retrying; 0 disables the bound.
	MaxElapsed time.Duration
	Retryable  func(error) bool
	OnRetry    func(err error, wait time.Duration)
}

// NewRetryPolicy builds a policy from cfg that retries transient errors only.
func NewRetryPolicy(cfg *config.Config) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     cfg.RetryAttempts,
		InitialInterval: cfg.RetryBackoff,
		MaxInterval:     cfg.RetryBackoffMax,
		MaxElapsed:      cfg.RetryMaxElapsed,
		Retryable:       isTransient,
	}
}

// Do invokes fn until it succeeds, fails permanently, or the attempt or
// elapsed budget runs out. It returns the number of invocations and the last
// error fn returned. Cancelling ctx stops further attempts but never replaces
// the last real error with the context error.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialInterval
	if expo.InitialInterval <= 0 {
		expo.InitialInterval = time.Millisecond
	}
	if p.MaxInterval > 0 {
		expo.MaxInterval = p.MaxInterval
	}
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = p.MaxElapsed
	expo.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)

	attempts := 0
	var last error
	operation := func() error {
		attempts++
		err := fn()
		last = err
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, wait)
		}
	})
	if err != nil && last != nil {
		return attempts, last
	}
	return attempts, err
}
