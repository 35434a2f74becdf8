// Package retry provides bounded retry with exponential backoff for calls
// to external services.
package retry

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// Config controls the retry budget and backoff curve.
type Config struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. 0 means a single attempt.
	MaxRetries    uint64
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// Retryable classifies an error as transient. Non-transient errors
	// propagate immediately. Defaults to domain.IsTransient.
	Retryable func(error) bool
}

// DefaultConfig mirrors the budget used for all external calls: up to 3
// retries, 500ms initial delay doubling to a 10s cap, with jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		Retryable:     domain.IsTransient,
	}
}

// Executor runs fallible operations with the configured retry policy.
// Safe for concurrent use.
type Executor struct {
	cfg Config
}

// New creates an Executor, normalizing out-of-range config values.
func New(cfg Config) *Executor {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.BackoffFactor < 1.0 {
		cfg.BackoffFactor = 1.0
	}
	if cfg.Retryable == nil {
		cfg.Retryable = domain.IsTransient
	}
	return &Executor{cfg: cfg}
}

// Do executes op, retrying transient failures up to the configured budget.
// The backoff sleep is the only suspension point and honors ctx
// cancellation. The last error is returned once retries are exhausted;
// non-transient errors return immediately.
func (e *Executor) Do(ctx context.Context, name string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialDelay
	bo.MaxInterval = e.cfg.MaxDelay
	bo.Multiplier = e.cfg.BackoffFactor
	bo.MaxElapsedTime = 0
	if e.cfg.Jitter {
		bo.RandomizationFactor = 0.5
	} else {
		bo.RandomizationFactor = 0
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if e.cfg.Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, e.cfg.MaxRetries), ctx)
	err := backoff.RetryNotify(wrapped, policy, func(err error, wait time.Duration) {
		log.Printf("retry: %s failed, retrying in %s: %v", name, wait.Round(time.Millisecond), err)
	})
	if err != nil {
		log.Printf("retry: %s exhausted after %d attempts: %v", name, e.cfg.MaxRetries+1, err)
	}
	return err
}
