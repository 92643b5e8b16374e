package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
)

// AttemptState is the per-issue retry state machine:
// pending -> attempting -> (succeeded | retrying(n) -> attempting | failed).
// Keeping it explicit makes the retry budget and backoff curve testable on
// their own.
type AttemptState string

const (
	StatePending    AttemptState = "pending"
	StateAttempting AttemptState = "attempting"
	StateRetrying   AttemptState = "retrying"
	StateSucceeded  AttemptState = "succeeded"
	StateFailed     AttemptState = "failed"
)

// RetryPolicy bounds retries for remote calls. Transient and rate-limit
// errors are retried with exponential backoff and jitter; everything else is
// permanent.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
	}
}

func RetryPolicyFromConfig(cfg *common.VaultConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.RetryBudget > 0 {
		p.MaxAttempts = cfg.RetryBudget
	}
	if cfg.BackoffInitialMS > 0 {
		p.InitialInterval = time.Duration(cfg.BackoffInitialMS) * time.Millisecond
	}
	if cfg.BackoffMaxMS > 0 {
		p.MaxInterval = time.Duration(cfg.BackoffMaxMS) * time.Millisecond
	}
	return p
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	return bo
}

// Do runs op under the policy. observe, when non-nil, receives every state
// transition with the current attempt number.
func (p RetryPolicy) Do(ctx context.Context, op func() error, observe func(state AttemptState, attempt int)) error {
	if observe == nil {
		observe = func(AttemptState, int) {}
	}

	attempt := 0
	observe(StatePending, 0)

	bo := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(p.MaxAttempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempt++
		observe(StateAttempting, attempt)

		err := op()
		if err == nil {
			return nil
		}
		if common.IsTransient(err) {
			if attempt < p.MaxAttempts {
				observe(StateRetrying, attempt)
			}
			return err // retryable, backoff schedules the next attempt
		}
		return backoff.Permanent(err)
	}, bo)

	if err != nil {
		observe(StateFailed, attempt)
		return err
	}
	observe(StateSucceeded, attempt)
	return nil
}
