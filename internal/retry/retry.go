// Package retry runs operations with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"loyalty-app/internal/chaterr"
	"loyalty-app/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxJitter      = time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// Policy controls how an operation is retried
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	BaseDelay  time.Duration
	// Exponential doubles the delay after every attempt; otherwise BaseDelay is used each time
	Exponential    bool
	MaxJitter      time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the policy used for chat sends
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		Exponential:    true,
		MaxJitter:      DefaultMaxJitter,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// OnlineChecker reports connectivity before each attempt
type OnlineChecker interface {
	IsOnline() bool
}

// Executor retries operations under a Policy
type Executor struct {
	policy   Policy
	online   OnlineChecker
	classify func(error) bool
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(max time.Duration) time.Duration
}

// Option customizes an Executor
type Option func(*Executor)

// WithOnlineChecker fails attempts fast while the checker reports offline
func WithOnlineChecker(c OnlineChecker) Option {
	return func(e *Executor) { e.online = c }
}

// WithSleep replaces the wait between attempts
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithJitter replaces the random jitter source
func WithJitter(jitter func(max time.Duration) time.Duration) Option {
	return func(e *Executor) { e.jitter = jitter }
}

// WithClassifier replaces the retryable-error test
func WithClassifier(classify func(error) bool) Option {
	return func(e *Executor) { e.classify = classify }
}

// NewExecutor creates an Executor
func NewExecutor(policy Policy, opts ...Option) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	e := &Executor{
		policy:   policy,
		classify: chaterr.IsRetryable,
		sleep:    sleepContext,
		jitter:   randomJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy
func (e *Executor) Policy() Policy {
	return e.policy
}

// Delay returns the wait before the retry that follows attempt (0-based), without jitter
func (p Policy) Delay(attempt int) time.Duration {
	if !p.Exponential {
		return p.BaseDelay
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// Run calls op until it succeeds, returns a terminal error, or retries run out.
// Each attempt gets its own timeout derived from ctx.
func (e *Executor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.policy.Delay(attempt-1) + e.jitter(e.policy.MaxJitter)
			logger.Log.WithFields(logrus.Fields{
				"delay":       delay,
				"attempt":     attempt + 1,
				"max_retries": e.policy.MaxRetries,
			}).Info("Retrying request")
			if err := e.sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		if e.online != nil && !e.online.IsOnline() {
			return chaterr.Offline()
		}

		err := e.attempt(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		if !e.classify(err) {
			logger.Log.WithError(err).Debug("Terminal error, not retrying")
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", e.policy.MaxRetries+1, lastErr)
}

func (e *Executor) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if e.policy.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return chaterr.Timeout(err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
