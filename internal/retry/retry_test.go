package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"loyalty-app/internal/chaterr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticOnline bool

func (s staticOnline) IsOnline() bool { return bool(s) }

// recordSleeps captures requested delays instead of waiting
func recordSleeps(delays *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func noJitter() Option {
	return WithJitter(func(time.Duration) time.Duration { return 0 })
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	var delays []time.Duration
	exec := NewExecutor(Policy{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, Exponential: true}, recordSleeps(&delays), noJitter())

	calls := 0
	err := exec.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return chaterr.FromStatus(http.StatusServiceUnavailable, "", "busy", 0)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestExecutor_TerminalErrorIsNotRetried(t *testing.T) {
	var delays []time.Duration
	exec := NewExecutor(Policy{MaxRetries: 5, BaseDelay: time.Millisecond, Exponential: true}, recordSleeps(&delays), noJitter())

	terminal := chaterr.FromStatus(http.StatusUnauthorized, "unauthorized", "bad token", 0)
	calls := 0
	err := exec.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, terminal, err)
	assert.Empty(t, delays)
}

func TestExecutor_ValidationErrorIsTerminal(t *testing.T) {
	exec := NewExecutor(Policy{MaxRetries: 3}, recordSleeps(new([]time.Duration)), noJitter())

	calls := 0
	err := exec.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return chaterr.Validation("empty")
	})

	assert.Equal(t, 1, calls)
	assert.True(t, chaterr.IsKind(err, chaterr.KindValidation))
}

func TestExecutor_ExhaustionReturnsLastError(t *testing.T) {
	exec := NewExecutor(Policy{MaxRetries: 2, BaseDelay: time.Millisecond}, recordSleeps(new([]time.Duration)), noJitter())

	calls := 0
	err := exec.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return chaterr.Network(errors.New("connection reset"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, chaterr.IsKind(err, chaterr.KindNetwork))
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestExecutor_LinearDelayAndJitter(t *testing.T) {
	var delays []time.Duration
	exec := NewExecutor(
		Policy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond, Exponential: false, MaxJitter: time.Second},
		recordSleeps(&delays),
		WithJitter(func(max time.Duration) time.Duration {
			assert.Equal(t, time.Second, max)
			return 7 * time.Millisecond
		}),
	)

	_ = exec.Run(context.Background(), func(ctx context.Context) error {
		return chaterr.Timeout(context.DeadlineExceeded)
	})

	assert.Equal(t, []time.Duration{57 * time.Millisecond, 57 * time.Millisecond, 57 * time.Millisecond}, delays)
}

func TestExecutor_OfflineFailsFastWithoutCallingOp(t *testing.T) {
	exec := NewExecutor(DefaultPolicy(), WithOnlineChecker(staticOnline(false)))

	calls := 0
	err := exec.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls)
	assert.True(t, chaterr.IsOffline(err))
}

func TestExecutor_AttemptTimeout(t *testing.T) {
	exec := NewExecutor(Policy{MaxRetries: 0, AttemptTimeout: 20 * time.Millisecond})

	err := exec.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.True(t, chaterr.IsKind(err, chaterr.KindTimeout))
}

func TestExecutor_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(Policy{MaxRetries: 5, BaseDelay: time.Hour})

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- exec.Run(ctx, func(ctx context.Context) error {
			calls++
			return chaterr.Network(errors.New("reset"))
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Exponential: true}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
}
