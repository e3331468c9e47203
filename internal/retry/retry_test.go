package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/excelmind/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recordSleep captures requested delays without waiting.
type recordSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestStrategy(cfg Config, opts ...Option) (*Strategy, *recordSleep) {
	rec := &recordSleep{}
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return New(cfg, opts...), rec
}

func TestDo_AlwaysFailingInvokesExactlyMaxRetriesPlusOne(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("max_retries=%d", n), func(t *testing.T) {
			s, rec := newTestStrategy(Config{MaxRetries: n, Policy: Immediate})
			transient := errors.New("upstream timeout")

			calls := 0
			attempts, err := s.Do(context.Background(), "op", func(context.Context, int) error {
				calls++
				return transient
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, transient)
			assert.Equal(t, n+1, calls)
			assert.Equal(t, n+1, attempts)
			assert.Len(t, rec.delays, n)

			var ex *ExhaustedError
			require.ErrorAs(t, err, &ex)
			assert.Equal(t, n+1, ex.Attempts)
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	s, _ := newTestStrategy(Config{MaxRetries: 3})

	seen := []int{}
	attempts, err := s.Do(context.Background(), "op", func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	s, rec := newTestStrategy(Config{MaxRetries: 5})
	fatal := Permanent(errors.New("bad input"))

	calls := 0
	attempts, err := s.Do(context.Background(), "op", func(context.Context, int) error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.delays)
}

func TestDo_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := newTestStrategy(Config{MaxRetries: 5})

	calls := 0
	_, err := s.Do(ctx, "op", func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_AttemptTimeoutIsRetryable(t *testing.T) {
	s, _ := newTestStrategy(Config{MaxRetries: 2, Policy: Immediate, AttemptTimeout: 5 * time.Millisecond})

	calls := 0
	attempts, err := s.Do(context.Background(), "slow", func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, attempts)
}

func TestRun_ReturnsValue(t *testing.T) {
	s, _ := newTestStrategy(Config{MaxRetries: 1})
	v, attempts, err := Run(context.Background(), s, "op", func(_ context.Context, attempt int) (string, error) {
		if attempt == 0 {
			return "", errors.New("once")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, attempts)
}

func TestBackoffPolicies(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		policy Policy
		want   []time.Duration
	}{
		{Exponential, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 500 * time.Millisecond}},
		{Linear, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 400 * time.Millisecond}},
		{Fixed, []time.Duration{base, base, base, base}},
		{Immediate, []time.Duration{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			cfg := Config{Policy: tt.policy, BaseDelay: base, MaxDelay: 500 * time.Millisecond}
			for i, want := range tt.want {
				assert.Equal(t, want, cfg.Delay(i), "attempt %d", i)
			}
		})
	}
}

func TestBackoff_ExponentialDoesNotOverflow(t *testing.T) {
	cfg := Config{Policy: Exponential, BaseDelay: time.Second, MaxDelay: time.Minute}
	assert.Equal(t, time.Minute, cfg.Delay(200))
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	s := New(Config{Policy: Fixed, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.1})
	for i := 0; i < 100; i++ {
		d := s.Backoff(0)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestDo_DelaysFollowPolicy(t *testing.T) {
	s, rec := newTestStrategy(Config{MaxRetries: 3, Policy: Exponential, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second})
	_, _ = s.Do(context.Background(), "op", func(context.Context, int) error { return errors.New("x") })
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, rec.delays)
}

func TestBudget_SharedAcrossCalls(t *testing.T) {
	base, _ := newTestStrategy(Config{MaxRetries: 5, Policy: Immediate})
	budget := NewBudget(3)
	s := base.WithBudget(budget)

	calls := 0
	fail := func(context.Context, int) error { calls++; return errors.New("x") }

	_, err := s.Do(context.Background(), "a", fail)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 0, budget.Remaining())

	calls = 0
	_, err = s.Do(context.Background(), "b", fail)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, budget.Used())
}

func TestOnRetryHook(t *testing.T) {
	var events []RetryEvent
	s, _ := newTestStrategy(Config{MaxRetries: 2, Policy: Immediate}, WithOnRetry(func(e RetryEvent) {
		events = append(events, e)
	}))
	_, _ = s.Do(context.Background(), "hooked", func(context.Context, int) error { return errors.New("x") })

	require.Len(t, events, 2)
	assert.Equal(t, "hooked", events[0].Op)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, 2, events[1].Attempt)
}

func TestDo_LogsRetriesAndExhaustion(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s, _ := newTestStrategy(Config{MaxRetries: 1, Policy: Immediate}, WithLogger(zap.New(core)))

	_, _ = s.Do(context.Background(), "llm.send", func(context.Context, int) error { return errors.New("x") })

	assert.Equal(t, 1, logs.FilterMessage("retrying operation after transient error").Len())
	assert.Equal(t, 1, logs.FilterMessage("operation failed after all retries exhausted").Len())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, IsRetryable(Permanent(errors.New("x"))))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", Permanent(errors.New("x")))))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.Nil(t, Permanent(nil))
}

func TestRunWithFallback(t *testing.T) {
	s, _ := newTestStrategy(Config{MaxRetries: 1, Policy: Immediate})
	primary := func(context.Context, int) (string, error) { return "", errors.New("down") }

	v, attempts, err := RunWithFallback(context.Background(), s, "plan", primary,
		Fallback[string]{Name: "broken", Fn: func(context.Context) (string, error) { return "", errors.New("also down") }},
		Fallback[string]{Name: "basic", Fn: func(context.Context) (string, error) { return "basic plan", nil }},
	)
	require.NoError(t, err)
	assert.Equal(t, "basic plan", v)
	assert.Equal(t, 2, attempts)
}

func TestRunWithFallback_AllFail(t *testing.T) {
	s, _ := newTestStrategy(Config{MaxRetries: 0})
	primaryErr := errors.New("down")
	fbErr := errors.New("fallback down")

	_, _, err := RunWithFallback(context.Background(), s, "plan",
		func(context.Context, int) (int, error) { return 0, primaryErr },
		Fallback[int]{Name: "fb", Fn: func(context.Context) (int, error) { return 0, fbErr }},
	)
	assert.ErrorIs(t, err, primaryErr)
	assert.ErrorIs(t, err, fbErr)
}

func TestFromSettings(t *testing.T) {
	cfg := config.Default()
	rc := FromSettings(cfg.Orchestrator, cfg.Retry)
	assert.Equal(t, 3, rc.MaxRetries)
	assert.Equal(t, Exponential, rc.Policy)
	assert.Equal(t, time.Second, rc.BaseDelay)
	assert.Equal(t, 30*time.Second, rc.AttemptTimeout)
}
