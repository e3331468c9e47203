// Package retry runs fallible operations under a bounded backoff policy.
//
// A Strategy is stateless with respect to payload: it only decides when and
// how many times an operation runs. The attempt number passed to the
// operation lets callers revise input between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fyrsmithlabs/excelmind/internal/config"
	"go.uber.org/zap"
)

// Policy selects how the delay grows between attempts.
type Policy string

const (
	Exponential Policy = "exponential"
	Linear      Policy = "linear"
	Fixed       Policy = "fixed"
	Immediate   Policy = "immediate"
)

// Config configures a Strategy.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// Policy is the backoff policy.
	// Default: exponential
	Policy Policy

	// BaseDelay is the first delay.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps every delay.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Jitter is the ± fraction applied to each delay, in [0,1].
	Jitter float64

	// AttemptTimeout bounds each attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Policy:     Exponential,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     0.1,
	}
}

// FromSettings builds a Config from file settings.
func FromSettings(o config.OrchestratorConfig, r config.RetryConfig) Config {
	return Config{
		MaxRetries:     o.MaxRetries,
		Policy:         Policy(r.Policy),
		BaseDelay:      r.BaseDelay.Duration(),
		MaxDelay:       r.MaxDelay.Duration(),
		Jitter:         r.Jitter,
		AttemptTimeout: o.TimeoutPerStep.Duration(),
	}
}

// ApplyDefaults sets default values for unset fields. MaxRetries of zero is
// a valid setting and is left alone; negative values become zero.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Policy == "" {
		c.Policy = defaults.Policy
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
}

// Delay returns the un-jittered wait before retry number attempt (zero-based).
func (c Config) Delay(attempt int) time.Duration {
	var d time.Duration
	switch c.Policy {
	case Immediate:
		return 0
	case Fixed:
		d = c.BaseDelay
	case Linear:
		d = c.BaseDelay * time.Duration(attempt+1)
	default:
		f := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
		if f > float64(c.MaxDelay) {
			return c.MaxDelay
		}
		d = time.Duration(f)
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last underlying error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// ErrBudgetExhausted is returned when a shared Budget has no retries left.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// Budget is a retry allowance shared by every call in one task.
type Budget struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewBudget allows max retries in total.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Take consumes one retry, reporting false when none are left.
func (b *Budget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Used returns the retries consumed so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the retries left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max - b.used
}

// RetryEvent describes one scheduled retry.
type RetryEvent struct {
	Op      string
	Attempt int
	Err     error
	Delay   time.Duration
}

// Strategy executes operations under a Config. It is safe for concurrent use.
type Strategy struct {
	cfg      Config
	logger   *zap.Logger
	classify func(error) bool
	sleep    func(context.Context, time.Duration) error
	onRetry  func(RetryEvent)
	budget   *Budget

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

// WithClassifier replaces IsRetryable.
func WithClassifier(fn func(error) bool) Option {
	return func(s *Strategy) { s.classify = fn }
}

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Strategy) { s.sleep = fn }
}

// WithOnRetry registers a hook called before each retry wait.
func WithOnRetry(fn func(RetryEvent)) Option {
	return func(s *Strategy) { s.onRetry = fn }
}

// New creates a Strategy.
func New(cfg Config, opts ...Option) *Strategy {
	cfg.ApplyDefaults()
	s := &Strategy{
		cfg:      cfg,
		logger:   zap.NewNop(),
		classify: IsRetryable,
		sleep:    Sleep,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Strategy) Config() Config { return s.cfg }

// WithBudget returns a copy of s whose retries also draw from b.
func (s *Strategy) WithBudget(b *Budget) *Strategy {
	return &Strategy{
		cfg:      s.cfg,
		logger:   s.logger,
		classify: s.classify,
		sleep:    s.sleep,
		onRetry:  s.onRetry,
		budget:   b,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Backoff returns the jittered delay before retry number attempt.
func (s *Strategy) Backoff(attempt int) time.Duration {
	d := s.cfg.Delay(attempt)
	if s.cfg.Jitter == 0 || d == 0 {
		return d
	}
	s.randMu.Lock()
	r := s.rand.Float64()
	s.randMu.Unlock()
	d = time.Duration(float64(d) * (1 + s.cfg.Jitter*(2*r-1)))
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs fn until it succeeds, fails fatally, or exhausts its retries.
// It returns the number of attempts made.
func (s *Strategy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) (int, error) {
	_, attempts, err := Run(ctx, s, op, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return attempts, err
}

// Run is Do for operations that produce a value.
func Run[T any](ctx context.Context, s *Strategy, op string, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	startTime := time.Now()
	maxAttempts := s.cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt, err
		}

		v, err := runAttempt(ctx, s.cfg.AttemptTimeout, attempt, fn)
		if err == nil {
			if attempt > 0 {
				s.logger.Info("operation recovered after retries",
					zap.String("op", op),
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return v, attempt + 1, nil
		}
		lastErr = err

		// The caller's context ending is never a retryable condition.
		if ctx.Err() != nil {
			return zero, attempt + 1, ctx.Err()
		}
		if !s.classify(err) {
			s.logger.Debug("error is not retryable",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return zero, attempt + 1, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if s.budget != nil && !s.budget.Take() {
			s.logger.Warn("retry budget exhausted",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return zero, attempt + 1, fmt.Errorf("%s: %w: %w", op, ErrBudgetExhausted, err)
		}

		delay := s.Backoff(attempt)
		s.logger.Info("retrying operation after transient error",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if s.onRetry != nil {
			s.onRetry(RetryEvent{Op: op, Attempt: attempt + 1, Err: err, Delay: delay})
		}
		if err := s.sleep(ctx, delay); err != nil {
			return zero, attempt + 1, err
		}
	}

	s.logger.Warn("operation failed after all retries exhausted",
		zap.String("op", op),
		zap.Int("total_attempts", maxAttempts),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)
	return zero, maxAttempts, &ExhaustedError{Op: op, Attempts: maxAttempts, Err: lastErr}
}

// runAttempt applies the per-attempt timeout.
func runAttempt[T any](ctx context.Context, timeout time.Duration, attempt int, fn func(context.Context, int) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx, attempt)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
