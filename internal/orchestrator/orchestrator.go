package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/excelmind/internal/events"
	"github.com/fyrsmithlabs/excelmind/internal/llm"
	"github.com/fyrsmithlabs/excelmind/internal/logging"
	"github.com/fyrsmithlabs/excelmind/internal/memo"
	"github.com/fyrsmithlabs/excelmind/internal/privacy"
	"github.com/fyrsmithlabs/excelmind/internal/quality"
	"github.com/fyrsmithlabs/excelmind/internal/retry"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

const instrumentationName = "github.com/fyrsmithlabs/excelmind/internal/orchestrator"

// Orchestrator runs tasks. It is safe for concurrent use; concurrent tasks
// share only the client, the registry, and the log book.
type Orchestrator struct {
	cfg       Config
	client    llm.Client
	registry  *tools.Registry
	validator *quality.Validator
	masker    privacy.Masker
	publisher events.Publisher
	logger    *logging.Logger
	tracer    trace.Tracer
	retryOpts []retry.Option

	mu       sync.RWMutex
	progress ProgressCallback
	tasks    map[string]*session

	logs *logbook
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithValidator replaces the default quality pipeline.
func WithValidator(v *quality.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithMasker sets the masker applied to observation samples.
func WithMasker(m privacy.Masker) Option {
	return func(o *Orchestrator) { o.masker = m }
}

// WithPublisher publishes every state snapshot.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRetryOptions passes options to every task's retry strategy.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *Orchestrator) { o.retryOpts = append(o.retryOpts, opts...) }
}

// WithProgress sets the initial progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// New creates an Orchestrator. Zero numeric fields of cfg are defaulted,
// except MaxRetries where zero means no retries; build cfg from
// DefaultConfig or ConfigFromSettings rather than a zero Config.
func New(cfg Config, client llm.Client, registry *tools.Registry, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	cfg.applyDefaults()
	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	o := &Orchestrator{
		cfg:      cfg,
		client:   client,
		registry: registry,
		tasks:    make(map[string]*session),
		logs:     newLogbook(defaultLogbookSize, level),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	o.logger = o.logger.Named("orchestrator")
	if o.validator == nil {
		o.validator = quality.NewValidator(quality.WithLogger(o.logger.Underlying()))
	}
	if o.masker == nil {
		m, err := privacy.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create masker: %w", err)
		}
		o.masker = m
	}
	if o.publisher == nil {
		o.publisher = events.Nop{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// UpdateProgress replaces the progress callback. A nil cb disables it.
func (o *Orchestrator) UpdateProgress(cb ProgressCallback) {
	o.mu.Lock()
	o.progress = cb
	o.mu.Unlock()
}

// Cancel asks a running task to stop. It reports whether the task was found.
// In-flight calls finish; no new call starts.
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.RLock()
	s, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	s.cancelled.Store(true)
	s.log(s.logCtx, zapcore.InfoLevel, "task cancellation requested")
	return true
}

// Running returns the IDs of tasks in progress.
func (o *Orchestrator) Running() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.tasks))
	for id := range o.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Logs returns the log book across tasks, oldest first.
func (o *Orchestrator) Logs() []LogEntry { return o.logs.all() }

// ClearLogs empties the log book.
func (o *Orchestrator) ClearLogs() { o.logs.clear() }

func (o *Orchestrator) callback() ProgressCallback {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}

// ExecuteTask runs prompt against files to completion. It never returns nil
// and never panics; failures are reported on the result.
func (o *Orchestrator) ExecuteTask(ctx context.Context, prompt string, files []workbook.File) (res *TaskResult) {
	s := o.newSession(prompt, files)
	ctx = logging.WithSessionID(logging.WithTaskID(ctx, s.state.ID), s.sessionID)
	s.logCtx = context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			s.log(s.logCtx, zapcore.ErrorLevel, "task panicked", zap.Any("panic", p))
			s.abort(fmt.Errorf("internal error: %v", p))
			res = s.result(s.logCtx)
		}
	}()

	if err := validateTask(prompt, files); err != nil {
		s.log(ctx, zapcore.WarnLevel, "task rejected", zap.Error(err))
		s.abort(err)
		return s.result(ctx)
	}

	o.register(s)
	defer o.unregister(s)
	defer s.memo.Clear()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TotalTimeout)
	defer cancel()
	ctx = workbook.WithFiles(ctx, s.files)
	ctx = llm.WithFingerprint(ctx, s.files.Fingerprint())

	ctx, span := o.tracer.Start(ctx, "orchestrator.ExecuteTask", trace.WithAttributes(
		attribute.String("task.id", s.state.ID),
		attribute.Int("task.files", len(files)),
	))
	defer span.End()

	s.log(ctx, zapcore.InfoLevel, "task started", zap.Int("files", len(files)))
	s.drive(ctx)

	res = s.result(ctx)
	span.SetAttributes(attribute.String("task.status", string(res.Status)))
	return res
}

func validateTask(prompt string, files []workbook.File) error {
	if strings.TrimSpace(prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if len(files) == 0 {
		return &ValidationError{Field: "files", Reason: "must contain at least one file"}
	}
	for i, f := range files {
		if err := f.Validate(); err != nil {
			return &ValidationError{Field: fmt.Sprintf("files[%d]", i), Reason: err.Error()}
		}
	}
	return nil
}

func (o *Orchestrator) register(s *session) {
	o.mu.Lock()
	o.tasks[s.state.ID] = s
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(s *session) {
	o.mu.Lock()
	delete(o.tasks, s.state.ID)
	o.mu.Unlock()
}

// session is the state of one ExecuteTask call.
type session struct {
	o         *Orchestrator
	sessionID string
	prompt    string
	files     workbook.Set
	memo      *memo.Memorandum
	budget    *retry.Budget
	retry     *retry.Strategy
	start     time.Time
	logCtx    context.Context
	cancelled atomic.Bool

	mu    sync.Mutex // guards state
	state TaskState

	notifyMu sync.Mutex // serializes callbacks

	// Driver state, only touched by the ExecuteTask goroutine.
	obs          Observation
	conversation []llm.Message
	pending      *llm.Response
	toolOutputs  []any
	answer       string
	data         any
	lastErr      error
	repairKey    string
	final        error
}

func (o *Orchestrator) newSession(prompt string, files []workbook.File) *session {
	now := time.Now()
	s := &session{
		o:         o,
		sessionID: uuid.NewString(),
		prompt:    prompt,
		files:     workbook.Set(files),
		memo:      memo.New(),
		budget:    retry.NewBudget(o.cfg.MaxGlobalRetries),
		start:     now,
		logCtx:    context.Background(),
		state: TaskState{
			ID:         uuid.NewString(),
			Status:     StatusIdle,
			Progress:   Progress{CurrentPhase: string(StatusIdle)},
			Steps:      []ExecutionStep{},
			RetryCount: make(map[string]int),
			StartedAt:  now,
		},
	}

	cfg := o.cfg.Retry
	opts := []retry.Option{retry.WithLogger(o.logger.Underlying())}
	opts = append(opts, o.retryOpts...)
	opts = append(opts, retry.WithOnRetry(s.onRetry))
	s.retry = retry.New(cfg, opts...).WithBudget(s.budget)
	return s
}

// drive runs phases until the task reaches a terminal status.
func (s *session) drive(ctx context.Context) {
	s.fire(ctx, EventStart, "Task started")
	for {
		status := s.status()
		if status.IsTerminal() {
			return
		}
		if err := s.checkCancelled(ctx); err != nil {
			s.stop(ctx, err)
			return
		}
		switch status {
		case StatusObserving:
			s.observePhase(ctx)
		case StatusThinking:
			s.thinkPhase(ctx)
		case StatusActing:
			s.actPhase(ctx)
		case StatusEvaluating:
			s.evaluatePhase(ctx)
		case StatusRepairing:
			s.repairPhase(ctx)
		default:
			s.stop(ctx, fmt.Errorf("no handler for status %s", status))
			return
		}
	}
}

func (s *session) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// checkCancelled reports a Cancel request or a finished context.
func (s *session) checkCancelled(ctx context.Context) error {
	if s.cancelled.Load() {
		return ErrCancelled
	}
	return ctx.Err()
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// interrupted stops the task if it was cancelled or ran out of time.
func (s *session) interrupted(ctx context.Context) bool {
	err := s.checkCancelled(ctx)
	if err == nil {
		return false
	}
	s.stop(ctx, err)
	return true
}

// stop settles the task as CANCELLED or FAILED.
func (s *session) stop(ctx context.Context, err error) {
	s.mu.Lock()
	for i := range s.state.Steps {
		if s.state.Steps[i].Status.rank() < StepCompleted.rank() {
			s.state.Steps[i].Status = StepCancelled
		}
	}
	s.mu.Unlock()

	if isCancellation(err) {
		s.final = ErrCancelled
		s.fire(ctx, EventCancel, "Task cancelled")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("task exceeded total timeout of %s: %w", s.o.cfg.TotalTimeout, err)
	}
	s.final = err
	s.fire(ctx, EventFail, "Task failed: "+err.Error())
}

// abort fails a task that never started.
func (s *session) abort(err error) {
	s.mu.Lock()
	if !s.state.Status.IsTerminal() {
		s.state.Status = StatusFailed
		s.state.Progress.CurrentPhase = string(StatusFailed)
		s.state.Progress.Message = err.Error()
	}
	s.mu.Unlock()
	s.final = err
}

// fire applies e and notifies observers.
func (s *session) fire(ctx context.Context, e Event, msg string) {
	s.mu.Lock()
	from := s.state.Status
	next, err := Transition(from, e)
	if err != nil {
		s.mu.Unlock()
		s.log(ctx, zapcore.ErrorLevel, "rejected state transition", zap.Error(err))
		return
	}
	s.state.Status = next
	if p, ok := phasePercentage[next]; ok {
		s.state.Progress.Percentage = p
	}
	s.state.Progress.CurrentPhase = string(next)
	s.state.Progress.Message = msg
	snap := s.state.Snapshot()
	s.mu.Unlock()

	s.log(logging.WithPhase(ctx, string(next)), zapcore.DebugLevel, "state transition",
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("event", string(e)),
	)
	s.notify(snap)
}

// notify runs the progress callback and publishes the snapshot. Callback
// panics are logged and swallowed.
func (s *session) notify(snap TaskState) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if cb := s.o.callback(); cb != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					s.log(s.logCtx, zapcore.WarnLevel, "progress callback panicked", zap.Any("panic", p))
				}
			}()
			cb(snap)
		}()
	}

	if err := s.o.publisher.Publish(s.logCtx, snap.ID, events.KindProgress, snap); err != nil {
		s.log(s.logCtx, zapcore.WarnLevel, "failed to publish progress", zap.Error(err))
	}
}

func (s *session) onRetry(ev retry.RetryEvent) {
	RetriesTotal.WithLabelValues("call").Inc()
	s.mu.Lock()
	s.state.RetryCount[ev.Op]++
	s.mu.Unlock()

	s.log(s.logCtx, zapcore.InfoLevel, "retrying call",
		zap.String("op", ev.Op),
		zap.Int("attempt", ev.Attempt),
		zap.Duration("backoff", ev.Delay),
		zap.Error(ev.Err),
	)
	if s.status() == StatusActing {
		s.fire(s.logCtx, EventActRetry, fmt.Sprintf("Retrying %s (attempt %d failed)", ev.Op, ev.Attempt))
	}
}

func (s *session) log(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field) {
	s.o.logger.Log(ctx, level, msg, fields...)
	s.o.logs.add(LogEntry{
		Time:    time.Now(),
		Level:   level.String(),
		TaskID:  s.state.ID,
		Phase:   logging.PhaseFromContext(ctx),
		Message: msg,
	}, level)
}

// beginStep appends an in-progress step and returns its index.
func (s *session) beginStep(t StepType, stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Steps = append(s.state.Steps, ExecutionStep{
		ID:         uuid.NewString(),
		Type:       t,
		Status:     StepInProgress,
		Stage:      stage,
		StepNumber: len(s.state.Steps) + 1,
	})
	return len(s.state.Steps) - 1
}

// endStep settles a step. A step never moves back in status.
func (s *session) endStep(idx int, result any, err error, retries int, d time.Duration) {
	status := StepCompleted
	switch {
	case isCancellation(err):
		status = StepCancelled
	case err != nil:
		status = StepFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.state.Steps[idx]
	if st.Status.rank() >= status.rank() {
		return
	}
	st.Status = status
	st.Result = result
	if err != nil {
		st.Error = err.Error()
	}
	if retries > 0 {
		st.RetryCount = retries
	}
	st.Duration = d
}

// addStep appends a finished step.
func (s *session) addStep(step ExecutionStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.ID = uuid.NewString()
	step.StepNumber = len(s.state.Steps) + 1
	s.state.Steps = append(s.state.Steps, step)
}

// phase starts a span and returns a func that ends it and records the
// phase duration.
func (s *session) phase(ctx context.Context, name string) (context.Context, func()) {
	ctx = logging.WithPhase(ctx, name)
	ctx, span := s.o.tracer.Start(ctx, "orchestrator."+name)
	start := time.Now()
	return ctx, func() {
		PhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// result builds the TaskResult and publishes the final snapshot.
func (s *session) result(ctx context.Context) *TaskResult {
	s.mu.Lock()
	snap := s.state.Snapshot()
	s.mu.Unlock()

	now := time.Now()
	res := &TaskResult{
		Status:           snap.Status,
		Success:          snap.Status == StatusCompleted,
		Steps:            snap.Steps,
		QualityReport:    snap.QualityReport,
		ExecutionSummary: summarize(snap.Steps, now.Sub(s.start)),
		Memorandum:       s.memo.Entries(),
		Metadata: Metadata{
			CompletedAt: now,
			SessionID:   s.sessionID,
			TaskID:      snap.ID,
		},
	}
	res.ExecutionSummary.RetriesUsed = s.budget.Used()
	res.ExecutionSummary.RetriesRemaining = s.budget.Remaining()
	if res.Success {
		res.Data = s.data
	} else {
		err := s.final
		if err == nil && snap.Status == StatusCancelled {
			err = ErrCancelled
		}
		if err == nil {
			err = errors.New("task did not complete")
		}
		res.Error = err.Error()
		res.ErrorKind = kindOf(err)
	}

	TasksTotal.WithLabelValues(string(snap.Status)).Inc()
	s.log(ctx, zapcore.InfoLevel, "task finished",
		zap.String("status", string(snap.Status)),
		zap.Int("steps", len(snap.Steps)),
		zap.Duration("duration", res.ExecutionSummary.TotalTime),
		zap.Int("retries_used", res.ExecutionSummary.RetriesUsed),
		zap.Int("retries_remaining", res.ExecutionSummary.RetriesRemaining),
		zap.Int("memo_entries", len(res.Memorandum)),
		zap.String("error_kind", string(res.ErrorKind)),
	)
	if err := s.o.publisher.Publish(s.logCtx, snap.ID, events.KindCompleted, res); err != nil {
		s.log(s.logCtx, zapcore.WarnLevel, "failed to publish result", zap.Error(err))
	}
	res.Logs = s.o.logs.forTask(snap.ID)
	return res
}
