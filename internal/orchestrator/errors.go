package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/excelmind/internal/llm"
	"github.com/fyrsmithlabs/excelmind/internal/quality"
	"github.com/fyrsmithlabs/excelmind/internal/retry"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

// ErrorKind classifies why a task did not complete.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindToolNotFound  ErrorKind = "tool_not_found"
	KindToolExecution ErrorKind = "tool_execution"
	KindAIService     ErrorKind = "ai_service"
	KindQualityGate   ErrorKind = "quality_gate"
	KindCancelled     ErrorKind = "cancelled"
	KindTimeout       ErrorKind = "timeout"
	KindRetryBudget   ErrorKind = "retry_budget"
	KindInternal      ErrorKind = "internal"
)

// ErrCancelled marks a task stopped by Cancel or by its caller.
var ErrCancelled = errors.New("task cancelled")

// ErrInvalidTransition is returned by Transition for an undefined move.
var ErrInvalidTransition = errors.New("invalid state transition")

// ToolNotFoundError is returned when the model names an unregistered tool.
type ToolNotFoundError = tools.ToolNotFoundError

// ValidationError rejects a task before any step runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Retryable() bool { return false }

// ToolExecutionError wraps a failed tool handler. Whether it is retried
// depends on the cause.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func (e *ToolExecutionError) Retryable() bool { return retry.IsRetryable(e.Err) }

// AIServiceError wraps a failed model call.
type AIServiceError struct {
	Kind llm.ErrorKind
	Err  error
}

func (e *AIServiceError) Error() string {
	return fmt.Sprintf("ai service (%s): %v", e.Kind, e.Err)
}

func (e *AIServiceError) Unwrap() error { return e.Err }

func (e *AIServiceError) Retryable() bool { return retry.IsRetryable(e.Err) }

// QualityGateFailure is the final error of a task whose result never met
// the quality threshold.
type QualityGateFailure struct {
	Score     float64
	Threshold float64
	Issues    []quality.Issue
}

func (e *QualityGateFailure) Error() string {
	msg := fmt.Sprintf("quality %.2f below threshold %.2f", e.Score, e.Threshold)
	for _, is := range e.Issues {
		if is.Severity == quality.SeverityCritical {
			return msg + ": " + is.Message
		}
	}
	return msg
}

// kindOf maps an error to the kind reported on TaskResult.
func kindOf(err error) ErrorKind {
	var (
		ve *ValidationError
		nf *tools.ToolNotFoundError
		te *ToolExecutionError
		ae *AIServiceError
		qf *QualityGateFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, retry.ErrBudgetExhausted):
		return KindRetryBudget
	case errors.As(err, &nf):
		return KindToolNotFound
	case errors.As(err, &te):
		return KindToolExecution
	case errors.As(err, &ae):
		return KindAIService
	case errors.As(err, &qf):
		return KindQualityGate
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindInternal
}

// repairable reports whether another ACT round could get past err.
func repairable(err error) bool {
	var ae *AIServiceError
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, retry.ErrBudgetExhausted):
		return false
	case errors.As(err, &ae):
		return ae.Retryable()
	}
	return true
}
