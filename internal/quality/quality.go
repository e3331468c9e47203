// Package quality scores task results before the orchestrator accepts them.
//
// A Validator runs a fixed pipeline of checks over an artifact and folds
// their issues into a Report. Checks never mutate the artifact.
package quality

import (
	"context"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/excelmind/internal/workbook"
	"go.uber.org/zap"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Score weights per issue.
const (
	criticalPenalty = 0.30
	warningPenalty  = 0.05
	infoPenalty     = 0.01
)

// Issue is one finding of one check.
type Issue struct {
	Check      string   `json:"check"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Repairable bool     `json:"repairable"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Metrics are per-dimension scores in [0,1].
type Metrics struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Accuracy     float64 `json:"accuracy"`
}

// Report is the outcome of one evaluation.
type Report struct {
	OverallQuality float64  `json:"overallQuality"`
	TotalIssues    int      `json:"totalIssues"`
	CriticalIssues int      `json:"criticalIssues"`
	Suggestions    []string `json:"suggestions"`
	Metrics        Metrics  `json:"metrics"`
	Issues         []Issue  `json:"issues"`
}

// HasRepairable reports whether any issue can be fixed by another attempt.
func (r *Report) HasRepairable() bool {
	for _, is := range r.Issues {
		if is.Repairable {
			return true
		}
	}
	return false
}

// EvalContext is what the artifact may legitimately be derived from.
type EvalContext struct {
	Prompt      string
	Files       workbook.Set
	ToolOutputs []any
}

// Check is one stage of the pipeline.
type Check interface {
	Name() string
	Run(ctx context.Context, artifact any, ec EvalContext) ([]Issue, error)
}

// CheckFunc adapts a function to Check.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context, artifact any, ec EvalContext) ([]Issue, error)
}

func (c CheckFunc) Name() string { return c.CheckName }

func (c CheckFunc) Run(ctx context.Context, artifact any, ec EvalContext) ([]Issue, error) {
	return c.Fn(ctx, artifact, ec)
}

// Validator is safe for concurrent use.
type Validator struct {
	checks []Check
	logger *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithChecks replaces the default pipeline.
func WithChecks(checks ...Check) Option {
	return func(v *Validator) { v.checks = checks }
}

// NewValidator returns a validator running structure, consistency, and
// traceability checks in that order.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		checks: []Check{StructureCheck{}, ConsistencyCheck{}, TraceCheck{}},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Evaluate runs every check and aggregates the result.
func (v *Validator) Evaluate(ctx context.Context, artifact any, ec EvalContext) *Report {
	var issues []Issue
	perCheck := make(map[string][]Issue, len(v.checks))

	for _, c := range v.checks {
		found := v.runCheck(ctx, c, artifact, ec)
		perCheck[c.Name()] = found
		issues = append(issues, found...)
	}

	// Accuracy walks the artifact like the checks do and gets the same guard.
	var acc float64
	issues = append(issues, v.runCheck(ctx, CheckFunc{
		CheckName: accuracyName,
		Fn: func(_ context.Context, artifact any, ec EvalContext) ([]Issue, error) {
			acc = accuracy(artifact, ec)
			return nil, nil
		},
	}, artifact, ec)...)

	r := &Report{
		OverallQuality: Score(issues),
		TotalIssues:    len(issues),
		Issues:         issues,
		Suggestions:    []string{},
	}
	if r.Issues == nil {
		r.Issues = []Issue{}
	}
	seen := map[string]bool{}
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			r.CriticalIssues++
		}
		if is.Suggestion != "" && !seen[is.Suggestion] {
			seen[is.Suggestion] = true
			r.Suggestions = append(r.Suggestions, is.Suggestion)
		}
	}
	r.Metrics = Metrics{
		Completeness: Score(perCheck[StructureCheckName]),
		Consistency:  Score(perCheck[ConsistencyCheckName]),
		Accuracy:     acc,
	}

	v.logger.Debug("quality evaluated",
		zap.Float64("overall_quality", r.OverallQuality),
		zap.Int("total_issues", r.TotalIssues),
		zap.Int("critical_issues", r.CriticalIssues),
	)
	return r
}

const accuracyName = "accuracy"

// runCheck converts a panic or error into a critical, non-repairable issue.
func (v *Validator) runCheck(ctx context.Context, c Check, artifact any, ec EvalContext) (issues []Issue) {
	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error("quality check panicked",
				zap.String("check", c.Name()),
				zap.Any("panic", rec),
			)
			issues = []Issue{{
				Check:    c.Name(),
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("check %s panicked: %v", c.Name(), rec),
			}}
		}
	}()

	found, err := c.Run(ctx, artifact, ec)
	if err != nil {
		v.logger.Warn("quality check failed", zap.String("check", c.Name()), zap.Error(err))
		return []Issue{{
			Check:    c.Name(),
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("check %s failed: %v", c.Name(), err),
		}}
	}
	for i := range found {
		if found[i].Check == "" {
			found[i].Check = c.Name()
		}
	}
	return found
}

// Score is 1 minus weighted penalties, clamped to [0,1]. More critical
// issues never raise the score.
func Score(issues []Issue) float64 {
	penalty := 0.0
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			penalty += criticalPenalty
		case SeverityWarning:
			penalty += warningPenalty
		default:
			penalty += infoPenalty
		}
	}
	return math.Max(0, math.Min(1, 1-penalty))
}
