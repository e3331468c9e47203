package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Check names.
const (
	StructureCheckName   = "structure"
	ConsistencyCheckName = "consistency"
	TraceCheckName       = "traceability"
)

// StructureCheck verifies a result exists and has a usable shape.
type StructureCheck struct{}

func (StructureCheck) Name() string { return StructureCheckName }

func (StructureCheck) Run(_ context.Context, artifact any, _ EvalContext) ([]Issue, error) {
	empty := Issue{
		Severity:   SeverityCritical,
		Message:    "result is empty",
		Repairable: true,
		Suggestion: "Return the computed result; use a JSON object or array for tabular answers.",
	}

	switch a := normalize(artifact).(type) {
	case nil:
		return []Issue{empty}, nil
	case string:
		if strings.TrimSpace(a) == "" {
			return []Issue{empty}, nil
		}
		return []Issue{{
			Severity: SeverityInfo,
			Message:  "result is free text rather than structured data",
		}}, nil
	case map[string]any:
		if len(a) == 0 {
			return []Issue{empty}, nil
		}
	case []any:
		if len(a) == 0 {
			return []Issue{empty}, nil
		}
		objects := 0
		for _, el := range a {
			if _, ok := el.(map[string]any); ok {
				objects++
			}
		}
		if objects > 0 && objects < len(a) {
			return []Issue{{
				Severity:   SeverityWarning,
				Message:    fmt.Sprintf("array mixes %d objects with %d scalars", objects, len(a)-objects),
				Repairable: true,
				Suggestion: "Make every element of the result array the same shape.",
			}}, nil
		}
	}
	return nil, nil
}

// maxMagnitude flags numbers too large to come from a spreadsheet.
const maxMagnitude = 1e15

// ConsistencyCheck looks for impossible numbers and rows with differing
// columns.
type ConsistencyCheck struct{}

func (ConsistencyCheck) Name() string { return ConsistencyCheckName }

func (ConsistencyCheck) Run(_ context.Context, artifact any, _ EvalContext) ([]Issue, error) {
	var issues []Issue
	walk(normalize(artifact), "$", func(path string, v any) {
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				issues = append(issues, Issue{
					Severity:   SeverityCritical,
					Message:    fmt.Sprintf("%s is not a finite number", path),
					Repairable: true,
					Suggestion: "Guard divisions and replace non-finite values with null.",
				})
			} else if math.Abs(n) > maxMagnitude {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("%s has implausible magnitude %g", path, n),
				})
			}
		case []any:
			if key := rowKeyMismatch(n); key != "" {
				issues = append(issues, Issue{
					Severity:   SeverityWarning,
					Message:    fmt.Sprintf("%s rows have inconsistent columns (%s)", path, key),
					Repairable: true,
					Suggestion: "Use the same keys in every row of the result.",
				})
			}
		}
	})
	return issues, nil
}

// rowKeyMismatch returns a description of the first row whose keys differ
// from the first row's, or "".
func rowKeyMismatch(rows []any) string {
	var want string
	for i, el := range rows {
		m, ok := el.(map[string]any)
		if !ok {
			return ""
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		got := strings.Join(keys, ",")
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			return fmt.Sprintf("row %d has [%s], row 0 has [%s]", i, got, want)
		}
	}
	return ""
}

// TraceCheck flags numbers in the result that match no input cell, tool
// output, or count derived from the input.
type TraceCheck struct{}

func (TraceCheck) Name() string { return TraceCheckName }

func (TraceCheck) Run(_ context.Context, artifact any, ec EvalContext) ([]Issue, error) {
	trace := buildTraceSet(ec)
	a := normalize(artifact)

	if text, ok := a.(string); ok {
		var issues []Issue
		for _, n := range numbersInText(text) {
			if !trace.contains(n) {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("number %g in the answer does not appear in the data or tool outputs", n),
				})
			}
		}
		return issues, nil
	}

	var issues []Issue
	total, untraced := 0, 0
	walk(a, "$", func(path string, v any) {
		n, ok := v.(float64)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return
		}
		total++
		if trace.contains(n) {
			return
		}
		untraced++
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s = %g cannot be traced to the data or tool outputs", path, n),
		})
	})

	if untraced >= 2 && untraced*2 > total {
		issues = append(issues, Issue{
			Severity:   SeverityCritical,
			Message:    fmt.Sprintf("%d of %d numbers in the result look fabricated", untraced, total),
			Repairable: true,
			Suggestion: "Compute values with the available tools and copy them from tool outputs instead of estimating.",
		})
	}
	return issues, nil
}

// accuracy is the share of result numbers that can be traced.
func accuracy(artifact any, ec EvalContext) float64 {
	trace := buildTraceSet(ec)
	a := normalize(artifact)

	var nums []float64
	if text, ok := a.(string); ok {
		nums = numbersInText(text)
	} else {
		walk(a, "$", func(_ string, v any) {
			if n, ok := v.(float64); ok && !math.IsNaN(n) && !math.IsInf(n, 0) {
				nums = append(nums, n)
			}
		})
	}
	if len(nums) == 0 {
		return 1
	}
	traced := 0
	for _, n := range nums {
		if trace.contains(n) {
			traced++
		}
	}
	return float64(traced) / float64(len(nums))
}
