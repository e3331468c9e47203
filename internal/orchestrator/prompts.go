package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/excelmind/internal/quality"
)

const systemPrompt = `You are ExcelMind, a data analyst working on spreadsheet data.
You only see a structural summary of the data. Use the provided tools to compute
anything that depends on cell values; never invent numbers.
When you have the answer, reply with a short explanation followed by the result
as JSON in a fenced block:
` + "```json\n<result>\n```" + `
Use an array of objects with the same keys for tabular results.`

func thinkPrompt(userPrompt, observation, notes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", userPrompt)
	fmt.Fprintf(&b, "Data:\n%s\n", observation)
	if notes != "" {
		fmt.Fprintf(&b, "\nNotes so far:\n%s\n", notes)
	}
	b.WriteString("\nPlan the work. Call the tools you need, or answer directly if no computation is required.")
	return b.String()
}

const finalAnswerPrompt = "Tool budget reached. Give the final answer now using the results above."

// repairPrompt turns a failed attempt into a corrective instruction.
func repairPrompt(cycle int, report *quality.Report, lastErr error, notes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt %d needs another pass.\n", cycle)
	if lastErr != nil {
		fmt.Fprintf(&b, "The previous attempt failed: %v\n", lastErr)
	}
	if report != nil && len(report.Issues) > 0 {
		fmt.Fprintf(&b, "Quality %.2f. Issues:\n", report.OverallQuality)
		for _, is := range report.Issues {
			if is.Severity == quality.SeverityInfo {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s\n", is.Severity, is.Message)
		}
		if len(report.Suggestions) > 0 {
			b.WriteString("Suggestions:\n")
			for _, s := range report.Suggestions {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		}
	}
	if notes != "" {
		fmt.Fprintf(&b, "Notes so far:\n%s\n", notes)
	}
	b.WriteString("Fix the problems and answer again. Only report numbers that come from the data or tool results.")
	return b.String()
}
