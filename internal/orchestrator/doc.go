// Package orchestrator drives spreadsheet tasks through a bounded
// observe/think/act/evaluate/repair loop.
//
// # Overview
//
// ExecuteTask takes a natural-language prompt and already-parsed files and
// walks a state machine:
//
//	IDLE → OBSERVING → THINKING → ACTING → EVALUATING → COMPLETED
//	                                 ↑          │
//	                                 └─ REPAIRING ←┘
//
// Any non-terminal state may move to CANCELLED or FAILED. Transition is a
// pure function over (status, event) and can be tested on its own.
//
// # Phases
//
//   - OBSERVING builds a structural summary of the files (sheet names,
//     headers, row counts, masked sample rows). Only the summary reaches the
//     model.
//   - THINKING makes one model call with the summary, the Memorandum digest
//     and the tool definitions. If the model is unavailable the task falls
//     back to analyzing every sheet.
//   - ACTING runs tool calls and further model turns, at most MaxToolDepth
//     round trips and MaxToolsPerTurn calls per turn. Calls in one turn may
//     run in parallel.
//   - EVALUATING scores the final answer with the quality validator.
//   - REPAIRING adds a corrective instruction and returns to ACTING, at most
//     MaxRetries times per trigger and MaxGlobalRetries per task overall.
//
// Every model and tool call goes through the retry strategy and is bounded
// by TimeoutPerStep. Each call is recorded as an ExecutionStep.
//
// # Cancellation
//
// Cancel(taskID) is cooperative: the flag is checked at the start of every
// phase and before every call. Calls already running finish; the task then
// settles as CANCELLED with its completed steps.
//
// # Observability
//
// Progress callbacks receive a TaskState snapshot after every transition.
// Snapshots are also published through an events.Publisher. Phases and calls
// are traced with OpenTelemetry; counters and histograms are registered with
// Prometheus. Log lines go to zap and to an in-memory log book exposed by
// Logs.
package orchestrator
