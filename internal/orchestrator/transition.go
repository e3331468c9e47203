package orchestrator

import (
	"fmt"

	"github.com/fyrsmithlabs/excelmind/internal/quality"
)

// Event drives the task state machine.
type Event string

const (
	EventStart           Event = "start"
	EventObserved        Event = "observed"
	EventPlanned         Event = "planned"
	EventActOK           Event = "act_ok"
	EventActRetry        Event = "act_retry"
	EventActRepair       Event = "act_exhausted_repair"
	EventActFailed       Event = "act_exhausted_fail"
	EventQualityPassed   Event = "quality_passed"
	EventQualityRepair   Event = "quality_repair"
	EventQualityCritical Event = "quality_critical"
	EventQualityAccepted Event = "quality_accepted"
	EventRepaired        Event = "repaired"
	EventRepairExhausted Event = "repair_exhausted"
	EventCancel          Event = "cancel"
	EventFail            Event = "fail"
)

var transitions = map[Status]map[Event]Status{
	StatusIdle: {
		EventStart: StatusObserving,
	},
	StatusObserving: {
		EventObserved: StatusThinking,
	},
	StatusThinking: {
		EventPlanned: StatusActing,
	},
	StatusActing: {
		EventActOK:     StatusEvaluating,
		EventActRetry:  StatusActing,
		EventActRepair: StatusRepairing,
		EventActFailed: StatusFailed,
	},
	StatusEvaluating: {
		EventQualityPassed:   StatusCompleted,
		EventQualityRepair:   StatusRepairing,
		EventQualityCritical: StatusFailed,
		EventQualityAccepted: StatusCompleted,
	},
	StatusRepairing: {
		EventRepaired:        StatusActing,
		EventRepairExhausted: StatusFailed,
	},
}

// Transition returns the status reached from s on e. Cancel and Fail are
// accepted from every non-terminal status; terminal statuses accept nothing.
func Transition(s Status, e Event) (Status, error) {
	if s.IsTerminal() {
		return s, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, s)
	}
	switch e {
	case EventCancel:
		return StatusCancelled, nil
	case EventFail:
		return StatusFailed, nil
	}
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}

// Decide picks the EVALUATING outcome for a report.
func Decide(r *quality.Report, threshold float64, autoRepair bool) Event {
	switch {
	case r.OverallQuality >= threshold:
		return EventQualityPassed
	case autoRepair && r.HasRepairable():
		return EventQualityRepair
	case r.CriticalIssues > 0:
		return EventQualityCritical
	}
	return EventQualityAccepted
}

var phasePercentage = map[Status]int{
	StatusIdle:       0,
	StatusObserving:  10,
	StatusThinking:   25,
	StatusActing:     50,
	StatusRepairing:  60,
	StatusEvaluating: 80,
	StatusCompleted:  100,
}
