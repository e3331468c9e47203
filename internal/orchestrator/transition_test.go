package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/excelmind/internal/quality"
)

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusIdle, EventStart, StatusObserving},
		{StatusObserving, EventObserved, StatusThinking},
		{StatusThinking, EventPlanned, StatusActing},
		{StatusActing, EventActOK, StatusEvaluating},
		{StatusActing, EventActRetry, StatusActing},
		{StatusActing, EventActRepair, StatusRepairing},
		{StatusActing, EventActFailed, StatusFailed},
		{StatusEvaluating, EventQualityPassed, StatusCompleted},
		{StatusEvaluating, EventQualityRepair, StatusRepairing},
		{StatusEvaluating, EventQualityCritical, StatusFailed},
		{StatusEvaluating, EventQualityAccepted, StatusCompleted},
		{StatusRepairing, EventRepaired, StatusActing},
		{StatusRepairing, EventRepairExhausted, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Transition(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_CancelAndFailFromAnyActiveStatus(t *testing.T) {
	active := []Status{StatusIdle, StatusObserving, StatusThinking, StatusActing, StatusEvaluating, StatusRepairing}
	for _, s := range active {
		got, err := Transition(s, EventCancel)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got, s)

		got, err = Transition(s, EventFail)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got, s)
	}
}

func TestTransition_TerminalRejectsEverything(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		for _, e := range []Event{EventStart, EventCancel, EventFail, EventRepaired} {
			got, err := Transition(s, e)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, s, got)
		}
	}
}

func TestTransition_UnknownEdge(t *testing.T) {
	got, err := Transition(StatusObserving, EventActOK)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusObserving, got)

	_, err = Transition(StatusIdle, EventRepaired)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDecide(t *testing.T) {
	repairable := quality.Issue{Severity: quality.SeverityCritical, Repairable: true}
	fatal := quality.Issue{Severity: quality.SeverityCritical}

	tests := []struct {
		name       string
		report     *quality.Report
		autoRepair bool
		want       Event
	}{
		{
			name:   "at threshold passes",
			report: &quality.Report{OverallQuality: 0.8},
			want:   EventQualityPassed,
		},
		{
			name:       "repairable below threshold",
			report:     &quality.Report{OverallQuality: 0.6, CriticalIssues: 1, Issues: []quality.Issue{repairable}},
			autoRepair: true,
			want:       EventQualityRepair,
		},
		{
			name:   "repairable but repair disabled",
			report: &quality.Report{OverallQuality: 0.6, CriticalIssues: 1, Issues: []quality.Issue{repairable}},
			want:   EventQualityCritical,
		},
		{
			name:       "critical and not repairable",
			report:     &quality.Report{OverallQuality: 0.7, CriticalIssues: 1, Issues: []quality.Issue{fatal}},
			autoRepair: true,
			want:       EventQualityCritical,
		},
		{
			name:       "low but harmless",
			report:     &quality.Report{OverallQuality: 0.75, Issues: []quality.Issue{{Severity: quality.SeverityWarning}}},
			autoRepair: true,
			want:       EventQualityAccepted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.report, 0.8, tt.autoRepair))
		})
	}
}

func TestPhasePercentage_Monotonic(t *testing.T) {
	path := []Status{StatusIdle, StatusObserving, StatusThinking, StatusActing, StatusEvaluating, StatusCompleted}
	for i := 1; i < len(path); i++ {
		assert.Greater(t, phasePercentage[path[i]], phasePercentage[path[i-1]], path[i])
	}
	_, ok := phasePercentage[StatusFailed]
	assert.False(t, ok)
}
