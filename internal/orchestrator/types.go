package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/excelmind/internal/memo"
	"github.com/fyrsmithlabs/excelmind/internal/quality"
)

// Status is the task state machine position.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusObserving  Status = "OBSERVING"
	StatusThinking   Status = "THINKING"
	StatusActing     Status = "ACTING"
	StatusEvaluating Status = "EVALUATING"
	StatusRepairing  Status = "REPAIRING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepType names the phase a step belongs to.
type StepType string

const (
	StepObserve  StepType = "OBSERVE"
	StepThink    StepType = "THINK"
	StepAct      StepType = "ACT"
	StepEvaluate StepType = "EVALUATE"
	StepRepair   StepType = "REPAIR"
	StepComplete StepType = "COMPLETE"
)

// StepStatus is the lifecycle of one step. It only moves forward.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepCancelled  StepStatus = "CANCELLED"
)

func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepInProgress:
		return 1
	}
	return 2
}

// Step stages. Tool steps use "tool:<name>".
const (
	StageObserve  = "observe"
	StageThink    = "think"
	StageLLM      = "llm"
	StageEvaluate = "evaluate"
	StageRepair   = "repair"
	StageComplete = "complete"
	stageToolPfx  = "tool:"
)

// ToolStage returns the stage of a call to the named tool.
func ToolStage(name string) string { return stageToolPfx + name }

// Progress is shown to the caller after every transition.
type Progress struct {
	Percentage   int    `json:"percentage"`
	CurrentPhase string `json:"currentPhase"`
	Message      string `json:"message"`
}

// ExecutionStep records one unit of work. StepNumber is strictly
// increasing within a task.
type ExecutionStep struct {
	ID         string        `json:"id"`
	Type       StepType      `json:"type"`
	Status     StepStatus    `json:"status"`
	Stage      string        `json:"stage"`
	StepNumber int           `json:"stepNumber"`
	Code       string        `json:"code,omitempty"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retryCount"`
	Duration   time.Duration `json:"duration"`
}

// TaskState is the live state of one ExecuteTask call. Callbacks receive
// copies made by Snapshot.
type TaskState struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	Progress      Progress        `json:"progress"`
	Steps         []ExecutionStep `json:"steps"`
	RetryCount    map[string]int  `json:"retryCount"`
	QualityReport *quality.Report `json:"qualityReport,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
}

// Snapshot returns a copy that shares nothing mutable with s.
func (s *TaskState) Snapshot() TaskState {
	out := *s
	out.Steps = make([]ExecutionStep, len(s.Steps))
	copy(out.Steps, s.Steps)
	out.RetryCount = make(map[string]int, len(s.RetryCount))
	for k, v := range s.RetryCount {
		out.RetryCount[k] = v
	}
	if s.QualityReport != nil {
		r := *s.QualityReport
		out.QualityReport = &r
	}
	return out
}

// ProgressCallback observes state transitions. It runs synchronously on the
// task's goroutine.
type ProgressCallback func(state TaskState)

// ExecutionSummary aggregates the steps of a finished task.
type ExecutionSummary struct {
	TotalSteps      int           `json:"totalSteps"`
	SuccessfulSteps int           `json:"successfulSteps"`
	FailedSteps     int           `json:"failedSteps"`
	RetriedSteps    int           `json:"retriedSteps"`
	TotalTime       time.Duration `json:"totalTime"`

	// RetriesUsed and RetriesRemaining report the task's shared retry budget.
	RetriesUsed      int `json:"retriesUsed"`
	RetriesRemaining int `json:"retriesRemaining"`
}

// Metadata identifies a finished task.
type Metadata struct {
	CompletedAt time.Time `json:"completedAt"`
	SessionID   string    `json:"sessionId"`
	TaskID      string    `json:"taskId"`
}

// TaskResult is the outcome of ExecuteTask. It is always non-nil.
type TaskResult struct {
	Success          bool             `json:"success"`
	Data             any              `json:"data,omitempty"`
	Error            string           `json:"error,omitempty"`
	ErrorKind        ErrorKind        `json:"errorKind,omitempty"`
	Status           Status           `json:"status"`
	Logs             []LogEntry       `json:"logs"`
	Steps            []ExecutionStep  `json:"steps"`
	ExecutionSummary ExecutionSummary `json:"executionSummary"`
	QualityReport    *quality.Report  `json:"qualityReport,omitempty"`
	Memorandum       []memo.Entry     `json:"memorandum,omitempty"`
	Metadata         Metadata         `json:"metadata"`
}

func summarize(steps []ExecutionStep, total time.Duration) ExecutionSummary {
	s := ExecutionSummary{TotalSteps: len(steps), TotalTime: total}
	for _, st := range steps {
		switch st.Status {
		case StepCompleted:
			s.SuccessfulSteps++
		case StepFailed:
			s.FailedSteps++
		}
		if st.RetryCount > 0 {
			s.RetriedSteps++
		}
	}
	return s
}
