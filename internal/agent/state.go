package agent

import (
	"errors"

	"github.com/polzovatel/browser-task-agent/internal/plan"
)

// ErrMaxAttemptsExceeded is the abort reason recorded when the retry budget runs out.
var ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")

// Phase is a state of the task state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlanning
	PhaseExecutingStep
	PhaseVerifyingStep
	PhaseBreakdown
	PhaseCompleted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlanning:
		return "planning"
	case PhaseExecutingStep:
		return "executing_step"
	case PhaseVerifyingStep:
		return "verifying_step"
	case PhaseBreakdown:
		return "breakdown"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ExecutionState is the position of a running task. It is passed by value
// through every transition and discarded when the task ends.
type ExecutionState struct {
	Task         *plan.Plan
	StepIndex    int
	SubStepIndex int
	Completed    bool
	AttemptsUsed int
	Phase        Phase

	// StepAttempts counts cycles spent on the current step.
	StepAttempts int
	// Feedback describes why the previous cycle of this step failed.
	Feedback string
}

// RetryPolicy bounds how many step-execution cycles a task may spend.
type RetryPolicy struct {
	// MaxStepAttempts caps cycles on one step; zero disables the cap.
	MaxStepAttempts int
	// MaxTotalAttempts caps cycles for the task; zero means twice the planned steps.
	MaxTotalAttempts int
}

func (p RetryPolicy) budget(steps int) int {
	if p.MaxTotalAttempts > 0 {
		return p.MaxTotalAttempts
	}
	return 2 * steps
}

func (p RetryPolicy) stepExhausted(attempts int) bool {
	return p.MaxStepAttempts > 0 && attempts >= p.MaxStepAttempts
}

// Result is what a finished or aborted task reports.
type Result struct {
	Instruction string
	Plan        plan.Plan
	// SingleShot is set when the planning reply could not be parsed.
	SingleShot     bool
	Status         Phase
	AbortReason    error
	StepsCompleted int
	AttemptsUsed   int
	// Analyses holds the answers of ANALYZE commands in execution order.
	Analyses []string
	// Message is the argument of the COMPLETE command that ended the task, if any.
	Message  string
	FinalURL string
	// Trace lists the transitions of this task only.
	Trace []Transition
}

func (r Result) Completed() bool {
	return r.Status == PhaseCompleted
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
