package run

import (
	"fmt"

	"github.com/localops/localops/internal/domain"
)

// Transitions is the run state machine: source status -> allowed targets.
var Transitions = map[Status][]Status{
	StatusPending:        {StatusPlanned, StatusCancelled},
	StatusPlanned:        {StatusAwaitingReview, StatusCancelled},
	StatusAwaitingReview: {StatusRunning, StatusCancelled},
	StatusRunning:        {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusSucceeded:      {},
	StatusFailed:         {},
	StatusCancelled:      {},
}

// StepTransitions is the step state machine.
var StepTransitions = map[StepStatus][]StepStatus{
	StepQueued:    {StepRunning, StepSkipped},
	StepRunning:   {StepSucceeded, StepFailed},
	StepSucceeded: {},
	StepFailed:    {},
	StepSkipped:   {},
}

// CanTransition reports whether a run may move from cur to next.
func CanTransition(cur, next Status) bool {
	for _, t := range Transitions[cur] {
		if t == next {
			return true
		}
	}
	return false
}

// CanTransitionStep reports whether a step may move from cur to next.
func CanTransitionStep(cur, next StepStatus) bool {
	for _, t := range StepTransitions[cur] {
		if t == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition (wrapped with the exact
// "invalid transition CUR -> NEXT" message the API surfaces) when the
// run transition is not allowed.
func CheckTransition(cur, next Status) error {
	if !CanTransition(cur, next) {
		return fmt.Errorf("%w %s -> %s", domain.ErrInvalidTransition, cur, next)
	}
	return nil
}

// CheckStepTransition is the step-level counterpart of CheckTransition.
func CheckStepTransition(cur, next StepStatus) error {
	if !CanTransitionStep(cur, next) {
		return fmt.Errorf("%w %s -> %s", domain.ErrInvalidTransition, cur, next)
	}
	return nil
}

// IsTerminal reports whether a run status admits no further transitions.
func (s Status) IsTerminal() bool {
	return len(Transitions[s]) == 0
}

// IsTerminal reports whether a step status admits no further transitions.
func (s StepStatus) IsTerminal() bool {
	return len(StepTransitions[s]) == 0
}
