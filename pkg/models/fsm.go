package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states.
// The pipeline is linear; failed is reachable from every non-terminal state.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusCompiling: true,
		JobStatusFailed:    true,
	},
	JobStatusCompiling: {
		JobStatusRunningSequential: true,
		JobStatusFailed:            true,
	},
	JobStatusRunningSequential: {
		JobStatusRunningPthread: true,
		JobStatusFailed:         true,
	},
	JobStatusRunningPthread: {
		JobStatusRunningOpenMP: true,
		JobStatusFailed:        true,
	},
	JobStatusRunningOpenMP: {
		JobStatusConverting: true,
		JobStatusFailed:     true,
	},
	JobStatusConverting: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// ValidateTransition checks if a state transition is valid.
// Staying in the same non-terminal state is allowed so a stage can publish progress.
func ValidateTransition(from, to JobStatus) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if from == to && !IsTerminalState(from) {
		return nil
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed
}

// IsActiveState returns true if the job's pipeline is executing a stage
func IsActiveState(state JobStatus) bool {
	switch state {
	case JobStatusCompiling, JobStatusRunningSequential, JobStatusRunningPthread,
		JobStatusRunningOpenMP, JobStatusConverting:
		return true
	}
	return false
}

// RunningStatus returns the status a job holds while a variant executes
func RunningStatus(v Variant) JobStatus {
	switch v {
	case VariantPthread:
		return JobStatusRunningPthread
	case VariantOpenMP:
		return JobStatusRunningOpenMP
	default:
		return JobStatusRunningSequential
	}
}
