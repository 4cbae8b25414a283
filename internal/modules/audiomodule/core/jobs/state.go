package jobs

import (
	"fmt"

	"github.com/mantonx/audioforge/internal/database"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
)

// transitions lists the allowed target states for each job state.
var transitions = map[database.JobStatus][]database.JobStatus{
	database.JobStatusQueued: {
		database.JobStatusProcessing, // claimed by a worker
		database.JobStatusFailed,     // rejected before processing started
	},
	database.JobStatusProcessing: {
		database.JobStatusCompleted,
		database.JobStatusFailed,
	},
	database.JobStatusCompleted: {},
	database.JobStatusFailed:    {},
}

// StateTransitionError represents an invalid state transition error
type StateTransitionError struct {
	JobID      string
	FromStatus database.JobStatus
	ToStatus   database.JobStatus
	Reason     string
	Err        error
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for job %s: %s -> %s (%s)",
		e.JobID, e.FromStatus, e.ToStatus, e.Reason)
}

// Unwrap exposes ErrInvalidTransition and the specific cause, if any.
func (e *StateTransitionError) Unwrap() []error {
	if e.Err != nil {
		return []error{aferrors.ErrInvalidTransition, e.Err}
	}
	return []error{aferrors.ErrInvalidTransition}
}

// ValidateTransition checks a state change against the transition table.
func ValidateTransition(jobID string, from, to database.JobStatus) error {
	allowed, ok := transitions[from]
	if !ok {
		return &StateTransitionError{JobID: jobID, FromStatus: from, ToStatus: to, Reason: "unknown state"}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	reason := "transition not allowed"
	if from.IsTerminal() {
		reason = "job already finished"
	}
	return &StateTransitionError{JobID: jobID, FromStatus: from, ToStatus: to, Reason: reason}
}
