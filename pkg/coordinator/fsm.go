package coordinator

import (
	"fmt"

	"github.com/kilnproject/kiln/pkg/types"
)

// ValidTransitions is the job state machine. A status maps to the set
// of statuses it may move to; self-loops are implicitly allowed.
var ValidTransitions = map[types.JobStatus][]types.JobStatus{
	types.StatusUnassigned: {
		types.StatusReadyToStart,
		types.StatusCancelled,
	},
	types.StatusReadyToStart: {
		types.StatusInProgress,
		types.StatusCancelled,
		types.StatusUnassigned, // for reassignment
	},
	types.StatusInProgress: {
		types.StatusFinished,
		types.StatusErrored,
		types.StatusCancelled,
		types.StatusReadyToStart, // for retries
	},
	types.StatusFinished: {}, // terminal
	types.StatusErrored: {
		types.StatusReadyToStart, // allow retry
		types.StatusFailed,       // max retries exceeded
	},
	types.StatusFailed: {}, // terminal
	types.StatusCancelled: {
		types.StatusReadyToStart, // allow restart
	},
	types.StatusPaused: {
		types.StatusReadyToStart,
		types.StatusCancelled,
	},
}

// IsValidTransition reports whether a job may move from current to
// next. Restating the current status is always allowed.
func IsValidTransition(current, next types.JobStatus) bool {
	if current == next {
		return true
	}
	for _, allowed := range ValidTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the non-reflexive transitions out of a
// status. The slice is never nil so it serialises as a JSON array.
func AllowedTransitions(current types.JobStatus) []types.JobStatus {
	allowed := ValidTransitions[current]
	if allowed == nil {
		return []types.JobStatus{}
	}
	return allowed
}

// TransitionError rejects a PUT that requests an illegal status change
type TransitionError struct {
	Current   types.JobStatus
	Requested types.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.Current, e.Requested)
}

// Allowed lists the transitions the client could have requested.
func (e *TransitionError) Allowed() []types.JobStatus {
	return AllowedTransitions(e.Current)
}
