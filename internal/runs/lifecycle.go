package runs

import (
	"errors"
	"fmt"
)

// Sentinel errors for state-transition validation, usable with errors.Is().
var (
	// ErrInvalidTransition indicates a transition not permitted by the state machine.
	ErrInvalidTransition = errors.New("invalid ingestion run state transition")

	// ErrTerminalStateImmutable indicates an attempt to transition out of a terminal state.
	ErrTerminalStateImmutable = errors.New("terminal run status is immutable")
)

// ValidateStateTransition validates a status transition for an ingestion run.
//
// Valid transitions:
//   - pending → running
//   - running → {merge_running, merge_failed}
//   - merge_running → {merge_done, merge_failed}
//   - merge_done/merge_failed → same state (idempotent re-check)
//
// Every other transition, including any attempt to leave a terminal state
// for a different one, is invalid.
func ValidateStateTransition(from, to Status) error {
	if from.IsTerminal() {
		if from != to {
			return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
		}

		return nil
	}

	valid := map[Status][]Status{
		StatusPending:      {StatusRunning},
		StatusRunning:       {StatusMergeRunning, StatusMergeFailed},
		StatusMergeRunning: {StatusMergeDone, StatusMergeFailed},
	}

	for _, candidate := range valid[from] {
		if candidate == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
