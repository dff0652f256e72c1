package runs

import (
	"errors"
	"testing"
)

func TestValidateStateTransition_ValidPath(t *testing.T) {
	transitions := []struct{ from, to Status }{
		{StatusPending, StatusRunning},
		{StatusRunning, StatusMergeRunning},
		{StatusMergeRunning, StatusMergeDone},
		{StatusMergeRunning, StatusMergeFailed},
		{StatusRunning, StatusMergeFailed},
	}

	for _, tt := range transitions {
		if err := ValidateStateTransition(tt.from, tt.to); err != nil {
			t.Errorf("ValidateStateTransition(%s, %s) unexpected error: %v", tt.from, tt.to, err)
		}
	}
}

func TestValidateStateTransition_TerminalIsIdempotent(t *testing.T) {
	if err := ValidateStateTransition(StatusMergeDone, StatusMergeDone); err != nil {
		t.Errorf("expected idempotent terminal transition to succeed: %v", err)
	}
}

func TestValidateStateTransition_TerminalIsImmutable(t *testing.T) {
	err := ValidateStateTransition(StatusMergeDone, StatusMergeRunning)
	if !errors.Is(err, ErrTerminalStateImmutable) {
		t.Errorf("error = %v, want %v", err, ErrTerminalStateImmutable)
	}
}

func TestValidateStateTransition_InvalidSkipsStage(t *testing.T) {
	err := ValidateStateTransition(StatusPending, StatusMergeRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestValidateStateTransition_InvalidBackwards(t *testing.T) {
	err := ValidateStateTransition(StatusMergeRunning, StatusPending)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want %v", err, ErrInvalidTransition)
	}
}
