package model

import "testing"

func TestThreadStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  ThreadStatus
		to    ThreadStatus
		valid bool
	}{
		// Valid transitions
		{ThreadBlocked, ThreadReady, true},
		{ThreadReady, ThreadRunning, true},
		{ThreadRunning, ThreadReady, true},
		{ThreadRunning, ThreadBlocked, true},
		{ThreadRunning, ThreadDying, true},

		// Invalid transitions
		{ThreadBlocked, ThreadRunning, false},
		{ThreadReady, ThreadBlocked, false},
		{ThreadReady, ThreadDying, false},
		{ThreadDying, ThreadReady, false},
		{ThreadDying, ThreadRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("ThreadStatus(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestThreadStatus_IsTerminal(t *testing.T) {
	for _, s := range []ThreadStatus{ThreadRunning, ThreadReady, ThreadBlocked} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
	if !ThreadDying.IsTerminal() {
		t.Error("DYING.IsTerminal() = false, want true")
	}
}

func TestRunState_CanTransitionTo(t *testing.T) {
	if !RunStateRunning.CanTransitionTo(RunStateCompleted) {
		t.Error("RUNNING -> COMPLETED should be valid")
	}
	if RunStateCompleted.CanTransitionTo(RunStateRunning) {
		t.Error("COMPLETED -> RUNNING should be invalid")
	}
	if !RunStateFailed.IsTerminal() {
		t.Error("FAILED should be terminal")
	}
}

func TestTickStats_Total(t *testing.T) {
	s := TickStats{IdleTicks: 3, KernelTicks: 4, UserTicks: 5}
	if got := s.Total(); got != 12 {
		t.Errorf("Total() = %d, want 12", got)
	}
}
