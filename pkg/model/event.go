package model

import "time"

// EventKind names a scheduler event.
type EventKind string

const (
	EventCreate   EventKind = "create"
	EventRun      EventKind = "run"
	EventYield    EventKind = "yield"
	EventBlock    EventKind = "block"
	EventUnblock  EventKind = "unblock"
	EventSleep    EventKind = "sleep"
	EventWake     EventKind = "wake"
	EventExit     EventKind = "exit"
	EventDonate   EventKind = "donate"
	EventPriority EventKind = "priority"
	EventNice     EventKind = "nice"
	EventLog      EventKind = "log"
)

// Event is one entry of a run's trace.
type Event struct {
	RunID    string    `json:"run_id,omitempty"`
	Seq      int       `json:"seq"`
	Tick     int64     `json:"tick"`
	Kind     EventKind `json:"kind"`
	TID      int       `json:"tid"`
	Thread   string    `json:"thread"`
	Priority int       `json:"priority"`
	Detail   string    `json:"detail,omitempty"`
}

// RunState represents the lifecycle state of a workload run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStateRunning: {RunStateCompleted, RunStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Run is one execution of a workload on a freshly booted kernel.
type Run struct {
	ID          string     `json:"id"`
	Workload    string     `json:"workload"`
	MLFQS       bool       `json:"mlfqs"`
	State       RunState   `json:"state"`
	Ticks       int64      `json:"ticks"`
	Stats       TickStats  `json:"stats"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ThreadSummary is the per-thread outcome of a run.
type ThreadSummary struct {
	RunID         string  `json:"run_id,omitempty"`
	TID           int     `json:"tid"`
	Name          string  `json:"name"`
	FinalPriority int     `json:"final_priority"`
	Runs          int     `json:"runs"`
	FirstRun      int64   `json:"first_run"`
	Exited        int64   `json:"exited"` // -1 if the thread never exited
	WaitP50       float64 `json:"wait_p50"`
	WaitP95       float64 `json:"wait_p95"`
}
