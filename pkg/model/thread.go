package model

// ThreadStatus represents the lifecycle state of a kernel thread.
type ThreadStatus string

const (
	ThreadRunning ThreadStatus = "RUNNING"
	ThreadReady   ThreadStatus = "READY"
	ThreadBlocked ThreadStatus = "BLOCKED"
	ThreadDying   ThreadStatus = "DYING"
)

// String returns the string representation of the thread status.
func (s ThreadStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the thread will never run again.
func (s ThreadStatus) IsTerminal() bool {
	return s == ThreadDying
}

// ValidThreadTransitions defines the allowed status transitions for threads.
// A new thread starts BLOCKED.
var ValidThreadTransitions = map[ThreadStatus][]ThreadStatus{
	ThreadBlocked: {ThreadReady},
	ThreadReady:   {ThreadRunning},
	ThreadRunning: {ThreadReady, ThreadBlocked, ThreadDying},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s ThreadStatus) CanTransitionTo(next ThreadStatus) bool {
	for _, allowed := range ValidThreadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ThreadInfo is a point-in-time view of one thread control block.
type ThreadInfo struct {
	TID          int          `json:"tid"`
	Name         string       `json:"name"`
	Status       ThreadStatus `json:"status"`
	Priority     int          `json:"priority"`
	BasePriority int          `json:"base_priority"`
	Nice         int          `json:"nice"`
	RecentCPU    int          `json:"recent_cpu"` // 100 times the fixed-point value, rounded
	WakeupTick   int64        `json:"wakeup_tick,omitempty"`
	Donors       []int        `json:"donors,omitempty"`
	WaitingOn    int          `json:"waiting_on,omitempty"` // TID of the lock holder, 0 if none
	StackUsed    int          `json:"stack_used"`
}

// TickStats counts timer ticks by what was running when they arrived.
type TickStats struct {
	IdleTicks   int64 `json:"idle_ticks"`
	KernelTicks int64 `json:"kernel_ticks"`
	UserTicks   int64 `json:"user_ticks"`
}

// Total returns the number of ticks counted.
func (s TickStats) Total() int64 {
	return s.IdleTicks + s.KernelTicks + s.UserTicks
}
