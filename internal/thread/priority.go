package thread

import (
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/pkg/model"
)

// ComparePriority orders threads by effective priority, highest first.
func ComparePriority(a, b *Thread) bool {
	return a.priority > b.priority
}

// TestMaxPriority preempts the running thread if a ready thread has a
// higher priority. In an external interrupt handler the yield is deferred
// until the handler returns.
func (s *System) TestMaxPriority() {
	old := s.intr.Disable()
	cur := s.current
	top := s.ready.Max()
	preempt := top != nil && (cur == s.idle || top.priority > cur.priority)
	s.intr.SetLevel(old)

	if !preempt {
		return
	}
	if s.intr.Context() {
		s.intr.YieldOnReturn()
	} else {
		s.Yield()
	}
}

// Priority returns the running thread's effective priority.
func (s *System) Priority() int {
	return s.Current().priority
}

// SetPriority sets the running thread's base priority. Donations it holds
// still apply. It is ignored under MLFQS, which computes priorities itself.
func (s *System) SetPriority(priority int) {
	if s.cfg.MLFQS {
		return
	}
	kdebug.Assertf(priority >= PriMin && priority <= PriMax, "priority %d in [PRI_MIN, PRI_MAX]", priority)

	old := s.intr.Disable()
	cur := s.Current()
	cur.basePriority = priority
	s.RefreshPriority()
	s.emit(model.EventPriority, cur, "")
	s.intr.SetLevel(old)

	s.TestMaxPriority()
}

// MLFQS reports whether the multi-level feedback queue scheduler is active.
func (s *System) MLFQS() bool { return s.cfg.MLFQS }
