package thread

import (
	"errors"
	"fmt"

	"github.com/me/kthreads/pkg/model"
)

// Stats returns the tick accounting since boot.
func (s *System) Stats() model.TickStats { return s.stats }

// Initial returns the initial thread.
func (s *System) Initial() *Thread { return s.initial }

// Idle returns the idle thread, nil before Start.
func (s *System) Idle() *Thread { return s.idle }

// Intr returns the interrupt control the system was built with.
func (s *System) Intr() Interrupts { return s.intr }

// ReadyLen returns the number of threads on the ready queue.
func (s *System) ReadyLen() int { return s.ready.Len() }

// Lookup returns the live thread with the given TID, or nil.
func (s *System) Lookup(tid TID) *Thread {
	for _, t := range s.all {
		if t.tid == tid {
			return t
		}
	}
	return nil
}

// Threads returns a view of every live thread in creation order.
func (s *System) Threads() []model.ThreadInfo {
	old := s.intr.Disable()
	defer s.intr.SetLevel(old)

	out := make([]model.ThreadInfo, 0, len(s.all))
	for _, t := range s.all {
		info := model.ThreadInfo{
			TID:          int(t.tid),
			Name:         t.name,
			Status:       t.status,
			Priority:     t.priority,
			BasePriority: t.basePriority,
			Nice:         t.nice,
			RecentCPU:    t.recentCPU.MulInt(100).Round(),
			StackUsed:    t.StackUsed(),
		}
		if t.link == linkSleep {
			info.WakeupTick = t.wakeupTick
		}
		for _, d := range t.donations {
			info.Donors = append(info.Donors, int(d.tid))
		}
		if t.waitOnLock != nil {
			if h := t.waitOnLock.Holder(); h != nil {
				info.WaitingOn = int(h.tid)
			}
		}
		out = append(out, info)
	}
	return out
}

// CheckInvariants verifies the scheduler's bookkeeping and returns every
// violation found.
func (s *System) CheckInvariants() error {
	old := s.intr.Disable()
	defer s.intr.SetLevel(old)

	var errs []error
	running := 0
	for _, t := range s.all {
		if !isThread(t) {
			errs = append(errs, fmt.Errorf("thread %s: bad magic", t.name))
		}
		if t.status == model.ThreadRunning {
			running++
			if t != s.current {
				errs = append(errs, fmt.Errorf("thread %s is RUNNING but not current", t.name))
			}
		}
		if (t.status == model.ThreadReady) != (t.link == linkReady) {
			errs = append(errs, fmt.Errorf("thread %s: status %s on the %s list", t.name, t.status, t.link))
		}
		if t.link == linkSleep {
			if t.status != model.ThreadBlocked {
				errs = append(errs, fmt.Errorf("sleeping thread %s is %s", t.name, t.status))
			}
			if t.wakeupTick < s.nextTickToAwake {
				errs = append(errs, fmt.Errorf("thread %s wakes at %d before cached next wakeup %d", t.name, t.wakeupTick, s.nextTickToAwake))
			}
		}
		if s.cfg.MLFQS {
			continue
		}
		if t.priority < t.basePriority {
			errs = append(errs, fmt.Errorf("thread %s: priority %d below base %d", t.name, t.priority, t.basePriority))
		}
		for _, d := range t.donations {
			if d.donee != t {
				errs = append(errs, fmt.Errorf("donor %s of %s donates to %v", d.name, t.name, d.donee))
			}
			if d.priority > t.priority {
				errs = append(errs, fmt.Errorf("thread %s: priority %d below donor %s at %d", t.name, t.priority, d.name, d.priority))
			}
		}
	}
	if running != 1 {
		errs = append(errs, fmt.Errorf("%d threads RUNNING", running))
	}
	return errors.Join(errs...)
}
