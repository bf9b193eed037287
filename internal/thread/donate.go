package thread

import (
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/pkg/model"
)

// LockWait records that the running thread is about to wait for l, which
// another thread holds, and donates its priority down the chain of holders.
func (s *System) LockWait(l Lock) {
	cur := s.Current()
	cur.waitOnLock = l
	if s.cfg.MLFQS {
		return
	}
	holder := l.Holder()
	kdebug.Assert(holder != nil && holder != cur, "lock held by another thread")
	kdebug.Assert(cur.donee == nil, "thread donates to one holder at a time")
	holder.donations = append(holder.donations, cur)
	cur.donee = holder
	s.DonatePriority()
}

// LockAcquired records that the running thread got the lock it waited for.
func (s *System) LockAcquired() {
	s.Current().waitOnLock = nil
}

// LockReleased drops the donations made for l and recomputes the running
// thread's priority.
func (s *System) LockReleased(l Lock) {
	if s.cfg.MLFQS {
		return
	}
	s.RemoveWithLock(l)
	s.RefreshPriority()
}

// DonatePriority walks from the running thread along wait-on-lock links,
// raising each holder to at least the priority of the thread waiting on it.
// The walk ends at the first holder that needs no raise, so a cycle of
// waiters terminates and is left for deadlock detection.
func (s *System) DonatePriority() {
	origin := s.current
	t := origin
	for depth := 0; t.waitOnLock != nil; depth++ {
		kdebug.Assertf(depth < len(s.all), "donation chain deeper than %d threads", len(s.all))
		holder := t.waitOnLock.Holder()
		if holder == nil {
			return
		}
		// Holders further down already carry at least this priority.
		if holder.priority >= t.priority {
			return
		}
		holder.priority = t.priority
		s.emit(model.EventDonate, holder, "from "+origin.name)
		t = holder
	}
}

// RemoveWithLock drops every donor of the running thread that is waiting
// for l.
func (s *System) RemoveWithLock(l Lock) {
	cur := s.current
	kept := cur.donations[:0]
	for _, d := range cur.donations {
		if d.waitOnLock == l {
			d.donee = nil
			continue
		}
		kept = append(kept, d)
	}
	clear(cur.donations[len(kept):])
	cur.donations = kept
}

// RefreshPriority recomputes the running thread's effective priority from
// its base priority and its remaining donors.
func (s *System) RefreshPriority() {
	s.refresh(s.current)
}

func (s *System) refresh(t *Thread) {
	p := t.basePriority
	for _, d := range t.donations {
		p = max(p, d.priority)
	}
	t.priority = p
}
