package thread

import (
	"math"
	"strconv"

	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/pkg/model"
)

// Sleep blocks the running thread until the timer reaches tick wakeup.
func (s *System) Sleep(wakeup int64) {
	cur := s.Current()
	kdebug.Assert(cur != s.idle, "cur != idle_thread")

	old := s.intr.Disable()
	cur.wakeupTick = wakeup
	s.sleepers.Push(cur)
	if wakeup < s.nextTickToAwake {
		s.nextTickToAwake = wakeup
	}
	s.emit(model.EventSleep, cur, strconv.FormatInt(wakeup, 10))
	s.Block()
	s.intr.SetLevel(old)
}

// Awake unblocks every sleeping thread whose wakeup tick is at or before
// now. It is called from the timer interrupt on every tick and returns
// immediately when no sleeper is due.
func (s *System) Awake(now int64) {
	if now < s.nextTickToAwake {
		return
	}

	old := s.intr.Disable()
	next := int64(math.MaxInt64)
	woke := 0
	for _, t := range s.sleepers.Threads() {
		if t.wakeupTick > now {
			next = min(next, t.wakeupTick)
			continue
		}
		s.sleepers.Remove(t)
		s.emit(model.EventWake, t, "")
		s.Unblock(t)
		woke++
	}
	s.nextTickToAwake = next
	s.intr.SetLevel(old)

	if woke > 0 {
		s.TestMaxPriority()
	}
}

// NextWakeup returns the earliest wakeup tick among sleeping threads, or
// math.MaxInt64 if none sleep.
func (s *System) NextWakeup() int64 { return s.nextTickToAwake }

// Tick does the scheduler's per-tick accounting. It runs in the timer
// interrupt handler.
func (s *System) Tick() {
	t := s.current
	switch {
	case t == s.idle:
		s.stats.IdleTicks++
	case t.AddressSpace != nil:
		s.stats.UserTicks++
	default:
		s.stats.KernelTicks++
	}

	if s.cfg.MLFQS {
		s.mlfqsTick()
	}

	s.threadTicks++
	if s.threadTicks >= s.cfg.TimeSlice {
		s.intr.YieldOnReturn()
	}
}
