// Package synch provides the kernel's blocking synchronization primitives:
// counting semaphores, locks with priority donation and condition
// variables. All of them are built on turning interrupts off and blocking
// the running thread.
package synch

import (
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/thread"
)

// Semaphore is a nonnegative counter with two atomic operations: Down waits
// for the value to become positive and decrements it, Up increments it and
// wakes one waiter.
type Semaphore struct {
	sys     *thread.System
	value   int
	waiters *thread.Queue
}

// NewSemaphore returns a semaphore with the given initial value.
func NewSemaphore(sys *thread.System, value int) *Semaphore {
	kdebug.Assert(value >= 0, "value >= 0")
	return &Semaphore{sys: sys, value: value, waiters: thread.NewWaitQueue()}
}

// Value returns the current value.
func (s *Semaphore) Value() int { return s.value }

// Waiters returns the number of threads blocked in Down.
func (s *Semaphore) Waiters() int { return s.waiters.Len() }

// Down waits for the value to become positive and then decrements it. It
// may sleep, so it must not be called from an interrupt handler.
func (s *Semaphore) Down() {
	in := s.sys.Intr()
	kdebug.Assert(!in.Context(), "!intr_context ()")

	old := in.Disable()
	for s.value == 0 {
		s.waiters.Push(s.sys.Current())
		s.sys.Block()
	}
	s.value--
	in.SetLevel(old)
}

// TryDown decrements the value if it is positive and reports whether it
// did. It never sleeps and may be called from an interrupt handler.
func (s *Semaphore) TryDown() bool {
	in := s.sys.Intr()
	old := in.Disable()
	defer in.SetLevel(old)

	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the value and wakes the highest-priority waiter, if any.
// It may be called from an interrupt handler.
func (s *Semaphore) Up() {
	in := s.sys.Intr()
	old := in.Disable()
	if t := s.waiters.PopMax(); t != nil {
		s.sys.Unblock(t)
	}
	s.value++
	s.sys.TestMaxPriority()
	in.SetLevel(old)
}

// Lock is a semaphore with value one plus an owner. Only the thread that
// acquired a lock may release it, and locks do not nest. A thread waiting
// for a lock donates its priority to the holder.
type Lock struct {
	sys    *thread.System
	holder *thread.Thread
	sema   *Semaphore
}

// NewLock returns an unheld lock.
func NewLock(sys *thread.System) *Lock {
	return &Lock{sys: sys, sema: NewSemaphore(sys, 1)}
}

// Holder returns the thread holding the lock, or nil.
func (l *Lock) Holder() *thread.Thread { return l.holder }

// HeldByCurrent reports whether the running thread holds the lock.
func (l *Lock) HeldByCurrent() bool {
	return l.holder != nil && l.holder == l.sys.Current()
}

// Acquire waits until the lock is free and takes it.
func (l *Lock) Acquire() {
	in := l.sys.Intr()
	kdebug.Assert(!in.Context(), "!intr_context ()")
	kdebug.Assert(!l.HeldByCurrent(), "!lock_held_by_current_thread (lock)")

	old := in.Disable()
	if l.holder != nil {
		l.sys.LockWait(l)
	}
	l.sema.Down()
	l.sys.LockAcquired()
	l.holder = l.sys.Current()
	in.SetLevel(old)
}

// TryAcquire takes the lock if it is free and reports whether it did.
func (l *Lock) TryAcquire() bool {
	kdebug.Assert(!l.HeldByCurrent(), "!lock_held_by_current_thread (lock)")

	in := l.sys.Intr()
	old := in.Disable()
	defer in.SetLevel(old)
	if !l.sema.TryDown() {
		return false
	}
	l.holder = l.sys.Current()
	return true
}

// Release gives the lock up. Donations made for it are returned and the
// highest-priority waiter is woken.
func (l *Lock) Release() {
	kdebug.Assert(l.HeldByCurrent(), "lock_held_by_current_thread (lock)")

	in := l.sys.Intr()
	old := in.Disable()
	l.holder = nil
	l.sys.LockReleased(l)
	l.sema.Up()
	in.SetLevel(old)
}

// Cond is a condition variable: it lets one piece of code signal a
// condition and cooperating code receive the signal and act on it. Signals
// go to the waiter with the highest priority.
type Cond struct {
	sys     *thread.System
	waiters []*condWaiter
}

type condWaiter struct {
	t    *thread.Thread
	sema *Semaphore
}

// NewCond returns a condition variable with no waiters.
func NewCond(sys *thread.System) *Cond {
	return &Cond{sys: sys}
}

// Wait atomically releases lock and waits for a signal, then reacquires
// lock before returning.
func (c *Cond) Wait(lock *Lock) {
	kdebug.Assert(!c.sys.Intr().Context(), "!intr_context ()")
	kdebug.Assert(lock.HeldByCurrent(), "lock_held_by_current_thread (lock)")

	w := &condWaiter{t: c.sys.Current(), sema: NewSemaphore(c.sys, 0)}
	c.waiters = append(c.waiters, w)
	lock.Release()
	w.sema.Down()
	lock.Acquire()
}

// Signal wakes the highest-priority waiter, if any. lock must be held.
func (c *Cond) Signal(lock *Lock) {
	kdebug.Assert(!c.sys.Intr().Context(), "!intr_context ()")
	kdebug.Assert(lock.HeldByCurrent(), "lock_held_by_current_thread (lock)")

	if len(c.waiters) == 0 {
		return
	}
	best := 0
	for i, w := range c.waiters {
		if thread.ComparePriority(w.t, c.waiters[best].t) {
			best = i
		}
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	w.sema.Up()
}

// Broadcast wakes every waiter. lock must be held.
func (c *Cond) Broadcast(lock *Lock) {
	for len(c.waiters) > 0 {
		c.Signal(lock)
	}
}
