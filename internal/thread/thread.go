// Package thread implements kernel threads and the preemptive priority
// scheduler that multiplexes them onto the single processor: the ready
// queue, blocking and waking, timed sleep, priority donation through locks
// and the multi-level feedback queue scheduler.
//
// Every kernel thread is backed by a goroutine, but only the goroutine of
// the running thread ever executes kernel code; the rest are parked on
// their thread's cpu channel. A context switch hands the token from one
// goroutine to the next. All scheduler state is protected by turning
// interrupts off, exactly as on a uniprocessor.
package thread

import (
	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/pkg/model"
)

// TID identifies a thread.
type TID int

// TIDError is returned by Create when the thread could not be created.
const TIDError TID = -1

// Thread priorities.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// Nice values.
const (
	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20
)

// TimeSlice is the default number of ticks a thread runs before it is
// preempted.
const TimeSlice = 4

// Magic detects stack overflow: it sits at the top of the thread header,
// just below the stack, so a runaway stack overwrites it first.
const Magic uint32 = 0xcd6abf4b

// MaxName is the longest thread name kept, in bytes.
const MaxName = 15

// Func is the body of a kernel thread.
type Func func(aux any)

// Lock is anything a thread can wait on that has a holder to donate to.
type Lock interface {
	Holder() *Thread
}

// link records which intrusive list a thread is on. A thread is on at most
// one list at a time: the ready queue, a wait queue or the sleep set.
type link uint8

const (
	linkNone link = iota
	linkReady
	linkWait
	linkSleep
)

func (l link) String() string {
	return [...]string{"none", "ready", "wait", "sleep"}[l]
}

// Thread is a thread control block. It lives at the bottom of the thread's
// page, with the kernel stack growing down from the top of the same page.
type Thread struct {
	tid    TID
	status model.ThreadStatus
	name   string

	priority     int // effective: max of base and every donation
	basePriority int
	wakeupTick   int64

	link link

	waitOnLock Lock
	donations  []*Thread
	donee      *Thread // holder this thread donates to, if any

	nice      int
	recentCPU fixedpoint.Fixed

	// AddressSpace is the user address space activated when the thread is
	// scheduled; nil for pure kernel threads.
	AddressSpace any

	page *Page
	sp   int // offset of the stack pointer within page
	cpu  chan struct{}
	gone bool // goroutine has been released by Shutdown or a halt

	fn  Func
	aux any
}

// TID returns the thread identifier.
func (t *Thread) TID() TID { return t.tid }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Status returns the scheduling status.
func (t *Thread) Status() model.ThreadStatus { return t.status }

// Priority returns the effective priority.
func (t *Thread) Priority() int { return t.priority }

// BasePriority returns the priority the thread set for itself.
func (t *Thread) BasePriority() int { return t.basePriority }

// Nice returns the nice value.
func (t *Thread) Nice() int { return t.nice }

// RecentCPU returns the raw recent_cpu estimate.
func (t *Thread) RecentCPU() fixedpoint.Fixed { return t.recentCPU }

// WakeupTick returns the tick at which a sleeping thread wakes.
func (t *Thread) WakeupTick() int64 { return t.wakeupTick }

// WaitOnLock returns the lock the thread is blocked acquiring, or nil.
func (t *Thread) WaitOnLock() Lock { return t.waitOnLock }

// Donors returns the threads currently donating to t.
func (t *Thread) Donors() []*Thread {
	return append([]*Thread(nil), t.donations...)
}

func (t *Thread) String() string { return t.name }

func (t *Thread) setStatus(next model.ThreadStatus) {
	if !t.status.CanTransitionTo(next) {
		kdebug.Halt(&model.InvalidTransitionError{Entity: "Thread", ID: t.name, From: t.status.String(), To: next.String()})
	}
	t.status = next
}

func isThread(t *Thread) bool {
	return t != nil && t.page != nil && t.page.magic() == Magic
}

func truncName(name string) string {
	if len(name) > MaxName {
		return name[:MaxName]
	}
	return name
}
