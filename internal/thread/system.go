package thread

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/pkg/model"
)

// ErrShutdown is the reason parked threads are released by Shutdown.
var ErrShutdown = errors.New("kernel shut down")

// Interrupts is the interrupt control the scheduler relies on for mutual
// exclusion and preemption.
type Interrupts interface {
	Level() cpu.Level
	Disable() cpu.Level
	Enable() cpu.Level
	SetLevel(level cpu.Level) cpu.Level
	Context() bool
	YieldOnReturn()
	Pending() bool
}

// Clock reports timer ticks since boot.
type Clock interface {
	Ticks() int64
}

// Activator installs a thread's address space when it is scheduled.
type Activator interface {
	Activate(t *Thread)
}

type nopActivator struct{}

func (nopActivator) Activate(*Thread) {}

// Config selects the scheduling policy.
type Config struct {
	MLFQS     bool // multi-level feedback queue instead of priority donation
	TimeSlice int  // ticks per slice; TimeSlice if zero
	TimerFreq int  // ticks per second; 100 if zero
}

// Deps are the collaborators of the thread system.
type Deps struct {
	Intr      Interrupts
	Clock     Clock
	Pages     PageAllocator
	Activator Activator

	// Halt is what the idle thread runs with nothing to do: enable
	// interrupts and wait for the next one (sti; hlt).
	Halt func()
}

// System is the thread system of one kernel.
type System struct {
	cfg       Config
	intr      Interrupts
	clock     Clock
	pages     PageAllocator
	activator Activator
	halt      func()
	logger    *slog.Logger
	listeners []Listener

	ready           *Queue
	sleepers        *Queue
	nextTickToAwake int64
	all             []*Thread
	destruction     []*Thread

	current *Thread
	initial *Thread
	idle    *Thread

	nextTID     TID
	threadTicks int
	loadAvg     fixedpoint.Fixed
	stats       model.TickStats

	halted *kdebug.Panic
}

// New returns an uninitialised thread system. Call Init from the boot
// goroutine with interrupts off, then Start once interrupts are set up.
func New(cfg Config, deps Deps, logger *slog.Logger) *System {
	if cfg.TimeSlice <= 0 {
		cfg.TimeSlice = TimeSlice
	}
	if cfg.TimerFreq <= 0 {
		cfg.TimerFreq = 100
	}
	if deps.Activator == nil {
		deps.Activator = nopActivator{}
	}
	if deps.Pages == nil {
		deps.Pages = NewPagePool(64)
	}
	return &System{
		cfg:             cfg,
		intr:            deps.Intr,
		clock:           deps.Clock,
		pages:           deps.Pages,
		activator:       deps.Activator,
		halt:            deps.Halt,
		logger:          logger.With("component", "thread"),
		ready:           &Queue{tag: linkReady},
		sleepers:        &Queue{tag: linkSleep},
		nextTickToAwake: math.MaxInt64,
		nextTID:         1,
	}
}

// Init turns the calling goroutine into the initial thread, "main".
func (s *System) Init() *Thread {
	kdebug.Assert(s.intr.Level() == cpu.LevelOff, "intr_get_level () == INTR_OFF")
	kdebug.Assert(s.initial == nil, "thread system initialised once")

	t := s.newThread("main", PriDefault, &Page{})
	t.status = model.ThreadRunning
	s.initial, s.current = t, t
	s.logger.Debug("thread system initialised", "mlfqs", s.cfg.MLFQS)
	return t
}

// Start creates the idle thread and enables preemption. It returns once the
// idle thread has run for the first time.
func (s *System) Start() {
	kdebug.Assert(s.halt != nil, "halt hook installed")

	old := s.intr.Disable()
	t, err := s.spawn("idle", PriMin, s.idleLoop, s.initial)
	kdebug.Assertf(err == nil, "create idle thread: %v", err)
	s.idle = t
	s.Unblock(t)
	s.Block()
	s.intr.SetLevel(old)

	s.intr.Enable()
}

func (s *System) idleLoop(aux any) {
	s.Unblock(aux.(*Thread))
	for {
		s.intr.Disable()
		s.Block()

		// Only a timer wakeup or a device interrupt can make a thread
		// ready again.
		if s.sleepers.Len() == 0 && !s.intr.Pending() {
			kdebug.Halt(kdebug.ErrDeadlock)
		}
		s.halt()
	}
}

func (s *System) allocateTID() TID {
	tid := s.nextTID
	s.nextTID++
	return tid
}

func (s *System) newThread(name string, priority int, page *Page) *Thread {
	page.setMagic()
	t := &Thread{
		tid:          s.allocateTID(),
		status:       model.ThreadBlocked,
		name:         truncName(name),
		priority:     priority,
		basePriority: priority,
		nice:         NiceDefault,
		page:         page,
		sp:           PageSize,
		cpu:          make(chan struct{}, 1),
	}
	s.all = append(s.all, t)
	return t
}

// spawn allocates a blocked thread and its goroutine.
func (s *System) spawn(name string, priority int, fn Func, aux any) (*Thread, error) {
	old := s.intr.Disable()
	page, err := s.pages.AllocPage()
	if err != nil {
		s.intr.SetLevel(old)
		return nil, err
	}
	t := s.newThread(name, priority, page)
	t.fn, t.aux = fn, aux
	s.intr.SetLevel(old)

	go s.run(t)
	return t, nil
}

// Create starts a new kernel thread running fn(aux) and returns its TID.
// The new thread may run, and even exit, before Create returns.
func (s *System) Create(name string, priority int, fn Func, aux any) (TID, error) {
	kdebug.Assert(fn != nil, "function != NULL")
	kdebug.Assertf(priority >= PriMin && priority <= PriMax, "priority %d in [PRI_MIN, PRI_MAX]", priority)

	t, err := s.spawn(name, priority, fn, aux)
	if err != nil {
		s.logger.Warn("thread create failed", "name", name, "error", err)
		return TIDError, fmt.Errorf("create thread %q: %w", name, err)
	}
	if s.cfg.MLFQS {
		old := s.intr.Disable()
		t.nice = s.current.nice
		t.recentCPU = s.current.recentCPU
		s.updatePriority(t)
		s.intr.SetLevel(old)
	}
	s.emit(model.EventCreate, t, "")
	s.Unblock(t)
	s.TestMaxPriority()
	return t.tid, nil
}

// run is the goroutine behind every thread but the initial one.
func (s *System) run(t *Thread) {
	defer s.catch(t)
	s.park(t)

	s.intr.Enable()
	t.fn(t.aux)
	s.Exit()
}

// park waits until t is handed the processor.
func (s *System) park(t *Thread) {
	<-t.cpu
	if s.halted != nil {
		if t == s.initial {
			panic(s.halted)
		}
		runtime.Goexit()
	}
}

// catch turns a panic on a thread goroutine into a kernel halt: the panic
// is recorded and the initial thread resumes to re-raise it.
func (s *System) catch(t *Thread) {
	r := recover()
	if r == nil {
		return
	}
	p := kdebug.AsPanic(r)
	s.logger.Error("kernel panic", "thread", t.name, "error", p.Error())
	if s.halted == nil {
		s.halted = p
	}
	t.gone = true
	s.initial.cpu <- struct{}{}
}

// Shutdown releases every parked thread goroutine. The system cannot be
// used afterwards. Call it from the initial thread.
func (s *System) Shutdown() {
	if s.halted == nil {
		s.halted = &kdebug.Panic{Msg: ErrShutdown.Error(), Err: ErrShutdown}
	}
	for _, t := range s.all {
		if t == s.initial || t.gone {
			continue
		}
		t.gone = true
		t.cpu <- struct{}{}
	}
}

// Halted returns the panic that halted the kernel, or nil.
func (s *System) Halted() error {
	if s.halted == nil {
		return nil
	}
	return s.halted
}

// Current returns the running thread. It halts the kernel if the thread's
// stack has overflowed into its header.
func (s *System) Current() *Thread {
	t := s.current
	kdebug.Assert(isThread(t), "is_thread (t)")
	kdebug.Assert(t.status == model.ThreadRunning, "t->status == THREAD_RUNNING")
	return t
}

// Block puts the running thread to sleep until Unblock. Interrupts must be
// off. Most callers want a synchronization primitive instead.
func (s *System) Block() {
	kdebug.Assert(!s.intr.Context(), "!intr_context ()")
	kdebug.Assert(s.intr.Level() == cpu.LevelOff, "intr_get_level () == INTR_OFF")

	cur := s.Current()
	cur.setStatus(model.ThreadBlocked)
	s.emit(model.EventBlock, cur, "")
	s.schedule()
}

// Unblock makes a blocked thread ready. It does not preempt the running
// thread, so a caller that has disabled interrupts can unblock a thread and
// update other data atomically.
func (s *System) Unblock(t *Thread) {
	kdebug.Assert(isThread(t), "is_thread (t)")

	old := s.intr.Disable()
	kdebug.Assert(t.status == model.ThreadBlocked, "t->status == THREAD_BLOCKED")
	s.ready.Push(t)
	t.setStatus(model.ThreadReady)
	s.emit(model.EventUnblock, t, "")
	s.intr.SetLevel(old)
}

// Yield gives up the processor. The running thread stays ready and may be
// picked again at once.
func (s *System) Yield() {
	kdebug.Assert(!s.intr.Context(), "!intr_context ()")

	cur := s.Current()
	old := s.intr.Disable()
	s.emit(model.EventYield, cur, "")
	if cur != s.idle {
		s.ready.Push(cur)
		s.doSchedule(model.ThreadReady)
	} else {
		s.doSchedule(model.ThreadBlocked)
	}
	s.intr.SetLevel(old)
}

// Exit deschedules and destroys the running thread. It never returns.
func (s *System) Exit() {
	kdebug.Assert(!s.intr.Context(), "!intr_context ()")

	cur := s.Current()
	kdebug.Assert(cur != s.initial, "initial thread does not exit")
	kdebug.Assert(cur != s.idle, "idle thread does not exit")

	s.intr.Disable()
	s.forget(cur)
	s.emit(model.EventExit, cur, "")
	s.doSchedule(model.ThreadDying)
	kdebug.Panicf("NOT_REACHED")
}

func (s *System) forget(t *Thread) {
	for i, x := range s.all {
		if x == t {
			s.all = append(s.all[:i], s.all[i+1:]...)
			return
		}
	}
}

// doSchedule frees the pages of threads that died since the last switch,
// gives the running thread status and picks another to run.
func (s *System) doSchedule(status model.ThreadStatus) {
	kdebug.Assert(s.intr.Level() == cpu.LevelOff, "intr_get_level () == INTR_OFF")
	kdebug.Assert(s.current.status == model.ThreadRunning, "thread_current()->status == THREAD_RUNNING")

	for _, victim := range s.destruction {
		s.pages.FreePage(victim.page)
	}
	s.destruction = s.destruction[:0]

	s.current.setStatus(status)
	s.schedule()
}

func (s *System) nextThreadToRun() *Thread {
	if s.ready.Len() == 0 {
		return s.idle
	}
	return s.ready.PopMax()
}

func (s *System) schedule() {
	cur := s.current
	next := s.nextThreadToRun()

	kdebug.Assert(s.intr.Level() == cpu.LevelOff, "intr_get_level () == INTR_OFF")
	kdebug.Assert(cur.status != model.ThreadRunning, "curr->status != THREAD_RUNNING")
	kdebug.Assert(isThread(next), "is_thread (next)")

	// The idle thread is never on the ready queue; it runs straight from
	// BLOCKED when nothing else can.
	if next == s.idle && next.status == model.ThreadBlocked {
		next.status = model.ThreadRunning
	} else {
		next.setStatus(model.ThreadRunning)
	}
	s.threadTicks = 0
	s.activator.Activate(next)

	if cur == next {
		return
	}
	// The page of a dying thread is still in use until the switch is
	// complete, so it is freed by the next doSchedule.
	if cur.status == model.ThreadDying {
		s.destruction = append(s.destruction, cur)
	}
	s.emit(model.EventRun, next, "")
	s.switchTo(cur, next)
}

// switchTo hands the processor from prev to next and parks prev until it is
// scheduled again. A dying prev never comes back.
func (s *System) switchTo(prev, next *Thread) {
	s.current = next
	dying := prev.status == model.ThreadDying
	next.cpu <- struct{}{}
	if dying {
		runtime.Goexit()
	}
	s.park(prev)
}
