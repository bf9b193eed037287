// Package kernel boots a simulated uniprocessor kernel: processor, interrupt
// controller, descriptor table, timer and thread system, wired together in
// the order a real kernel brings them up.
//
// Boot must be called from the goroutine that is to become the initial
// thread. Every other Kernel method must be called from a kernel thread,
// that is, from the initial goroutine or from a thread body.
package kernel

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/pic"
	"github.com/me/kthreads/internal/synch"
	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/internal/timer"
	"github.com/me/kthreads/pkg/model"
)

// Kernel is one booted kernel.
type Kernel struct {
	cfg    config.KernelConfig
	logger *slog.Logger

	cpu     *cpu.CPU
	pic     *pic.PIC
	idt     *intr.Table
	intr    *intr.Dispatcher
	timer   *timer.Timer
	pages   thread.PageAllocator
	threads *thread.System

	activator thread.Activator
	listeners []thread.Listener
	console   io.Writer
}

// Option configures Boot.
type Option func(*Kernel)

// WithPageAllocator replaces the default page pool.
func WithPageAllocator(p thread.PageAllocator) Option {
	return func(k *Kernel) { k.pages = p }
}

// WithActivator installs an address-space switcher.
func WithActivator(a thread.Activator) Option {
	return func(k *Kernel) { k.activator = a }
}

// WithListener subscribes l to scheduler events from boot on.
func WithListener(l thread.Listener) Option {
	return func(k *Kernel) { k.listeners = append(k.listeners, l) }
}

// WithConsole sets where frame dumps of unexpected interrupts go.
func WithConsole(w io.Writer) Option {
	return func(k *Kernel) { k.console = w }
}

// Boot brings the kernel up and returns with the calling goroutine running
// as the initial thread, "main", with interrupts on.
func Boot(cfg config.KernelConfig, logger *slog.Logger, opts ...Option) (k *Kernel, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	k = &Kernel{cfg: cfg, logger: logger.With("component", "kernel")}
	for _, opt := range opts {
		opt(k)
	}
	if k.pages == nil {
		k.pages = thread.NewPagePool(cfg.Pages)
	}

	defer func() {
		if r := recover(); r != nil {
			k, err = nil, fmt.Errorf("boot: %w", kdebug.AsPanic(r))
		}
	}()

	k.cpu = cpu.New()
	k.pic = pic.New()
	k.idt = intr.NewTable()
	k.intr = intr.NewDispatcher(k.cpu, k.pic, k.idt, logger)
	if k.console != nil {
		k.intr.SetConsole(k.console)
	}
	k.timer = timer.New(cfg.TimerFreq)
	k.timer.SetLimit(cfg.MaxTicks)

	k.threads = thread.New(thread.Config{
		MLFQS:     cfg.MLFQS,
		TimeSlice: cfg.TimeSlice,
		TimerFreq: cfg.TimerFreq,
	}, thread.Deps{
		Intr:      k.intr,
		Clock:     k.timer,
		Pages:     k.pages,
		Activator: k.activator,
		Halt:      k.halt,
	}, logger)
	for _, l := range k.listeners {
		k.threads.AddListener(l)
	}

	k.threads.Init()
	k.pic.Init()
	k.intr.SetYield(k.threads.Yield)
	k.timer.Init(k.idt, k.threads)
	k.threads.Start()

	limit, base := k.idt.Descriptor()
	k.logger.Info("kernel booted",
		"mlfqs", cfg.MLFQS,
		"timer_freq", cfg.TimerFreq,
		"pit_divisor", k.timer.Divisor(),
		"idt_base", fmt.Sprintf("%#x", base),
		"idt_limit", limit,
	)
	return k, nil
}

// halt is the idle thread's sti; hlt. If no device has an interrupt
// pending the next one to arrive is the timer's.
func (k *Kernel) halt() {
	if !k.pic.Pending() {
		k.pic.Raise(timer.IRQ)
	}
	k.intr.Enable()
}

// Threads returns the thread system.
func (k *Kernel) Threads() *thread.System { return k.threads }

// Intr returns the interrupt dispatcher.
func (k *Kernel) Intr() *intr.Dispatcher { return k.intr }

// Timer returns the system timer.
func (k *Kernel) Timer() *timer.Timer { return k.timer }

// PIC returns the interrupt controller.
func (k *Kernel) PIC() *pic.PIC { return k.pic }

// CPU returns the processor.
func (k *Kernel) CPU() *cpu.CPU { return k.cpu }

// Config returns the boot configuration.
func (k *Kernel) Config() config.KernelConfig { return k.cfg }

// Ticks returns timer ticks since boot.
func (k *Kernel) Ticks() int64 { return k.timer.Ticks() }

// Create starts a kernel thread.
func (k *Kernel) Create(name string, priority int, fn thread.Func, aux any) (thread.TID, error) {
	return k.threads.Create(name, priority, fn, aux)
}

// Sleep suspends the running thread for approximately ticks timer ticks.
// Interrupts must be on.
func (k *Kernel) Sleep(ticks int64) {
	start := k.timer.Ticks()
	kdebug.Assert(k.intr.Level() == cpu.LevelOn, "intr_get_level () == INTR_ON")
	if ticks <= 0 {
		return
	}
	k.threads.Sleep(start + ticks)
}

// Compute keeps the processor busy on the running thread for ticks timer
// ticks. Interrupts must be on or the ticks coalesce into one pending
// interrupt.
func (k *Kernel) Compute(ticks int) {
	for i := 0; i < ticks; i++ {
		k.pic.Raise(timer.IRQ)
		k.intr.Deliver()
	}
}

// Yield gives up the processor.
func (k *Kernel) Yield() { k.threads.Yield() }

// RaiseIRQ asserts device interrupt line irq. It is delivered at once if
// interrupts are on.
func (k *Kernel) RaiseIRQ(irq int) {
	k.pic.Raise(irq)
	k.intr.Deliver()
}

// Trap raises internal interrupt vec on the running thread.
func (k *Kernel) Trap(vec uint8, f *cpu.Frame) { k.intr.Trap(vec, f) }

// NewSemaphore returns a semaphore bound to this kernel.
func (k *Kernel) NewSemaphore(value int) *synch.Semaphore {
	return synch.NewSemaphore(k.threads, value)
}

// NewLock returns a lock bound to this kernel.
func (k *Kernel) NewLock() *synch.Lock { return synch.NewLock(k.threads) }

// NewCond returns a condition variable bound to this kernel.
func (k *Kernel) NewCond() *synch.Cond { return synch.NewCond(k.threads) }

// Stats returns tick accounting since boot.
func (k *Kernel) Stats() model.TickStats { return k.threads.Stats() }

// PrintStats writes the tick accounting line the kernel prints at power off.
func (k *Kernel) PrintStats(w io.Writer) {
	s := k.Stats()
	fmt.Fprintf(w, "Thread: %d idle ticks, %d kernel ticks, %d user ticks\n", s.IdleTicks, s.KernelTicks, s.UserTicks)
}

// Shutdown releases every thread goroutine. The kernel cannot be used
// afterwards.
func (k *Kernel) Shutdown() {
	k.threads.Shutdown()
	k.logger.Debug("kernel shut down", "ticks", k.timer.Ticks())
}

// Run calls fn on the initial thread and returns the kernel panic, if any,
// that halted the kernel while fn ran.
func (k *Kernel) Run(fn func()) (err error) {
	defer kdebug.Recover(&err)
	fn()
	return nil
}
