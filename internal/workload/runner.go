package workload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/kernel"
	"github.com/me/kthreads/internal/synch"
	"github.com/me/kthreads/internal/thread"
)

// computeChunk is how many ticks Compute runs between context checks.
const computeChunk = 50

// Runner executes one workload on one kernel.
type Runner struct {
	ctx    context.Context
	k      *kernel.Kernel
	w      *Workload
	logger *slog.Logger

	locks map[string]*synch.Lock
	sems  map[string]*synch.Semaphore
	done  *synch.Semaphore
}

// Run executes w on k and returns once every thread has exited. It must be
// called on k's initial thread. A kernel panic, a deadlock or cancellation
// of ctx halts the kernel and is returned as the error; k cannot be used to
// run anything else afterwards.
func Run(ctx context.Context, k *kernel.Kernel, w *Workload, logger *slog.Logger) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r := &Runner{
		ctx:    ctx,
		k:      k,
		w:      w,
		logger: logger.With("component", "workload", "workload", w.Name),
		locks:  make(map[string]*synch.Lock, len(w.Locks)),
		sems:   make(map[string]*synch.Semaphore, len(w.Semaphores)),
	}
	if err := k.Run(r.run); err != nil {
		r.logger.Warn("workload halted", "ticks", k.Ticks(), "error", err)
		return fmt.Errorf("workload %s: %w", w.Name, err)
	}
	r.logger.Info("workload complete", "ticks", k.Ticks())
	return nil
}

func (r *Runner) run() {
	for _, name := range r.w.Locks {
		r.locks[name] = r.k.NewLock()
	}
	for name, v := range r.w.Semaphores {
		r.sems[name] = r.k.NewSemaphore(v)
	}
	r.done = r.k.NewSemaphore(0)

	// The launcher must wake on time to create late threads.
	r.k.Threads().SetPriority(thread.PriMax)

	r.logger.Info("workload started", "threads", len(r.w.Threads))
	for _, spec := range r.w.byStart() {
		r.checkContext()
		if d := spec.Start - r.k.Ticks(); d > 0 {
			r.k.Sleep(d)
		}
		tid, err := r.k.Create(spec.Name, spec.EffectivePriority(), r.body, spec)
		if err != nil {
			kdebug.Halt(fmt.Errorf("create thread %s: %w", spec.Name, err))
		}
		r.logger.Debug("thread created", "name", spec.Name, "tid", tid, "tick", r.k.Ticks())
	}
	for range r.w.Threads {
		r.done.Down()
	}
	// The last thread to finish may still be between its Up and its exit.
	// Only main and idle are left once every thread is gone.
	for len(r.k.Threads().Threads()) > 2 {
		r.k.Sleep(1)
	}
}

func (r *Runner) body(aux any) {
	spec := aux.(ThreadSpec)
	if spec.Nice != 0 {
		r.k.Threads().SetNice(spec.Nice)
	}
	if spec.Script != "" {
		r.runScript(spec)
	} else {
		for _, a := range spec.Actions {
			r.do(a)
		}
	}
	r.done.Up()
}

func (r *Runner) checkContext() {
	if err := r.ctx.Err(); err != nil {
		kdebug.Halt(err)
	}
}

func (r *Runner) do(a Action) {
	r.checkContext()
	sys := r.k.Threads()
	switch a.Op {
	case OpCompute:
		r.compute(a.N)
	case OpSleep:
		r.k.Sleep(a.N)
	case OpAcquire:
		r.locks[a.Arg].Acquire()
	case OpRelease:
		r.locks[a.Arg].Release()
	case OpYield:
		r.k.Yield()
	case OpPriority:
		sys.SetPriority(int(a.N))
	case OpNice:
		sys.SetNice(int(a.N))
	case OpDown:
		r.sems[a.Arg].Down()
	case OpUp:
		r.sems[a.Arg].Up()
	case OpLog:
		sys.Note(a.Arg)
	default:
		kdebug.Panicf("unknown op %q", a.Op)
	}
}

func (r *Runner) compute(ticks int64) {
	for ticks > 0 {
		n := min(ticks, computeChunk)
		r.k.Compute(int(n))
		ticks -= n
		r.checkContext()
	}
}
