package workload

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/synch"
	"github.com/me/kthreads/internal/thread"
)

// runScript runs a JavaScript thread body. Each thread gets its own
// runtime; the kernel calls it exposes run on that thread. threads()
// returns the scheduler's view of every live thread, keyed as in the API.
func (r *Runner) runScript(spec ThreadSpec) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := r.bind(vm, spec); err != nil {
		kdebug.Halt(fmt.Errorf("thread %s: %w", spec.Name, err))
	}
	if _, err := vm.RunScript(spec.Name, spec.Script); err != nil {
		kdebug.Halt(fmt.Errorf("thread %s: script: %w", spec.Name, err))
	}
}

func (r *Runner) bind(vm *goja.Runtime, spec ThreadSpec) error {
	sys := r.k.Threads()

	funcs := map[string]any{
		"compute": func(n int64) {
			if n < 0 {
				panic(vm.NewTypeError("compute: negative ticks %d", n))
			}
			r.compute(n)
		},
		"sleep": func(n int64) { r.checkContext(); r.k.Sleep(n) },
		"acquire": func(name string) {
			r.checkContext()
			r.lookupLock(vm, name).Acquire()
		},
		"release": func(name string) { r.lookupLock(vm, name).Release() },
		"yield":   func() { r.checkContext(); r.k.Yield() },
		"setPriority": func(p int) {
			if p < thread.PriMin || p > thread.PriMax {
				panic(vm.NewTypeError("setPriority: %d out of range", p))
			}
			sys.SetPriority(p)
		},
		"setNice": func(n int) {
			if n < thread.NiceMin || n > thread.NiceMax {
				panic(vm.NewTypeError("setNice: %d out of range", n))
			}
			sys.SetNice(n)
		},
		"priority":  sys.Priority,
		"nice":      sys.Nice,
		"recentCPU": sys.RecentCPU,
		"loadAvg":   sys.LoadAvg,
		"down":      func(name string) { r.checkContext(); r.lookupSema(vm, name).Down() },
		"up":        func(name string) { r.lookupSema(vm, name).Up() },
		"tick":      r.k.Ticks,
		"threads":   sys.Threads,
		"log":       func(msg string) { sys.Note(msg) },
	}
	for name, fn := range funcs {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	if err := vm.Set("name", spec.Name); err != nil {
		return fmt.Errorf("set name: %w", err)
	}
	return nil
}

func (r *Runner) lookupLock(vm *goja.Runtime, name string) *synch.Lock {
	l, ok := r.locks[name]
	if !ok {
		panic(vm.NewTypeError("unknown lock %q", name))
	}
	return l
}

func (r *Runner) lookupSema(vm *goja.Runtime, name string) *synch.Semaphore {
	s, ok := r.sems[name]
	if !ok {
		panic(vm.NewTypeError("unknown semaphore %q", name))
	}
	return s
}
