// Package kdebug implements kernel assertions and halts.
//
// A failed assertion means the kernel itself is broken, so there is no
// recovery path inside the kernel: the panic travels up to the boot
// goroutine, where the CLI may turn it into an error with Recover.
package kdebug

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// ErrDeadlock is the halt reason when every thread is blocked and no timer
// wakeup or device interrupt is pending.
var ErrDeadlock = errors.New("deadlock: all threads blocked with no pending wakeup")

// ErrTickLimit is the halt reason when a run exceeds its configured tick budget.
var ErrTickLimit = errors.New("tick limit exceeded")

// Panic is the value carried by a kernel panic.
type Panic struct {
	Msg    string
	Caller string // function name and file:line of the failed check
	Err    error  // optional wrapped cause
}

func (p *Panic) Error() string {
	if p.Caller == "" {
		return "Kernel PANIC: " + p.Msg
	}
	return fmt.Sprintf("Kernel PANIC at %s: %s", p.Caller, p.Msg)
}

func (p *Panic) Unwrap() error {
	return p.Err
}

func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return fmt.Sprintf("%s %s:%d", fn.Name(), filepath.Base(file), line)
}

// Panicf halts the kernel with a formatted message.
func Panicf(format string, v ...any) {
	panic(&Panic{Msg: fmt.Sprintf(format, v...), Caller: caller(1)})
}

// Halt halts the kernel with err as the cause.
func Halt(err error) {
	panic(&Panic{Msg: err.Error(), Caller: caller(1), Err: err})
}

// Assert halts the kernel if cond is false.
func Assert(cond bool, what string) {
	if !cond {
		panic(&Panic{Msg: "assertion `" + what + "' failed", Caller: caller(1)})
	}
}

// Assertf is Assert with a formatted description.
func Assertf(cond bool, format string, v ...any) {
	if !cond {
		panic(&Panic{Msg: "assertion `" + fmt.Sprintf(format, v...) + "' failed", Caller: caller(1)})
	}
}

// AsPanic converts a recovered value into a *Panic. Values that are not
// kernel panics are wrapped so callers see a single type.
func AsPanic(r any) *Panic {
	switch v := r.(type) {
	case *Panic:
		return v
	case error:
		return &Panic{Msg: v.Error(), Err: v}
	default:
		return &Panic{Msg: fmt.Sprint(v)}
	}
}

// Recover stores a kernel panic into *errp. Use it deferred at the boundary
// between kernel code and ordinary callers:
//
//	defer kdebug.Recover(&err)
func Recover(errp *error) {
	if r := recover(); r != nil {
		*errp = AsPanic(r)
	}
}
