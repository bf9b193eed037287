// Package timer drives the 8254 programmable interval timer and keeps the
// kernel's tick count.
package timer

import (
	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/kdebug"
)

// IRQ is the timer's interrupt line; it arrives on vector 0x20.
const IRQ = 0

// Vector is the external vector the timer interrupts on.
const Vector uint8 = 0x20

// PITFreq is the 8254 input clock in Hz.
const PITFreq = 1193180

// Ticker is what the timer interrupt drives once per tick.
type Ticker interface {
	Tick()
	Awake(now int64)
}

// Registrar registers external interrupt handlers.
type Registrar interface {
	RegisterExternal(vec uint8, h intr.Handler, name string)
}

// Timer counts ticks since boot.
type Timer struct {
	freq     int
	ticks    int64
	maxTicks int64
	sys      Ticker
}

// New returns a timer that interrupts freq times per second. The 8254
// cannot be programmed outside 19..1000 Hz.
func New(freq int) *Timer {
	kdebug.Assertf(freq >= 19 && freq <= 1000, "TIMER_FREQ %d in 19..1000", freq)
	return &Timer{freq: freq}
}

// Init registers the timer interrupt handler. Every tick calls sys.Tick
// followed by sys.Awake.
func (t *Timer) Init(r Registrar, sys Ticker) {
	t.sys = sys
	r.RegisterExternal(Vector, t.interrupt, "8254 Timer")
}

// SetLimit halts the kernel with kdebug.ErrTickLimit once more than n ticks
// have elapsed. Zero means no limit.
func (t *Timer) SetLimit(n int64) { t.maxTicks = n }

// Divisor is the count loaded into the 8254's counter 0, rounded to nearest.
func (t *Timer) Divisor() uint16 {
	return uint16((PITFreq + t.freq/2) / t.freq)
}

// Freq returns the interrupt frequency in Hz.
func (t *Timer) Freq() int { return t.freq }

// Ticks returns the number of timer ticks since boot.
func (t *Timer) Ticks() int64 { return t.ticks }

// Elapsed returns the number of ticks since then, a value once returned by
// Ticks.
func (t *Timer) Elapsed(then int64) int64 { return t.ticks - then }

func (t *Timer) interrupt(*cpu.Frame) {
	t.ticks++
	if t.maxTicks > 0 && t.ticks > t.maxTicks {
		kdebug.Halt(kdebug.ErrTickLimit)
	}
	t.sys.Tick()
	t.sys.Awake(t.ticks)
}
