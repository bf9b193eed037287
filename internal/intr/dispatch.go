package intr

import (
	"io"
	"log/slog"
	"os"

	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/pic"
)

// Dispatcher routes every interrupt to its handler and owns the processor's
// interrupt state: the IF flag, whether an external handler is running and
// whether the interrupted thread must yield once it returns.
type Dispatcher struct {
	cpu    *cpu.CPU
	pic    *pic.PIC
	table  *Table
	logger *slog.Logger

	inExternal    bool
	yieldOnReturn bool
	yield         func()

	console io.Writer
	counts  [Count]uint64
}

// NewDispatcher wires the dispatcher to the processor, the interrupt
// controller and the descriptor table.
func NewDispatcher(c *cpu.CPU, p *pic.PIC, t *Table, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cpu:     c,
		pic:     p,
		table:   t,
		logger:  logger.With("component", "intr"),
		console: os.Stderr,
	}
}

// SetYield installs the function called when an external handler asked for
// yield-on-return. The thread system installs its Yield.
func (d *Dispatcher) SetYield(fn func()) { d.yield = fn }

// SetConsole redirects frame dumps.
func (d *Dispatcher) SetConsole(w io.Writer) { d.console = w }

// Table returns the descriptor table.
func (d *Dispatcher) Table() *Table { return d.table }

// Level returns the current interrupt level.
func (d *Dispatcher) Level() cpu.Level { return d.cpu.Level() }

// Disable turns interrupts off and returns the previous level.
func (d *Dispatcher) Disable() cpu.Level { return d.cpu.Cli() }

// Enable turns interrupts on and returns the previous level. Interrupts that
// became pending while they were off are delivered before Enable returns.
// Handlers of external interrupts must never turn interrupts on.
func (d *Dispatcher) Enable() cpu.Level {
	kdebug.Assert(!d.Context(), "!intr_context ()")
	old := d.cpu.Sti()
	d.Deliver()
	return old
}

// SetLevel sets the interrupt level and returns the previous one.
func (d *Dispatcher) SetLevel(level cpu.Level) cpu.Level {
	if level == cpu.LevelOn {
		return d.Enable()
	}
	return d.Disable()
}

// Context reports whether an external interrupt is being handled.
func (d *Dispatcher) Context() bool { return d.inExternal }

// YieldOnReturn asks that the interrupted thread yield the processor once
// the current external handler returns.
func (d *Dispatcher) YieldOnReturn() {
	kdebug.Assert(d.Context(), "intr_context ()")
	d.yieldOnReturn = true
}

// Pending reports whether the interrupt controller has a request waiting.
func (d *Dispatcher) Pending() bool { return d.pic.Pending() }

// Name returns the name of vec.
func (d *Dispatcher) Name(vec uint8) string { return d.table.Name(vec) }

// Count returns how many times vec has been dispatched.
func (d *Dispatcher) Count(vec uint8) uint64 { return d.counts[vec] }

// Deliver takes pending external interrupts from the controller for as long
// as interrupts are enabled.
func (d *Dispatcher) Deliver() {
	for d.cpu.Level() == cpu.LevelOn {
		vec, ok := d.pic.Acknowledge()
		if !ok {
			return
		}
		d.enter(cpu.NewFrame(vec))
	}
}

// Trap raises internal vector vec synchronously, as a fault or an int
// instruction would. f may be nil.
func (d *Dispatcher) Trap(vec uint8, f *cpu.Frame) {
	kdebug.Assertf(!isExternal(vec), "trap vector %#02x is internal", vec)
	if f == nil {
		f = cpu.NewFrame(vec)
	}
	f.VecNo = uint64(vec)
	d.enter(f)
}

// enter is the processor side of an interrupt: save the flags, clear IF for
// interrupt gates, run the common handler and iretq.
func (d *Dispatcher) enter(f *cpu.Frame) {
	vec := uint8(f.VecNo)
	f.Eflags = d.cpu.Flags()
	f.RIP = StubAddr(vec)
	if d.table.Gate(vec).Type() == GateInterrupt {
		d.cpu.Cli()
	}
	d.Handle(f)
	d.cpu.SetFlags(f.Eflags)
}

// Handle is the common handler every entry stub jumps to.
func (d *Dispatcher) Handle(f *cpu.Frame) {
	vec := uint8(f.VecNo)
	external := isExternal(vec)
	if external {
		kdebug.Assert(d.cpu.Level() == cpu.LevelOff, "intr_get_level () == INTR_OFF")
		kdebug.Assert(!d.Context(), "!intr_context ()")
		d.inExternal = true
		d.yieldOnReturn = false
	}
	d.counts[vec]++

	if h := d.table.Handler(vec); h != nil {
		h(f)
	} else if vec == 0x27 || vec == 0x2f {
		// Spurious interrupt from one of the 8259As.
		d.logger.Debug("spurious interrupt", "vec", vec)
	} else {
		DumpFrame(d.console, f, d.table.Name(vec), d.cpu.CR2())
		kdebug.Panicf("Unexpected interrupt")
	}

	if external {
		kdebug.Assert(d.cpu.Level() == cpu.LevelOff, "intr_get_level () == INTR_OFF")
		kdebug.Assert(d.Context(), "intr_context ()")
		d.inExternal = false
		d.pic.EndOfInterrupt(vec)
		if d.yieldOnReturn {
			d.yieldOnReturn = false
			kdebug.Assert(d.yield != nil, "yield installed")
			d.yield()
		}
	}
}
