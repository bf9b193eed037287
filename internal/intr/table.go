package intr

import (
	"unsafe"

	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/pic"
)

// Count is the number of x86-64 interrupt vectors.
const Count = 256

// Handler services one interrupt. It receives the saved frame and may
// modify it; the modified frame is restored on return.
type Handler func(f *cpu.Frame)

var exceptionNames = [...]string{
	"#DE Divide Error",
	"#DB Debug Exception",
	"NMI Interrupt",
	"#BP Breakpoint Exception",
	"#OF Overflow Exception",
	"#BR BOUND Range Exceeded Exception",
	"#UD Invalid Opcode Exception",
	"#NM Device Not Available Exception",
	"#DF Double Fault Exception",
	"Coprocessor Segment Overrun",
	"#TS Invalid TSS Exception",
	"#NP Segment Not Present",
	"#SS Stack Fault Exception",
	"#GP General Protection Exception",
	"#PF Page-Fault Exception",
	"Reserved",
	"#MF x87 FPU Floating-Point Error",
	"#AC Alignment Check Exception",
	"#MC Machine-Check Exception",
	"#XF SIMD Floating-Point Exception",
}

// Table is the interrupt descriptor table together with the handler and
// name registered for each vector.
type Table struct {
	gates    [Count]Gate
	handlers [Count]Handler
	names    [Count]string
}

// NewTable returns a table whose every vector points at its entry stub
// through a DPL 0 interrupt gate, with no handler registered.
func NewTable() *Table {
	t := &Table{}
	for i := 0; i < Count; i++ {
		t.gates[i] = MakeGate(StubAddr(uint8(i)), cpu.SelKCSeg, 0, GateInterrupt)
		t.names[i] = "unknown"
	}
	for i, name := range exceptionNames {
		t.names[i] = name
	}
	return t
}

func isExternal(vec uint8) bool {
	return vec >= pic.VectorBase && vec <= pic.VectorLast
}

func (t *Table) register(vec uint8, dpl uint8, level cpu.Level, h Handler, name string) {
	kdebug.Assert(h != nil, "handler != NULL")
	kdebug.Assertf(t.handlers[vec] == nil, "vector %#02x already registered", vec)

	typ := GateInterrupt
	if level == cpu.LevelOn {
		typ = GateTrap
	}
	t.gates[vec] = MakeGate(StubAddr(vec), cpu.SelKCSeg, dpl, typ)
	t.handlers[vec] = h
	t.names[vec] = name
}

// RegisterExternal registers h for external interrupt vec (0x20..0x2f).
// External handlers always run with interrupts off.
func (t *Table) RegisterExternal(vec uint8, h Handler, name string) {
	kdebug.Assertf(isExternal(vec), "vec_no >= 0x20 && vec_no <= 0x2f (got %#02x)", vec)
	t.register(vec, 0, cpu.LevelOff, h, name)
}

// RegisterInternal registers h for internal interrupt vec. dpl limits which
// privilege levels may raise it with int; level says whether interrupts stay
// enabled while h runs.
func (t *Table) RegisterInternal(vec uint8, dpl uint8, level cpu.Level, h Handler, name string) {
	kdebug.Assertf(!isExternal(vec), "vec_no < 0x20 || vec_no > 0x2f (got %#02x)", vec)
	t.register(vec, dpl, level, h, name)
}

// Gate returns the descriptor for vec.
func (t *Table) Gate(vec uint8) Gate { return t.gates[vec] }

// Handler returns the handler registered for vec, or nil.
func (t *Table) Handler(vec uint8) Handler { return t.handlers[vec] }

// Name returns the name registered for vec, "unknown" if none.
func (t *Table) Name(vec uint8) string { return t.names[vec] }

// Descriptor returns the limit and base lidt would load.
func (t *Table) Descriptor() (limit uint16, base uint64) {
	return uint16(unsafe.Sizeof(t.gates) - 1), uint64(uintptr(unsafe.Pointer(&t.gates)))
}
