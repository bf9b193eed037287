package intr

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/pic"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *cpu.CPU, *pic.PIC) {
	t.Helper()
	c := cpu.New()
	p := pic.New()
	p.Init()
	d := NewDispatcher(c, p, NewTable(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.SetConsole(io.Discard)
	return d, c, p
}

func TestNewTableDefaults(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, "#PF Page-Fault Exception", tbl.Name(14))
	assert.Equal(t, "#XF SIMD Floating-Point Exception", tbl.Name(19))
	assert.Equal(t, "unknown", tbl.Name(0x30))
	assert.Nil(t, tbl.Handler(0x20))

	g := tbl.Gate(0x80)
	assert.Equal(t, GateInterrupt, g.Type())
	assert.Equal(t, uint8(0), g.DPL())
	assert.Equal(t, StubAddr(0x80), g.Offset())

	limit, base := tbl.Descriptor()
	assert.Equal(t, uint16(Count*16-1), limit)
	assert.NotZero(t, base)
}

func TestRegisterExternal(t *testing.T) {
	tbl := NewTable()
	tbl.RegisterExternal(0x20, func(*cpu.Frame) {}, "8254 Timer")

	assert.Equal(t, "8254 Timer", tbl.Name(0x20))
	assert.Equal(t, GateInterrupt, tbl.Gate(0x20).Type())
	assert.NotNil(t, tbl.Handler(0x20))
}

func TestRegisterInternalGateType(t *testing.T) {
	tbl := NewTable()
	tbl.RegisterInternal(0x30, 3, cpu.LevelOn, func(*cpu.Frame) {}, "syscall")
	tbl.RegisterInternal(14, 0, cpu.LevelOff, func(*cpu.Frame) {}, "#PF Page-Fault Exception")

	assert.Equal(t, GateTrap, tbl.Gate(0x30).Type())
	assert.Equal(t, uint8(3), tbl.Gate(0x30).DPL())
	assert.Equal(t, GateInterrupt, tbl.Gate(14).Type())
}

func TestRegisterRejectsWrongRangeAndDuplicates(t *testing.T) {
	tbl := NewTable()
	nop := func(*cpu.Frame) {}

	assert.Panics(t, func() { tbl.RegisterExternal(0x30, nop, "x") })
	assert.Panics(t, func() { tbl.RegisterInternal(0x21, 0, cpu.LevelOff, nop, "x") })
	assert.Panics(t, func() { tbl.RegisterExternal(0x21, nil, "x") })

	tbl.RegisterExternal(0x21, nop, "keyboard")
	assert.Panics(t, func() { tbl.RegisterExternal(0x21, nop, "keyboard") })
}

func TestExternalHandlerRunsInContextWithInterruptsOff(t *testing.T) {
	d, c, p := newTestDispatcher(t)

	var sawContext bool
	var sawLevel cpu.Level
	d.Table().RegisterExternal(0x21, func(*cpu.Frame) {
		sawContext = d.Context()
		sawLevel = d.Level()
	}, "keyboard")

	p.Raise(1)
	d.Enable()

	assert.True(t, sawContext)
	assert.Equal(t, cpu.LevelOff, sawLevel)
	assert.False(t, d.Context())
	assert.Equal(t, cpu.LevelOn, c.Level(), "iretq restores IF")
	assert.Equal(t, 1, p.EOIs())
	assert.Equal(t, uint64(1), d.Count(0x21))
}

func TestPendingWhileDisabledIsDeliveredOnEnable(t *testing.T) {
	d, _, p := newTestDispatcher(t)

	n := 0
	d.Table().RegisterExternal(0x20, func(*cpu.Frame) { n++ }, "8254 Timer")

	p.Raise(0)
	d.Deliver()
	assert.Equal(t, 0, n, "interrupts are off")

	old := d.Enable()
	assert.Equal(t, cpu.LevelOff, old)
	assert.Equal(t, 1, n)
}

func TestYieldOnReturnRunsAfterEOI(t *testing.T) {
	d, _, p := newTestDispatcher(t)

	var eoisAtYield int
	yields := 0
	d.SetYield(func() {
		yields++
		eoisAtYield = p.EOIs()
		assert.False(t, d.Context())
	})
	d.Table().RegisterExternal(0x20, func(*cpu.Frame) { d.YieldOnReturn() }, "8254 Timer")

	p.Raise(0)
	d.Enable()

	assert.Equal(t, 1, yields)
	assert.Equal(t, 1, eoisAtYield)
}

func TestYieldOnReturnOutsideContextPanics(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	assert.Panics(t, func() { d.YieldOnReturn() })
}

func TestEnableInsideExternalHandlerPanics(t *testing.T) {
	d, _, p := newTestDispatcher(t)
	d.Table().RegisterExternal(0x20, func(*cpu.Frame) { d.Enable() }, "8254 Timer")

	p.Raise(0)
	var err error
	func() {
		defer kdebug.Recover(&err)
		d.Enable()
	}()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intr_context")
}

func TestSpuriousInterruptsIgnored(t *testing.T) {
	d, _, p := newTestDispatcher(t)

	p.Raise(7)
	p.Raise(15)
	assert.NotPanics(t, func() { d.Enable() })
	assert.Equal(t, uint64(1), d.Count(0x27))
	assert.Equal(t, uint64(1), d.Count(0x2f))
	assert.Equal(t, 2, p.EOIs())
}

func TestUnexpectedInterruptDumpsAndPanics(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	var console bytes.Buffer
	d.SetConsole(&console)
	c.SetCR2(0xdeadbeef)

	f := cpu.NewFrame(14)
	f.ErrorCode = 2
	var err error
	func() {
		defer kdebug.Recover(&err)
		d.Trap(14, f)
	}()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unexpected interrupt")
	out := console.String()
	assert.Contains(t, out, "Interrupt 0x0e (#PF Page-Fault Exception)")
	assert.Contains(t, out, "cr2=00000000deadbeef")
}

func TestTrapGateKeepsInterruptLevel(t *testing.T) {
	d, c, _ := newTestDispatcher(t)

	var during cpu.Level
	d.Table().RegisterInternal(0x30, 3, cpu.LevelOn, func(*cpu.Frame) { during = d.Level() }, "syscall")
	d.Table().RegisterInternal(0x31, 0, cpu.LevelOff, func(*cpu.Frame) {}, "off")

	c.Sti()
	d.Trap(0x30, nil)
	assert.Equal(t, cpu.LevelOn, during)

	d.Trap(0x31, nil)
	assert.Equal(t, cpu.LevelOn, c.Level())
	assert.False(t, d.Context(), "internal interrupts are not interrupt context")
}

func TestHandlerFrameChangesAreRestored(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	d.Table().RegisterInternal(0x40, 0, cpu.LevelOff, func(f *cpu.Frame) {
		f.Eflags &^= cpu.InterruptFlag
	}, "cli-on-return")

	c.Sti()
	d.Trap(0x40, nil)
	assert.Equal(t, cpu.LevelOff, c.Level())
}
