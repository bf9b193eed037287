package timer

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/pic"
)

type recordingTicker struct {
	ticks  int
	awakes []int64
}

func (r *recordingTicker) Tick()           { r.ticks++ }
func (r *recordingTicker) Awake(now int64) { r.awakes = append(r.awakes, now) }

func setup(t *testing.T) (*Timer, *recordingTicker, *pic.PIC, *intr.Dispatcher) {
	t.Helper()
	p := pic.New()
	p.Init()
	tbl := intr.NewTable()
	d := intr.NewDispatcher(cpu.New(), p, tbl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tm := New(100)
	rec := &recordingTicker{}
	tm.Init(tbl, rec)
	return tm, rec, p, d
}

func TestTimerInterruptAdvancesTicks(t *testing.T) {
	tm, rec, p, d := setup(t)
	d.Enable()

	for i := 0; i < 3; i++ {
		p.Raise(IRQ)
		d.Deliver()
	}

	assert.Equal(t, int64(3), tm.Ticks())
	assert.Equal(t, 3, rec.ticks)
	assert.Equal(t, []int64{1, 2, 3}, rec.awakes)
	assert.Equal(t, int64(2), tm.Elapsed(1))
	assert.Equal(t, "8254 Timer", d.Name(Vector))
}

func TestCoalescedWhileDisabled(t *testing.T) {
	tm, _, p, d := setup(t)

	p.Raise(IRQ)
	p.Raise(IRQ)
	d.Enable()

	assert.Equal(t, int64(1), tm.Ticks(), "an edge-triggered line latches once")
}

func TestTickLimitHalts(t *testing.T) {
	tm, _, p, d := setup(t)
	tm.SetLimit(1)
	d.Enable()

	p.Raise(IRQ)
	d.Deliver()

	var err error
	func() {
		defer kdebug.Recover(&err)
		p.Raise(IRQ)
		d.Deliver()
	}()
	require.Error(t, err)
	assert.True(t, errors.Is(err, kdebug.ErrTickLimit))
}

func TestDivisorAndFrequencyBounds(t *testing.T) {
	assert.Equal(t, uint16(11932), New(100).Divisor())
	assert.Panics(t, func() { New(18) })
	assert.Panics(t, func() { New(1001) })
}
