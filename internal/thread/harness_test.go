package thread

import (
	"io"
	"log/slog"
	"testing"

	"github.com/me/kthreads/internal/cpu"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/pic"
	"github.com/me/kthreads/internal/timer"
)

// harness boots a thread system on top of the real processor, interrupt
// controller and timer, with the test goroutine as the initial thread.
type harness struct {
	cpu   *cpu.CPU
	pic   *pic.PIC
	intr  *intr.Dispatcher
	timer *timer.Timer
	pages *PagePool
	sys   *System
}

func boot(t *testing.T, cfg Config, pages int) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{cpu: cpu.New(), pic: pic.New(), pages: NewPagePool(pages)}
	tbl := intr.NewTable()
	h.intr = intr.NewDispatcher(h.cpu, h.pic, tbl, logger)
	h.intr.SetConsole(io.Discard)
	h.timer = timer.New(100)
	h.sys = New(cfg, Deps{Intr: h.intr, Clock: h.timer, Pages: h.pages, Halt: h.halt}, logger)

	h.sys.Init()
	h.pic.Init()
	h.intr.SetYield(h.sys.Yield)
	h.timer.Init(tbl, h.sys)
	h.sys.Start()

	t.Cleanup(h.sys.Shutdown)
	return h
}

func (h *harness) halt() {
	if !h.pic.Pending() {
		h.pic.Raise(timer.IRQ)
	}
	h.intr.Enable()
}

// compute burns n ticks of processor time on the running thread.
func (h *harness) compute(n int) {
	for i := 0; i < n; i++ {
		h.pic.Raise(timer.IRQ)
		h.intr.Deliver()
	}
}

func (h *harness) sleep(ticks int64) {
	h.sys.Sleep(h.timer.Ticks() + ticks)
}
