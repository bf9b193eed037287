package trace

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/kthreads/pkg/model"
)

func ev(tick int64, kind model.EventKind, tid int, name string, pri int) model.Event {
	return model.Event{Tick: tick, Kind: kind, TID: tid, Thread: name, Priority: pri}
}

func TestRecorderStampsEvents(t *testing.T) {
	r := NewRecorder("run-1")
	r.OnEvent(ev(0, model.EventCreate, 3, "a", 31))
	r.OnEvent(ev(0, model.EventUnblock, 3, "a", 31))

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, 2, events[1].Seq)
}

func TestRecorderWaitTimes(t *testing.T) {
	r := NewRecorder("run-1")
	r.OnEvent(ev(0, model.EventUnblock, 3, "a", 31))
	r.OnEvent(ev(0, model.EventUnblock, 4, "b", 31))
	r.OnEvent(ev(5, model.EventRun, 3, "a", 31))
	r.OnEvent(ev(10, model.EventYield, 3, "a", 31))
	r.OnEvent(ev(10, model.EventRun, 4, "b", 31))
	r.OnEvent(ev(12, model.EventExit, 4, "b", 31))
	r.OnEvent(ev(12, model.EventRun, 3, "a", 31))
	r.OnEvent(ev(20, model.EventExit, 3, "a", 40))

	threads := r.Threads()
	require.Len(t, threads, 2)

	a := threads[0]
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, 2, a.Runs)
	assert.Equal(t, int64(5), a.FirstRun)
	assert.Equal(t, int64(20), a.Exited)
	assert.Equal(t, 40, a.FinalPriority)
	// waits: 5 then 2
	assert.InDelta(t, 3.5, a.WaitP50, 1.5)

	b := threads[1]
	assert.Equal(t, int64(10), b.FirstRun)
	assert.Equal(t, 10.0, b.WaitP50)

	sum := r.Summary()
	assert.Equal(t, 8, sum.Events)
	assert.Equal(t, 2, sum.Threads)
	assert.Equal(t, 3, sum.Switches)
	assert.InDelta(t, 17.0/3, sum.WaitMean, 0.001)
	assert.Equal(t, 10.0, sum.WaitMax)
}

func TestRecorderYieldWithoutSwitchCountsZeroWait(t *testing.T) {
	r := NewRecorder("")
	r.OnEvent(ev(0, model.EventRun, 3, "a", 31))
	r.OnEvent(ev(4, model.EventYield, 3, "a", 31))
	r.OnEvent(ev(6, model.EventSleep, 3, "a", 31))

	sum := r.Summary()
	assert.Equal(t, 0.0, sum.WaitMax)
	assert.Equal(t, 0.0, sum.WaitMean)
}

func TestRecorderRepeatedYieldsWithoutSwitch(t *testing.T) {
	r := NewRecorder("")
	r.OnEvent(ev(0, model.EventRun, 3, "a", 31))
	r.OnEvent(ev(4, model.EventYield, 3, "a", 31))
	r.OnEvent(ev(8, model.EventYield, 3, "a", 31))
	r.OnEvent(ev(8, model.EventRun, 4, "b", 31))
	r.OnEvent(ev(11, model.EventExit, 4, "b", 31))
	r.OnEvent(ev(11, model.EventRun, 3, "a", 31))
	r.OnEvent(ev(12, model.EventExit, 3, "a", 31))

	threads := r.Threads()
	require.Len(t, threads, 2)
	// waits: 0 for the first yield, 3 for the one that switched to b
	sum := r.Summary()
	assert.Equal(t, 3.0, sum.WaitMax)
	assert.InDelta(t, 1.5, sum.WaitMean, 0.001)
}

func TestRecorderSkipsKernelThreads(t *testing.T) {
	r := NewRecorder("")
	r.OnEvent(ev(0, model.EventRun, 1, "main", 63))
	r.OnEvent(ev(0, model.EventSleep, 1, "main", 63))
	r.OnEvent(ev(0, model.EventRun, 2, "idle", 0))
	r.OnEvent(ev(1, model.EventYield, 2, "idle", 0))
	r.OnEvent(ev(1, model.EventUnblock, 1, "main", 63))
	r.OnEvent(ev(1, model.EventRun, 1, "main", 63))
	assert.Empty(t, r.Threads())
	assert.Equal(t, 0, r.Summary().Threads)
}

func TestSummaryEmpty(t *testing.T) {
	sum := NewRecorder("").Summary()
	assert.Equal(t, Summary{}, sum)
}

func TestWriteReport(t *testing.T) {
	r := NewRecorder("run-1")
	r.OnEvent(ev(0, model.EventUnblock, 3, "worker", 31))
	r.OnEvent(ev(2, model.EventRun, 3, "worker", 31))
	r.OnEvent(ev(1500, model.EventExit, 3, "worker", 31))

	run := model.Run{
		ID:        "run-1",
		Workload:  "demo",
		State:     model.RunStateCompleted,
		Ticks:     1500,
		Stats:     model.TickStats{IdleTicks: 2, KernelTicks: 1498},
		CreatedAt: time.Now(),
	}
	var buf bytes.Buffer
	WriteReport(&buf, run, r.Threads(), r.Summary())

	out := buf.String()
	assert.Contains(t, out, "Workload:  demo")
	assert.Contains(t, out, "Scheduler: priority")
	assert.Contains(t, out, "1,500")
	assert.Contains(t, out, "Thread: 2 idle ticks, 1498 kernel ticks, 0 user ticks")
	assert.Contains(t, out, "worker")
}
