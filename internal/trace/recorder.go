// Package trace records scheduler events and summarises how long each
// thread waited to run.
package trace

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/me/kthreads/pkg/model"
)

// Recorder is a thread.Listener that keeps every event of a run.
type Recorder struct {
	runID   string
	events  []model.Event
	threads map[int]*threadStats
	order   []int
	running int
	// redispatch is the thread that yielded while running and has not
	// seen a run event since, or 0.
	redispatch int
}

// initialTID is the kernel's initial thread, which launches the workload
// and is never queued.
const initialTID = 1

func (ts *threadStats) kernelThread(tid int) bool {
	return tid == initialTID || ts.name == "idle"
}

type threadStats struct {
	name     string
	priority int
	runs     int
	firstRun int64
	exited   int64
	readyAt  int64 // -1 when not waiting
	waits    []float64
}

// NewRecorder returns an empty recorder stamping events with runID.
func NewRecorder(runID string) *Recorder {
	return &Recorder{runID: runID, threads: make(map[int]*threadStats)}
}

func (r *Recorder) thread(ev model.Event) *threadStats {
	ts, ok := r.threads[ev.TID]
	if !ok {
		ts = &threadStats{name: ev.Thread, firstRun: -1, exited: -1, readyAt: -1}
		r.threads[ev.TID] = ts
		r.order = append(r.order, ev.TID)
	}
	ts.priority = ev.Priority
	return ts
}

// OnEvent records ev.
func (r *Recorder) OnEvent(ev model.Event) {
	ev.RunID = r.runID
	ev.Seq = len(r.events) + 1
	r.events = append(r.events, ev)

	ts := r.thread(ev)
	if ev.TID == r.redispatch && ev.Kind != model.EventRun {
		// Picked again at its yield without a switch.
		ts.endWait(ts.readyAt)
		r.redispatch = 0
	}
	switch ev.Kind {
	case model.EventRun:
		r.redispatch = 0
		r.running = ev.TID
		ts.runs++
		if ts.firstRun < 0 {
			ts.firstRun = ev.Tick
		}
		ts.endWait(ev.Tick)
	case model.EventUnblock:
		ts.readyAt = ev.Tick
	case model.EventYield:
		ts.endWait(ev.Tick)
		if ev.Thread != "idle" {
			ts.readyAt = ev.Tick
			if ev.TID == r.running {
				r.redispatch = ev.TID
			}
		}
	case model.EventBlock, model.EventSleep, model.EventLog, model.EventNice:
		if ev.TID == r.running {
			ts.endWait(ev.Tick)
		}
	case model.EventExit:
		ts.endWait(ev.Tick)
		ts.exited = ev.Tick
	}
}

func (ts *threadStats) endWait(now int64) {
	if ts.readyAt < 0 {
		return
	}
	ts.waits = append(ts.waits, float64(now-ts.readyAt))
	ts.readyAt = -1
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []model.Event {
	return append([]model.Event(nil), r.events...)
}

// Threads summarises every thread seen, in order of first appearance. The
// initial and idle threads are left out.
func (r *Recorder) Threads() []model.ThreadSummary {
	out := make([]model.ThreadSummary, 0, len(r.order))
	for _, tid := range r.order {
		ts := r.threads[tid]
		if ts.kernelThread(tid) {
			continue
		}
		out = append(out, model.ThreadSummary{
			RunID:         r.runID,
			TID:           tid,
			Name:          ts.name,
			FinalPriority: ts.priority,
			Runs:          ts.runs,
			FirstRun:      ts.firstRun,
			Exited:        ts.exited,
			WaitP50:       percentile(ts.waits, 50),
			WaitP95:       percentile(ts.waits, 95),
		})
	}
	return out
}

// Summary aggregates a run's trace.
type Summary struct {
	Events   int     `json:"events"`
	Threads  int     `json:"threads"`
	Switches int     `json:"switches"`
	WaitMean float64 `json:"wait_mean"`
	WaitP50  float64 `json:"wait_p50"`
	WaitP95  float64 `json:"wait_p95"`
	WaitMax  float64 `json:"wait_max"`
}

// Summary computes wait statistics across the workload's threads.
func (r *Recorder) Summary() Summary {
	s := Summary{Events: len(r.events)}
	var all stats.Float64Data
	for _, tid := range r.order {
		ts := r.threads[tid]
		s.Switches += ts.runs
		if ts.kernelThread(tid) {
			continue
		}
		s.Threads++
		all = append(all, ts.waits...)
	}
	if len(all) == 0 {
		return s
	}
	s.WaitMean, _ = stats.Mean(all)
	s.WaitMax, _ = stats.Max(all)
	s.WaitP50 = percentile(all, 50)
	s.WaitP95 = percentile(all, 95)
	return s
}

func percentile(data []float64, p float64) float64 {
	v, err := stats.Percentile(data, p)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}
