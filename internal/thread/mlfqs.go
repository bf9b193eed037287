package thread

import (
	"strconv"

	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/pkg/model"
)

var (
	loadDecay  = fixedpoint.Ratio(59, 60)
	loadWeight = fixedpoint.Ratio(1, 60)
)

func (s *System) now() int64 {
	if s.clock == nil {
		return 0
	}
	return s.clock.Ticks()
}

func (s *System) mlfqsTick() {
	now := s.now()
	if cur := s.current; cur != s.idle {
		cur.recentCPU = cur.recentCPU.AddInt(1)
	}
	if now%int64(s.cfg.TimerFreq) == 0 {
		s.updateLoadAvg()
		for _, t := range s.all {
			s.updateRecentCPU(t)
		}
	}
	if now%int64(s.cfg.TimeSlice) == 0 {
		for _, t := range s.all {
			before := t.priority
			s.updatePriority(t)
			if t.priority != before {
				s.emit(model.EventPriority, t, "mlfqs")
			}
		}
		s.TestMaxPriority()
	}
}

// updatePriority sets priority = PRI_MAX - recent_cpu/4 - nice*2, clamped.
func (s *System) updatePriority(t *Thread) {
	if t == s.idle {
		return
	}
	p := fixedpoint.FromInt(PriMax).Sub(t.recentCPU.DivInt(4)).SubInt(t.nice * 2).Int()
	p = min(max(p, PriMin), PriMax)
	t.priority, t.basePriority = p, p
}

// updateRecentCPU decays recent_cpu by (2*load_avg)/(2*load_avg+1) and adds nice.
func (s *System) updateRecentCPU(t *Thread) {
	if t == s.idle {
		return
	}
	twice := s.loadAvg.MulInt(2)
	coef := twice.Div(twice.AddInt(1))
	t.recentCPU = coef.Mul(t.recentCPU).AddInt(t.nice)
}

// updateLoadAvg folds the number of ready or running threads into the
// exponentially weighted moving average.
func (s *System) updateLoadAvg() {
	ready := s.ready.Len()
	if s.current != s.idle {
		ready++
	}
	s.loadAvg = loadDecay.Mul(s.loadAvg).Add(loadWeight.MulInt(ready))
}

// SetNice sets the running thread's nice value, clamped to [NiceMin,
// NiceMax], and recomputes its priority.
func (s *System) SetNice(nice int) {
	nice = min(max(nice, NiceMin), NiceMax)

	old := s.intr.Disable()
	cur := s.Current()
	cur.nice = nice
	if s.cfg.MLFQS {
		s.updatePriority(cur)
	}
	s.emit(model.EventNice, cur, strconv.Itoa(nice))
	s.intr.SetLevel(old)

	s.TestMaxPriority()
}

// Nice returns the running thread's nice value.
func (s *System) Nice() int {
	return s.Current().nice
}

// LoadAvg returns 100 times the system load average, rounded.
func (s *System) LoadAvg() int {
	old := s.intr.Disable()
	v := s.loadAvg.MulInt(100).Round()
	s.intr.SetLevel(old)
	return v
}

// RecentCPU returns 100 times the running thread's recent_cpu, rounded.
func (s *System) RecentCPU() int {
	old := s.intr.Disable()
	v := s.Current().recentCPU.MulInt(100).Round()
	s.intr.SetLevel(old)
	return v
}
