package workload

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/me/kthreads/internal/thread"
)

// GenOptions controls Generate.
type GenOptions struct {
	Name       string
	Threads    int     // threads to generate
	Lambda     float64 // mean arrivals per interval
	Interval   int64   // ticks per arrival interval
	Seed       uint64
	Locks      int   // shared locks; 0 for none
	MaxCompute int64 // upper bound of one compute burst
	MLFQS      bool
}

// DefaultGenOptions returns a small contended workload.
func DefaultGenOptions() GenOptions {
	return GenOptions{
		Name:       "generated",
		Threads:    8,
		Lambda:     1.5,
		Interval:   10,
		Seed:       1,
		Locks:      2,
		MaxCompute: 20,
	}
}

// Generate builds a random workload. Threads arrive in Poisson-distributed
// batches, one batch per interval; each gets a random priority and a body
// mixing compute bursts, sleeps and critical sections. The same options
// always produce the same workload.
func Generate(opts GenOptions) (*Workload, error) {
	if opts.Threads < 1 {
		return nil, fmt.Errorf("generate: threads must be positive, got %d", opts.Threads)
	}
	if opts.Lambda <= 0 {
		return nil, fmt.Errorf("generate: lambda must be positive, got %g", opts.Lambda)
	}
	if opts.Interval < 1 {
		opts.Interval = 1
	}
	if opts.MaxCompute < 1 {
		opts.MaxCompute = 1
	}
	if opts.Name == "" {
		opts.Name = "generated"
	}

	src := rand.NewSource(opts.Seed)
	rng := rand.New(src)
	arrivals := &distuv.Poisson{Lambda: opts.Lambda, Src: src}

	w := &Workload{
		Name:        opts.Name,
		Description: fmt.Sprintf("%d threads, poisson lambda=%g per %d ticks, seed %d", opts.Threads, opts.Lambda, opts.Interval, opts.Seed),
		MLFQS:       opts.MLFQS,
	}
	for i := 0; i < opts.Locks; i++ {
		w.Locks = append(w.Locks, fmt.Sprintf("l%d", i))
	}

	var start int64
	for len(w.Threads) < opts.Threads {
		batch := int(arrivals.Rand())
		for j := 0; j < batch && len(w.Threads) < opts.Threads; j++ {
			w.Threads = append(w.Threads, genThread(rng, len(w.Threads), start, opts, w.Locks))
		}
		start += opts.Interval
	}
	return w, nil
}

func genThread(rng *rand.Rand, i int, start int64, opts GenOptions, locks []string) ThreadSpec {
	priority := thread.PriMin + rng.Intn(thread.PriMax-thread.PriMin+1)
	spec := ThreadSpec{
		Name:     fmt.Sprintf("t%d", i),
		Priority: &priority,
		Start:    start,
	}
	if opts.MLFQS {
		spec.Priority = nil
		spec.Nice = rng.Intn(11) - 5
	}

	burst := func() int64 { return 1 + rng.Int63n(opts.MaxCompute) }
	steps := 1 + rng.Intn(3)
	for s := 0; s < steps; s++ {
		spec.Actions = append(spec.Actions, Action{Op: OpCompute, N: burst()})
		switch {
		case len(locks) > 0 && rng.Intn(2) == 0:
			l := locks[rng.Intn(len(locks))]
			spec.Actions = append(spec.Actions,
				Action{Op: OpAcquire, Arg: l},
				Action{Op: OpCompute, N: burst()},
				Action{Op: OpRelease, Arg: l},
			)
		case rng.Intn(3) == 0:
			spec.Actions = append(spec.Actions, Action{Op: OpSleep, N: burst()})
		}
	}
	return spec
}
