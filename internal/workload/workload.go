// Package workload describes sets of kernel threads and what they do, and
// runs them on a booted kernel.
//
// A workload is a YAML document:
//
//	name: donation
//	locks: [a]
//	threads:
//	  - name: low
//	    priority: 10
//	    actions: [acquire a, compute 20, release a]
//	  - name: high
//	    priority: 40
//	    start: 5
//	    actions: [acquire a, release a]
//
// Thread bodies are either a list of actions or a JavaScript script.
package workload

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// Workload is a set of threads sharing locks and semaphores.
type Workload struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	MLFQS       bool           `yaml:"mlfqs,omitempty"`
	Locks       []string       `yaml:"locks,omitempty"`
	Semaphores  map[string]int `yaml:"semaphores,omitempty"`
	Threads     []ThreadSpec   `yaml:"threads"`
}

// ThreadSpec is one thread of a workload.
type ThreadSpec struct {
	Name     string   `yaml:"name"`
	Priority *int     `yaml:"priority,omitempty"` // default PRI_DEFAULT
	Nice     int      `yaml:"nice,omitempty"`
	Start    int64    `yaml:"start,omitempty"` // tick at which the thread is created
	Actions  []Action `yaml:"actions,omitempty"`
	Script   string   `yaml:"script,omitempty"`
}

// EffectivePriority returns the creation priority.
func (t ThreadSpec) EffectivePriority() int {
	if t.Priority == nil {
		return thread.PriDefault
	}
	return *t.Priority
}

// Parse decodes and validates a workload document.
func Parse(data []byte) (*Workload, error) {
	var w Workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workload: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Load reads a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Marshal encodes w as YAML.
func (w *Workload) Marshal() ([]byte, error) {
	return yaml.Marshal(w)
}

// Validate checks names, ranges and references. All problems are reported
// in one error.
func (w *Workload) Validate() error {
	var errs []model.FieldError
	add := func(field, format string, v ...any) {
		errs = append(errs, model.FieldError{Field: field, Message: fmt.Sprintf(format, v...)})
	}

	if w.Name == "" {
		add("name", "is required")
	}
	if len(w.Threads) == 0 {
		add("threads", "at least one thread is required")
	}

	locks := make(map[string]bool, len(w.Locks))
	for i, l := range w.Locks {
		if l == "" {
			add(fmt.Sprintf("locks[%d]", i), "name is required")
		} else if locks[l] {
			add(fmt.Sprintf("locks[%d]", i), "duplicate lock %q", l)
		}
		locks[l] = true
	}
	for name, v := range w.Semaphores {
		if v < 0 {
			add("semaphores."+name, "initial value %d is negative", v)
		}
	}

	names := make(map[string]bool, len(w.Threads))
	for i, t := range w.Threads {
		field := fmt.Sprintf("threads[%d]", i)
		switch {
		case t.Name == "":
			add(field+".name", "is required")
		case len(t.Name) > thread.MaxName:
			add(field+".name", "%q is longer than %d characters", t.Name, thread.MaxName)
		case names[t.Name]:
			add(field+".name", "duplicate thread %q", t.Name)
		}
		names[t.Name] = true

		if p := t.EffectivePriority(); p < thread.PriMin || p > thread.PriMax {
			add(field+".priority", "%d out of range %d..%d", p, thread.PriMin, thread.PriMax)
		}
		if t.Nice < thread.NiceMin || t.Nice > thread.NiceMax {
			add(field+".nice", "%d out of range %d..%d", t.Nice, thread.NiceMin, thread.NiceMax)
		}
		if t.Start < 0 {
			add(field+".start", "must not be negative")
		}
		if t.Script != "" && len(t.Actions) > 0 {
			add(field, "has both actions and a script")
		}

		for j, a := range t.Actions {
			af := fmt.Sprintf("%s.actions[%d]", field, j)
			switch a.Op {
			case OpCompute, OpSleep:
				if a.N < 0 {
					add(af, "%s must not be negative", a.Op)
				}
			case OpPriority:
				if a.N < thread.PriMin || a.N > thread.PriMax {
					add(af, "priority %d out of range", a.N)
				}
			case OpNice:
				if a.N < thread.NiceMin || a.N > thread.NiceMax {
					add(af, "nice %d out of range", a.N)
				}
			case OpAcquire, OpRelease:
				if !locks[a.Arg] {
					add(af, "unknown lock %q", a.Arg)
				}
			case OpDown, OpUp:
				if _, ok := w.Semaphores[a.Arg]; !ok {
					add(af, "unknown semaphore %q", a.Arg)
				}
			}
		}
	}

	if len(errs) > 0 {
		return model.NewValidationError("invalid workload", errs...)
	}
	return nil
}

// byStart returns the threads in creation order: by start tick, then as
// listed.
func (w *Workload) byStart() []ThreadSpec {
	ts := append([]ThreadSpec(nil), w.Threads...)
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Start < ts[j].Start })
	return ts
}
