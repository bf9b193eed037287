package thread

import (
	"context"
	"log/slog"

	"github.com/me/kthreads/pkg/model"
)

// Listener observes scheduler events. OnEvent runs on the running thread
// with interrupts possibly off; it must not block or call back into the
// thread system.
type Listener interface {
	OnEvent(ev model.Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ev model.Event)

// OnEvent calls f(ev).
func (f ListenerFunc) OnEvent(ev model.Event) { f(ev) }

// AddListener registers l for every subsequent event.
func (s *System) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Note records a free-form event on behalf of the running thread.
func (s *System) Note(detail string) {
	s.emit(model.EventLog, s.Current(), detail)
}

func (s *System) emit(kind model.EventKind, t *Thread, detail string) {
	debug := s.logger.Enabled(context.Background(), slog.LevelDebug)
	if len(s.listeners) == 0 && !debug {
		return
	}
	ev := model.Event{
		Tick:     s.now(),
		Kind:     kind,
		TID:      int(t.tid),
		Thread:   t.name,
		Priority: t.priority,
		Detail:   detail,
	}
	if debug {
		s.logger.Debug("thread event", "kind", kind, "tid", ev.TID, "thread", ev.Thread, "priority", ev.Priority, "tick", ev.Tick)
	}
	for _, l := range s.listeners {
		l.OnEvent(ev)
	}
}
