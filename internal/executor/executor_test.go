package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/kdebug"
	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/internal/workload"
	"github.com/me/kthreads/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustParse(t *testing.T, doc string) *workload.Workload {
	t.Helper()
	w, err := workload.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return w
}

func testConfig() config.KernelConfig {
	cfg := config.DefaultKernelConfig()
	cfg.MaxTicks = 5000
	return cfg
}

func TestExecutePersistsRun(t *testing.T) {
	st := testStore(t)
	ex := New(testConfig(), testLogger(), WithStore(st))
	w := mustParse(t, `
name: pair
threads:
  - name: a
    actions: [compute 6]
  - name: b
    actions: [compute 6]
`)
	ctx := context.Background()

	res, err := ex.Execute(ctx, w)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Run.State != model.RunStateCompleted {
		t.Errorf("state = %s, want COMPLETED", res.Run.State)
	}
	if res.Run.Ticks < 12 {
		t.Errorf("ticks = %d, want >= 12", res.Run.Ticks)
	}
	if len(res.Threads) != 2 {
		t.Errorf("threads = %d, want 2", len(res.Threads))
	}

	got, err := st.GetRun(ctx, res.Run.ID)
	if err != nil || got == nil {
		t.Fatalf("get run: %v, %v", got, err)
	}
	if got.State != model.RunStateCompleted || got.CompletedAt == nil {
		t.Errorf("stored run = %+v", got)
	}
	if got.Stats.Total() != got.Ticks {
		t.Errorf("stats total %d != ticks %d", got.Stats.Total(), got.Ticks)
	}

	events, total, err := st.ListEvents(ctx, res.Run.ID, store.EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != len(res.Events) || len(events) == 0 {
		t.Errorf("stored %d events, recorded %d", total, len(res.Events))
	}
	threads, err := st.ListThreads(ctx, res.Run.ID)
	if err != nil || len(threads) != 2 {
		t.Errorf("stored threads = %v, %v", threads, err)
	}
	for _, th := range threads {
		if th.Name == "main" || th.Exited < 0 {
			t.Errorf("stored thread %s exited at %d", th.Name, th.Exited)
		}
	}
}

func TestExecuteRecordsFailure(t *testing.T) {
	st := testStore(t)
	ex := New(testConfig(), testLogger(), WithStore(st))
	w := mustParse(t, `
name: stuck
semaphores: {never: 0}
threads:
  - name: waiter
    actions: [down never]
`)
	ctx := context.Background()

	res, err := ex.Execute(ctx, w)
	if !errors.Is(err, kdebug.ErrDeadlock) {
		t.Fatalf("err = %v, want deadlock", err)
	}
	if res == nil {
		t.Fatal("expected a result for a failed run")
	}

	got, _ := st.GetRun(ctx, res.Run.ID)
	if got.State != model.RunStateFailed {
		t.Errorf("state = %s, want FAILED", got.State)
	}
	if got.Error == "" {
		t.Error("expected the halt reason to be saved")
	}
}

func TestExecuteWorkloadSelectsMLFQS(t *testing.T) {
	ex := New(testConfig(), testLogger())
	w := mustParse(t, `
name: fair
mlfqs: true
threads:
  - name: a
    nice: 5
    actions: [compute 10]
`)
	res, err := ex.Execute(context.Background(), w)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Run.MLFQS {
		t.Error("run should use mlfqs")
	}
}

func TestExecuteBackToBack(t *testing.T) {
	ex := New(testConfig(), testLogger())
	w := mustParse(t, "name: one\nthreads:\n  - name: a\n    actions: [compute 2, sleep 3]\n")
	for i := 0; i < 3; i++ {
		if _, err := ex.Execute(context.Background(), w); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestExecuteRejectsInvalid(t *testing.T) {
	ex := New(testConfig(), testLogger())
	res, err := ex.Execute(context.Background(), &workload.Workload{})
	if err == nil || res != nil {
		t.Fatalf("expected validation error, got %v, %v", res, err)
	}
}
