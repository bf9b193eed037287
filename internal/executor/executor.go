// Package executor runs workloads on freshly booted kernels and records the
// outcome.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/kernel"
	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/internal/trace"
	"github.com/me/kthreads/internal/workload"
	"github.com/me/kthreads/pkg/model"
)

// Executor boots one kernel per workload. It holds no kernel state between
// runs, so Execute may be called from several goroutines at once; each call
// turns its goroutine into that kernel's initial thread until it returns.
type Executor struct {
	cfg     config.KernelConfig
	store   store.Store // optional
	console io.Writer
	base    *slog.Logger // handed to the kernels
	logger  *slog.Logger
}

// Option configures optional Executor dependencies.
type Option func(*Executor)

// WithStore persists every run, its events and its thread summaries.
func WithStore(st store.Store) Option {
	return func(e *Executor) { e.store = st }
}

// WithConsole sets where kernel frame dumps go.
func WithConsole(w io.Writer) Option {
	return func(e *Executor) { e.console = w }
}

// New creates an Executor booting kernels with cfg.
func New(cfg config.KernelConfig, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		cfg:     cfg,
		console: io.Discard,
		base:    logger,
		logger:  logger.With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one run.
type Result struct {
	Run     *model.Run
	Threads []model.ThreadSummary
	Events  []model.Event
	Summary trace.Summary
}

// Execute runs w to completion. The workload's mlfqs flag turns on the
// MLFQS scheduler even if the executor's configuration does not. A run
// that halts is recorded as FAILED and its error returned together with
// the result; Result is nil only if the run could not be started.
func (e *Executor) Execute(ctx context.Context, w *workload.Workload) (*Result, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	cfg := e.cfg
	cfg.MLFQS = cfg.MLFQS || w.MLFQS

	run := &model.Run{
		ID:        "run_" + uuid.New().String(),
		Workload:  w.Name,
		MLFQS:     cfg.MLFQS,
		State:     model.RunStateRunning,
		CreatedAt: time.Now().UTC(),
	}
	log := e.logger.With("run_id", run.ID, "workload", w.Name)
	if e.store != nil {
		if err := e.store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}

	rec := trace.NewRecorder(run.ID)
	k, err := kernel.Boot(cfg, e.base, kernel.WithListener(rec), kernel.WithConsole(e.console))
	if err != nil {
		e.finish(ctx, run, model.RunStateFailed, err)
		return nil, err
	}
	runErr := workload.Run(ctx, k, w, e.base)
	run.Ticks = k.Ticks()
	run.Stats = k.Stats()
	k.Shutdown()

	state := model.RunStateCompleted
	if runErr != nil {
		state = model.RunStateFailed
	}
	// A canceled run is still recorded.
	ctx = context.WithoutCancel(ctx)
	res := &Result{
		Run:     run,
		Threads: rec.Threads(),
		Events:  rec.Events(),
		Summary: rec.Summary(),
	}
	if e.store != nil {
		if err := e.store.AddEvents(ctx, run.ID, res.Events); err != nil {
			return res, fmt.Errorf("save events: %w", err)
		}
		if err := e.store.PutThreads(ctx, run.ID, res.Threads); err != nil {
			return res, fmt.Errorf("save threads: %w", err)
		}
	}
	if err := e.finish(ctx, run, state, runErr); err != nil {
		return res, err
	}
	log.Info("run finished", "state", run.State, "ticks", run.Ticks, "events", len(res.Events))
	return res, runErr
}

// finish moves run to its terminal state and saves it.
func (e *Executor) finish(ctx context.Context, run *model.Run, state model.RunState, cause error) error {
	if !run.State.CanTransitionTo(state) {
		return &model.InvalidTransitionError{Entity: "run", ID: run.ID, From: string(run.State), To: string(state)}
	}
	now := time.Now().UTC()
	run.State = state
	run.CompletedAt = &now
	if cause != nil {
		run.Error = cause.Error()
	}
	if e.store == nil {
		return nil
	}
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}
