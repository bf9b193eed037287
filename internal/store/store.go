package store

import (
	"context"

	"github.com/me/kthreads/pkg/model"
)

// Store defines the persistence layer for recorded runs.
type Store interface {
	// Run CRUD
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	DeleteRun(ctx context.Context, id string) error

	// Trace
	AddEvents(ctx context.Context, runID string, events []model.Event) error
	ListEvents(ctx context.Context, runID string, filter EventFilter) ([]model.Event, int, error)
	PutThreads(ctx context.Context, runID string, threads []model.ThreadSummary) error
	ListThreads(ctx context.Context, runID string) ([]model.ThreadSummary, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	model.ListOptions
	Kind     model.EventKind // Optional event kind
	TID      *int            // Optional thread
	FromTick int64
	ToTick   int64 // 0 for no upper bound
}
