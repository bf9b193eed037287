package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/executor"
	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/pkg/model"
)

const pairWorkload = `
name: pair
locks: [m]
threads:
  - name: low
    priority: 10
    actions: [acquire m, compute 8, release m]
  - name: high
    priority: 50
    start: 2
    actions: [acquire m, release m]
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	logger := testLogger()
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	kcfg := config.DefaultKernelConfig()
	kcfg.MaxTicks = 5000
	ex := executor.New(kcfg, logger, executor.WithStore(st))
	return New(config.DefaultServerConfig(), st, ex, logger), st
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func seedRun(t *testing.T, st *store.SQLiteStore, id string) {
	t.Helper()
	ctx := context.Background()
	run := &model.Run{ID: id, Workload: "seeded", State: model.RunStateCompleted, Ticks: 10, CreatedAt: time.Now().UTC()}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	events := []model.Event{
		{Seq: 1, Tick: 0, Kind: model.EventCreate, TID: 3, Thread: "a", Priority: 31},
		{Seq: 2, Tick: 0, Kind: model.EventRun, TID: 3, Thread: "a", Priority: 31},
		{Seq: 3, Tick: 10, Kind: model.EventExit, TID: 3, Thread: "a", Priority: 31},
	}
	if err := st.AddEvents(ctx, id, events); err != nil {
		t.Fatalf("add events: %v", err)
	}
	if err := st.PutThreads(ctx, id, []model.ThreadSummary{{TID: 3, Name: "a", FinalPriority: 31, Runs: 1, Exited: 10}}); err != nil {
		t.Fatalf("put threads: %v", err)
	}
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/", "", http.StatusOK)
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Name != "kthreads API" {
		t.Errorf("name = %q, want kthreads API", data.Name)
	}
	if len(data.Endpoints) != 5 {
		t.Errorf("endpoints count = %d, want 5", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/health", "", http.StatusOK)

	var data struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Store    string `json:"store"`
		Executor string `json:"executor"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || data.Store != "ok" || data.Executor != "available" {
		t.Errorf("health = %+v", data)
	}
}

func TestGetRun(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_a")

	env := do(t, srv, "GET", "/api/v1/runs/run_a", "", http.StatusOK)
	var data struct {
		ID      string                `json:"id"`
		State   string                `json:"state"`
		Threads []model.ThreadSummary `json:"threads"`
	}
	json.Unmarshal(env.Data, &data)
	if data.ID != "run_a" || data.State != "COMPLETED" {
		t.Errorf("run = %+v", data)
	}
	if len(data.Threads) != 1 || data.Threads[0].Name != "a" {
		t.Errorf("threads = %+v", data.Threads)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/runs/missing", "", http.StatusNotFound)
	if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
	do(t, srv, "GET", "/api/v1/runs/missing/events", "", http.StatusNotFound)
	do(t, srv, "GET", "/api/v1/runs/missing/threads", "", http.StatusNotFound)
}

func TestListRuns(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_a")
	seedRun(t, st, "run_b")

	env := do(t, srv, "GET", "/api/v1/runs/?limit=1", "", http.StatusOK)
	if env.Pagination == nil {
		t.Fatal("expected pagination")
	}
	if env.Pagination.Total != 2 || !env.Pagination.HasMore || env.Pagination.Limit != 1 {
		t.Errorf("pagination = %+v", env.Pagination)
	}

	env = do(t, srv, "GET", "/api/v1/runs/?state=FAILED", "", http.StatusOK)
	if env.Pagination.Total != 0 || string(env.Data) != "[]" {
		t.Errorf("filtered: total=%d data=%s", env.Pagination.Total, env.Data)
	}

	env = do(t, srv, "GET", "/api/v1/runs/?limit=abc", "", http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestListEvents(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_a")

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?kind=exit", 1},
		{"?tid=3", 3},
		{"?tid=9", 0},
		{"?from=5", 1},
		{"?limit=2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			env := do(t, srv, "GET", "/api/v1/runs/run_a/events"+tt.query, "", http.StatusOK)
			var events []model.Event
			json.Unmarshal(env.Data, &events)
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}

	do(t, srv, "GET", "/api/v1/runs/run_a/events?tid=x", "", http.StatusBadRequest)
	do(t, srv, "GET", "/api/v1/runs/run_a/events?from=-1", "", http.StatusBadRequest)
}

func TestCreateRun(t *testing.T) {
	srv, st := testServer(t)

	env := do(t, srv, "POST", "/api/v1/runs/", pairWorkload, http.StatusCreated)
	var data struct {
		ID      string                `json:"id"`
		State   string                `json:"state"`
		Ticks   int64                 `json:"ticks"`
		Threads []model.ThreadSummary `json:"threads"`
		Summary struct {
			Events int `json:"events"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(data.ID, "run_") || data.State != "COMPLETED" {
		t.Errorf("run = %+v", data)
	}
	if len(data.Threads) != 2 || data.Summary.Events == 0 {
		t.Errorf("threads=%d events=%d", len(data.Threads), data.Summary.Events)
	}

	stored, err := st.GetRun(context.Background(), data.ID)
	if err != nil || stored == nil {
		t.Fatalf("run not stored: %v", err)
	}

	env = do(t, srv, "GET", "/api/v1/runs/"+data.ID+"/events?kind=donate", "", http.StatusOK)
	var donations []model.Event
	json.Unmarshal(env.Data, &donations)
	if len(donations) != 1 || donations[0].Thread != "low" || donations[0].Priority != 50 {
		t.Errorf("donations = %+v", donations)
	}
}

func TestCreateRun_Failed(t *testing.T) {
	srv, _ := testServer(t)
	body := "name: stuck\nsemaphores: {s: 0}\nthreads:\n  - name: w\n    actions: [down s]\n"

	env := do(t, srv, "POST", "/api/v1/runs/?mlfqs=true", body, http.StatusCreated)
	var data struct {
		State string `json:"state"`
		MLFQS bool   `json:"mlfqs"`
		Error string `json:"error"`
	}
	json.Unmarshal(env.Data, &data)
	if data.State != "FAILED" || !data.MLFQS || !strings.Contains(data.Error, "deadlock") {
		t.Errorf("run = %+v", data)
	}
}

func TestCreateRun_Invalid(t *testing.T) {
	srv, _ := testServer(t)

	env := do(t, srv, "POST", "/api/v1/runs/", "name: [", http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v", env.Error)
	}

	env = do(t, srv, "POST", "/api/v1/runs/", "name: x\nthreads: []\n", http.StatusBadRequest)
	if env.Error == nil || len(env.Error.Details) == 0 {
		t.Errorf("expected field details, got %+v", env.Error)
	}
}

func TestCreateRun_ReadOnly(t *testing.T) {
	_, st := testServer(t)
	srv := New(config.DefaultServerConfig(), st, nil, testLogger())
	do(t, srv, "POST", "/api/v1/runs/", pairWorkload, http.StatusServiceUnavailable)
}

func TestDeleteRun(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_a")

	do(t, srv, "DELETE", "/api/v1/runs/run_a", "", http.StatusOK)
	do(t, srv, "GET", "/api/v1/runs/run_a", "", http.StatusNotFound)
	do(t, srv, "DELETE", "/api/v1/runs/run_a", "", http.StatusNotFound)
}

func TestDeleteRun_Running(t *testing.T) {
	srv, st := testServer(t)
	run := &model.Run{ID: "run_live", Workload: "w", State: model.RunStateRunning, CreatedAt: time.Now().UTC()}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	env := do(t, srv, "DELETE", "/api/v1/runs/run_live", "", http.StatusConflict)
	if env.Error == nil || env.Error.Code != model.ErrConflict {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestServeShutsDown(t *testing.T) {
	logger := testLogger()
	cfg := config.DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
