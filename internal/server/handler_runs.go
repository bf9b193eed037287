package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/internal/trace"
	"github.com/me/kthreads/internal/workload"
	"github.com/me/kthreads/pkg/model"
)

// runDetail is a run with its thread summaries.
type runDetail struct {
	*model.Run
	Threads []model.ThreadSummary `json:"threads"`
	Summary *trace.Summary        `json:"summary,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	opts.State = r.URL.Query().Get("state")
	opts.Workload = r.URL.Query().Get("workload")

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	opts.Clamp()
	respondList(w, reqID, runs, pagination(opts, total))
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.executor == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrInternal, Message: "this server does not execute workloads"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("read body: "+err.Error()))
		return
	}
	wl, err := workload.Parse(body)
	if err != nil {
		respondErr(w, reqID, asValidation(err))
		return
	}
	if mlfqs, _ := strconv.ParseBool(r.URL.Query().Get("mlfqs")); mlfqs {
		wl.MLFQS = true
	}

	res, err := s.executor.Execute(r.Context(), wl)
	if res == nil {
		respondErr(w, reqID, err)
		return
	}
	if err != nil {
		s.logger.Info("run failed", "run_id", res.Run.ID, "error", err, "request_id", reqID)
	}
	respondCreated(w, reqID, runDetail{Run: res.Run, Threads: res.Threads, Summary: &res.Summary})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, ok := s.lookupRun(w, r, id)
	if !ok {
		return
	}
	threads, err := s.store.ListThreads(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, runDetail{Run: run, Threads: threads})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, ok := s.lookupRun(w, r, id)
	if !ok {
		return
	}
	if !run.State.IsTerminal() {
		respondErr(w, reqID, &model.APIError{Code: model.ErrConflict, Message: fmt.Sprintf("run '%s' is still %s", id, run.State)})
		return
	}
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]string{"id": id, "deleted": "true"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if _, ok := s.lookupRun(w, r, id); !ok {
		return
	}
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	filter := store.EventFilter{ListOptions: opts}
	q := r.URL.Query()
	filter.Kind = model.EventKind(q.Get("kind"))

	var fields []model.FieldError
	if v := q.Get("tid"); v != "" {
		tid, err := strconv.Atoi(v)
		if err != nil {
			fields = append(fields, model.FieldError{Field: "tid", Message: "must be an integer"})
		}
		filter.TID = &tid
	}
	for name, dst := range map[string]*int64{"from": &filter.FromTick, "to": &filter.ToTick} {
		if v := q.Get(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				fields = append(fields, model.FieldError{Field: name, Message: "must be a non-negative tick"})
			}
			*dst = n
		}
	}
	if len(fields) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query", fields...))
		return
	}

	events, total, err := s.store.ListEvents(r.Context(), id, filter)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	filter.Clamp()
	respondList(w, reqID, events, pagination(filter.ListOptions, total))
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if _, ok := s.lookupRun(w, r, id); !ok {
		return
	}
	threads, err := s.store.ListThreads(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, threads)
}

// lookupRun fetches run id or writes a 404.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request, id string) (*model.Run, bool) {
	reqID := RequestIDFromContext(r.Context())
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return nil, false
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return nil, false
	}
	return run, true
}

// listOptions reads ?limit= and ?offset=.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var fields []model.FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields = append(fields, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields = append(fields, model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if len(fields) > 0 {
		return opts, model.NewValidationError("invalid query", fields...)
	}
	return opts, nil
}

// asValidation reports workload syntax errors as validation errors.
func asValidation(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewValidationError(err.Error())
}
