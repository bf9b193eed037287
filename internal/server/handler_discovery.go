package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "kthreads API",
		Version:     "v1",
		Description: "Simulated kernel thread scheduler: workload runs, scheduler traces and per-thread summaries",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET", "POST"}, "List recorded runs. POST a YAML workload to run it (?mlfqs=true selects MLFQS)"},
			{"/api/v1/runs/{id}", []string{"GET", "DELETE"}, "Single run with tick accounting and wait summary"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduler trace; filter with ?kind=, ?tid=, ?from=, ?to="},
			{"/api/v1/runs/{id}/threads", []string{"GET"}, "Per-thread outcome: runs, first run, exit tick, wait percentiles"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
