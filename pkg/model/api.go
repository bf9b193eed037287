package model

import "time"

// Response wraps every kthreads API reply. Data holds a Run, a page of runs,
// threads or trace events; Error is set instead when Status is "error".
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination describes one page of runs or trace events.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions selects a page of stored runs.
type ListOptions struct {
	Limit    int
	Offset   int
	State    string // run state, e.g. COMPLETED
	Workload string // workload name
}

// DefaultListOptions returns the first page of 20 runs, unfiltered.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20}
}

// Clamp keeps the page size within 1..100 and the offset non-negative.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	o.Limit = min(o.Limit, 100)
	o.Offset = max(o.Offset, 0)
}
