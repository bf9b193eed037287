package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/pkg/model"
)

// Client is an HTTP client for the kthreads API. It serves the same reads
// as a local store, so the runs commands work against either.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a kthreads API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// do performs an HTTP request and returns the parsed envelope.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (*apiResponse, error) {
	u := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
		c.Logger.Debug("HTTP request body", "bytes", len(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.Logger.Debug("HTTP request", "method", method, "url", u)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.Logger.Debug("HTTP response", "status", resp.StatusCode, "bytes", len(respBody))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w\nbody: %s", resp.StatusCode, err, string(respBody))
	}
	if apiResp.Status == "error" && apiResp.Error != nil {
		return &apiResp, apiResp.Error
	}
	return &apiResp, nil
}

func (c *Client) get(ctx context.Context, path string, into any) (*apiResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resp.Data, into); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return resp, nil
}

// ListRuns lists recorded runs, newest first.
func (c *Client) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("offset", strconv.Itoa(opts.Offset))
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Workload != "" {
		q.Set("workload", opts.Workload)
	}
	var runs []*model.Run
	resp, err := c.get(ctx, "/api/v1/runs/?"+q.Encode(), &runs)
	if err != nil {
		return nil, 0, err
	}
	total := len(runs)
	if resp.Pagination != nil {
		total = resp.Pagination.Total
	}
	return runs, total, nil
}

// GetRun returns run id, or nil if the server does not know it.
func (c *Client) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	_, err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &run)
	if apiErr, ok := err.(*model.APIError); ok && apiErr.Code == model.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListThreads returns the thread summaries of run id.
func (c *Client) ListThreads(ctx context.Context, id string) ([]model.ThreadSummary, error) {
	var threads []model.ThreadSummary
	if _, err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/threads", &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// ListEvents returns a page of run id's trace.
func (c *Client) ListEvents(ctx context.Context, id string, filter store.EventFilter) ([]model.Event, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(filter.Limit))
	q.Set("offset", strconv.Itoa(filter.Offset))
	if filter.Kind != "" {
		q.Set("kind", string(filter.Kind))
	}
	if filter.TID != nil {
		q.Set("tid", strconv.Itoa(*filter.TID))
	}
	if filter.FromTick > 0 {
		q.Set("from", strconv.FormatInt(filter.FromTick, 10))
	}
	if filter.ToTick > 0 {
		q.Set("to", strconv.FormatInt(filter.ToTick, 10))
	}
	var events []model.Event
	resp, err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/events?"+q.Encode(), &events)
	if err != nil {
		return nil, 0, err
	}
	total := len(events)
	if resp.Pagination != nil {
		total = resp.Pagination.Total
	}
	return events, total, nil
}

// remoteRun is what the server returns for a created run.
type remoteRun struct {
	model.Run
	Threads []model.ThreadSummary `json:"threads"`
}

// CreateRun posts a YAML workload for the server to execute.
func (c *Client) CreateRun(ctx context.Context, workloadYAML []byte, mlfqs bool) (*remoteRun, error) {
	path := "/api/v1/runs/"
	if mlfqs {
		path += "?mlfqs=true"
	}
	resp, err := c.do(ctx, http.MethodPost, path, "application/yaml", workloadYAML)
	if err != nil {
		return nil, err
	}
	var rr remoteRun
	if err := json.Unmarshal(resp.Data, &rr); err != nil {
		return nil, fmt.Errorf("parse run: %w", err)
	}
	return &rr, nil
}
