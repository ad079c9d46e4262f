package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tocanan.ai/geo/internal/http/dto"
	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/pipeline"
	"tocanan.ai/geo/internal/store"
)

// Client is the Go API client for the job endpoints. Network failures
// and server errors are surfaced as transient so pollers can apply
// their tolerance policy.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit starts a generation job and returns the acknowledgment.
func (c *Client) Submit(ctx context.Context, req model.GenerationRequest) (*dto.SubmitResponse, error) {
	return c.submit(ctx, "/api/v1/generate/async", req)
}

// SubmitRewrite starts a rewrite job and returns the acknowledgment.
func (c *Client) SubmitRewrite(ctx context.Context, req model.RewriteRequest) (*dto.SubmitResponse, error) {
	return c.submit(ctx, "/api/v1/rewrite/async", req)
}

func (c *Client) submit(ctx context.Context, path string, payload any) (*dto.SubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out dto.SubmitResponse
	if err := c.do(req, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches the current snapshot of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	var job model.Job
	if err := c.do(req, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// History fetches recent completed jobs.
func (c *Client) History(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	url := c.baseURL + "/api/v1/history"
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		History []model.HistoryEntry `json:"history"`
	}
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return pipeline.NewError(pipeline.KindTransient, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.NewError(pipeline.KindTransient, "read response", err)
	}

	switch {
	case resp.StatusCode == wantStatus:
		return json.Unmarshal(body, out)
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return pipeline.NewError(pipeline.KindTransient,
			fmt.Sprintf("server returned %d", resp.StatusCode), nil)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiError(body))
	}
}

func apiError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}
