package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/types"
	"github.com/rs/zerolog"
)

// Connection timeouts shared by every request
const (
	connectTimeout = 5 * time.Second
	readTimeout    = 30 * time.Second
)

// Client is a thin wrapper over the coordinator REST API used by the
// worker agent and the submitter
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
	policy  Policy
}

// New creates a client for a coordinator base URL
func New(baseURL string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   readTimeout,
			Transport: transport,
		},
		logger: log.WithComponent("client"),
		policy: DefaultPolicy,
	}
}

// BaseURL returns the coordinator base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) url(path string) string {
	return c.baseURL + "/api" + path
}

// do performs one request and decodes the JSON response into out when
// out is non-nil. Non-2xx responses are errors.
func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetAllJobs fetches every job. Retried; returns an error once the
// policy is exhausted.
func (c *Client) GetAllJobs() ([]*types.Job, error) {
	var result struct {
		Results []*types.Job `json:"results"`
	}
	err := Do(c.logger, "get_all_jobs", c.policy, func() error {
		return c.do(http.MethodGet, "/get", nil, &result)
	})
	if err != nil {
		return nil, err
	}
	return result.Results, nil
}

// GetMyJobs fetches the jobs assigned to one worker. Retried.
func (c *Client) GetMyJobs(worker string) ([]*types.Job, error) {
	var result struct {
		Jobs []*types.Job `json:"jobs"`
	}
	err := Do(c.logger, "get_my_jobs", c.policy, func() error {
		return c.do(http.MethodGet, "/jobs/mine/"+worker, nil, &result)
	})
	if err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// GetJob fetches a single job by uid. Retried.
func (c *Client) GetJob(uid string) (*types.Job, error) {
	var job types.Job
	err := Do(c.logger, "get_job", c.policy, func() error {
		return c.do(http.MethodGet, "/get/"+uid, nil, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// AddJob submits a new job. Retried; job creation is idempotent on the
// submitter side because each attempt carries the same payload.
func (c *Client) AddJob(partial types.Job) (*types.Job, error) {
	var job types.Job
	err := Do(c.logger, "add_job", c.policy, func() error {
		return c.do(http.MethodPost, "/post", partial, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RemoveJob deletes a job by uid. Retried.
func (c *Client) RemoveJob(uid string) error {
	return Do(c.logger, "remove_job", c.policy, func() error {
		return c.do(http.MethodDelete, "/delete/"+uid, nil, nil)
	})
}

// SendHeartbeat registers the worker and refreshes last_seen. Not
// retried: a lost heartbeat is better than a stale backlog.
func (c *Client) SendHeartbeat(hb types.Heartbeat) {
	if err := c.do(http.MethodPost, "/worker/heartbeat", hb, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
	}
}

// UpdateJob applies a partial update. Not retried; the next tick
// re-pushes state. Returns nil when the call fails.
func (c *Client) UpdateJob(uid string, update types.JobUpdate) *types.Job {
	var job types.Job
	if err := c.do(http.MethodPut, "/put/"+uid, update, &job); err != nil {
		c.logger.Error().Err(err).Str("job_uid", uid).Msg("Failed to update job")
		return nil
	}
	return &job
}

// ReportError logs an error record on the coordinator. Best effort.
func (c *Client) ReportError(worker, message, jobUID string) {
	report := types.ErrorReport{
		Worker:  worker,
		Message: message,
		JobUID:  jobUID,
	}
	if err := c.do(http.MethodPost, "/worker/error", report, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to report error")
	}
}
