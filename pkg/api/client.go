package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hpckit/slurmc/pkg/config"
)

// Controller errno strings the clients react to.
const (
	ErrnoAgain          = "EAGAIN"
	ErrnoDescCopy       = "ERROR_ON_DESC_TO_RECORD_COPY"
	ErrnoAlreadyDone    = "ALREADY_DONE"
	ErrnoImmediate      = "CAN_NOT_START_IMMEDIATELY"
	ErrnoNotTopPriority = "NOT_TOP_PRIORITY"
	ErrnoNodesBusy      = "NODES_BUSY"
	ErrnoConfig         = "CONFIGURATION_CONFLICT"
)

// SubmitError is a controller-side refusal.
type SubmitError struct {
	Errno   string
	Message string
}

func (e *SubmitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "controller refused request: " + e.Errno
}

// Retryable reports whether a submit may be retried after a delay.
func (e *SubmitError) Retryable() bool {
	return e.Errno == ErrnoAgain || e.Errno == ErrnoDescCopy
}

// Immediate reports an immediate-mode denial.
func (e *SubmitError) Immediate() bool {
	return e.Errno == ErrnoImmediate
}

// AlreadyDone reports the benign already-completed response.
func (e *SubmitError) AlreadyDone() bool {
	return e.Errno == ErrnoAlreadyDone
}

// TransportError wraps RPC-layer failures (connect, pipe, decode) so
// callers can distinguish them from controller refusals.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to the controller REST endpoint.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a controller client from the loaded config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		base:  cfg.BaseURL,
		token: cfg.AuthToken,
		http:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: "encode " + path, Err: err}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &TransportError{Op: "request " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-SLURM-USER-TOKEN", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}
	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Errno != "" {
			return &SubmitError{Errno: env.Errno, Message: env.Error}
		}
		return &SubmitError{Errno: resp.Status, Message: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

// SubmitAllocation submits one or more descriptors and blocks until
// the controller grants or refuses. The response list parallels the
// request list.
func (c *Client) SubmitAllocation(ctx context.Context, descs []*JobDesc) ([]*AllocResponse, error) {
	var out struct {
		Allocations []*AllocResponse `json:"allocations"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/allocations", map[string]any{"jobs": descs}, &out); err != nil {
		return nil, err
	}
	if len(out.Allocations) != len(descs) {
		return nil, &TransportError{
			Op:  "submit",
			Err: fmt.Errorf("controller returned %d allocations for %d components", len(out.Allocations), len(descs)),
		}
	}
	return out.Allocations, nil
}

// JobReady polls node readiness for a granted allocation.
func (c *Client) JobReady(ctx context.Context, jobID uint32) (*ReadyResponse, error) {
	var out ReadyResponse
	path := "/v1/jobs/" + strconv.FormatUint(uint64(jobID), 10) + "/ready"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteJob tells the controller the allocation is finished.
// ALREADY_DONE is swallowed.
func (c *Client) CompleteJob(ctx context.Context, jobID uint32, exitCode uint32) error {
	path := "/v1/jobs/" + strconv.FormatUint(uint64(jobID), 10) + "/complete"
	err := c.do(ctx, http.MethodPost, path, map[string]uint32{"job_rc": exitCode}, nil)
	var se *SubmitError
	if errors.As(err, &se) && se.AlreadyDone() {
		return nil
	}
	return err
}

// SignalJob delivers a signal to every process of a job.
func (c *Client) SignalJob(ctx context.Context, jobID uint32, sig int) error {
	path := "/v1/jobs/" + strconv.FormatUint(uint64(jobID), 10) + "/signal"
	return c.do(ctx, http.MethodPost, path, map[string]int{"signal": sig}, nil)
}

// UpdateJob applies an update-job request.
func (c *Client) UpdateJob(ctx context.Context, upd *JobUpdate) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(upd.JobIDStr), upd, nil)
}

// GetJob fetches one job record.
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobInfo, error) {
	var out JobInfo
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs queries job records by name and optionally user id.
func (c *Client) ListJobs(ctx context.Context, name string, userID *uint32) (*JobList, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if userID != nil {
		q.Set("user_id", strconv.FormatUint(uint64(*userID), 10))
	}
	var out JobList
	if err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
