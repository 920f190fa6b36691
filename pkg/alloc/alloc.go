// Package alloc implements the allocation protocol client: submit
// and block until granted, callback handling on a listener
// back-channel, node readiness polling, and the completion RPC on
// teardown.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/log"
)

// State of the allocation from the client's viewpoint.
type State int

const (
	NotGranted State = iota
	Granted
	Revoked
)

// ErrRevoked reports that the controller took the allocation back.
var ErrRevoked = errors.New("allocation revoked")

// ErrUserAbort reports a caller-delivered signal during submit.
var ErrUserAbort = errors.New("interrupted")

// maxSubmitRetries bounds the retry loop for busy-controller errors;
// attempt i sleeps i seconds.
const maxSubmitRetries = 10

// Client owns one allocation's lifecycle. It is created before
// submit, serves callbacks for every hetjob component, and guarantees
// the completion RPC runs at most once.
type Client struct {
	api *api.Client

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	jobID     uint32 // first component's id, from grant or pending callback
	timeoutAt int64  // last deadline reported by a timeout callback
	completed bool
	revokeFns []func(timedOut bool)

	listener  *listener
	pendingCB func(jobID uint32)

	sleep func(time.Duration) // test hook
}

// New creates an allocation client and starts its callback listener.
func New(apiClient *api.Client) (*Client, error) {
	c := &Client{
		api:   apiClient,
		sleep: time.Sleep,
	}
	c.cond = sync.NewCond(&c.mu)
	l, err := newListener(c.dispatch)
	if err != nil {
		return nil, fmt.Errorf("start callback listener: %w", err)
	}
	c.listener = l
	return c, nil
}

// Close shuts the callback listener down.
func (c *Client) Close() {
	if c.listener != nil {
		c.listener.close()
	}
}

// State returns the current allocation state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JobID returns the allocation's first job id, or zero before any
// grant or pending callback.
func (c *Client) JobID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// OnRevoke registers a hook run when a job-complete callback arrives.
// Hooks run outside the state lock.
func (c *Client) OnRevoke(fn func(timedOut bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revokeFns = append(c.revokeFns, fn)
}

// Submit sends the descriptors and blocks until the controller grants
// or refuses. Busy errors are retried with a linearly increasing
// sleep. pendingCB fires when the controller queues the request.
func (c *Client) Submit(ctx context.Context, descs []*api.JobDesc, pendingCB func(jobID uint32)) ([]*api.AllocResponse, error) {
	c.mu.Lock()
	c.pendingCB = pendingCB
	c.mu.Unlock()

	// Every component registers the same back-channel, so one
	// listener serves the whole hetjob.
	for _, d := range descs {
		d.AllocNode = c.listener.host
		d.AllocPort = c.listener.port
		d.CallbackToken = c.listener.token
	}

	var resps []*api.AllocResponse
	var err error
	for attempt := 1; ; attempt++ {
		resps, err = c.api.SubmitAllocation(ctx, descs)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrUserAbort, err)
		}
		var se *api.SubmitError
		if errors.As(err, &se) && se.Retryable() && attempt <= maxSubmitRetries {
			log.Logger.Debug().Int("attempt", attempt).Err(err).
				Msg("controller busy, retrying submit")
			c.sleep(time.Duration(attempt) * time.Second)
			continue
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Revoked {
		// job-complete raced the grant; caller must not fork
		return resps, ErrRevoked
	}
	c.state = Granted
	c.jobID = resps[0].JobID
	c.cond.Broadcast()
	return resps, nil
}

// dispatch handles one back-channel message from the controller.
func (c *Client) dispatch(msg *api.CallbackMsg) {
	switch msg.Type {
	case api.CallbackPending:
		c.mu.Lock()
		if c.jobID == 0 {
			c.jobID = msg.JobID
		}
		cb := c.pendingCB
		c.mu.Unlock()
		log.Logger.Info().Uint32("job_id", msg.JobID).Msg("Pending job allocation")
		if cb != nil {
			cb(msg.JobID)
		}

	case api.CallbackTimeout:
		c.mu.Lock()
		changed := msg.Timeout != c.timeoutAt
		c.timeoutAt = msg.Timeout
		c.mu.Unlock()
		if changed {
			log.Logger.Info().Time("deadline", time.Unix(msg.Timeout, 0)).
				Msg("job time limit")
		}

	case api.CallbackUserMsg:
		log.Logger.Info().Msg(msg.Message)

	case api.CallbackNodeFail:
		log.Logger.Error().Str("node", msg.NodeName).Uint32("job_id", msg.JobID).
			Msg("node failure in allocation")

	case api.CallbackComplete:
		c.mu.Lock()
		timedOut := c.timeoutAt != 0 && time.Now().Unix() >= c.timeoutAt
		c.state = Revoked
		fns := append([]func(bool){}, c.revokeFns...)
		c.cond.Broadcast()
		c.mu.Unlock()
		if timedOut {
			log.Logger.Info().Uint32("job_id", msg.JobID).
				Msg("Job allocation time limit exceeded")
		} else {
			log.Logger.Info().Uint32("job_id", msg.JobID).
				Msg("Job allocation revoked")
		}
		for _, fn := range fns {
			fn(timedOut)
		}

	default:
		log.Logger.Warn().Str("type", msg.Type).Msg("unknown callback message")
	}
}

// WaitGranted blocks until the allocation is granted or revoked.
// Returns false when the caller must not fork.
func (c *Client) WaitGranted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == NotGranted {
		c.cond.Wait()
	}
	return c.state == Granted
}

// Complete issues the job-complete RPC unless a revocation already
// did, and at most once. exitCode parse.NoVal means "no status"
// (cancelled before running).
func (c *Client) Complete(jobID uint32, exitCode uint32) error {
	c.mu.Lock()
	if c.completed || c.state == Revoked {
		c.mu.Unlock()
		return nil
	}
	c.completed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.api.CompleteJob(ctx, jobID, exitCode); err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	return nil
}

// Revoke marks the allocation revoked locally (scancel observed via
// an error path rather than a callback).
func (c *Client) Revoke() {
	c.mu.Lock()
	c.state = Revoked
	c.cond.Broadcast()
	c.mu.Unlock()
}
