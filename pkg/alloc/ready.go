package alloc

import (
	"context"
	"time"

	"github.com/hpckit/slurmc/pkg/log"
)

// Readiness poll intervals: the first miss naps briefly in case the
// prolog finishes immediately, later misses poll at a fixed period.
const (
	firstPollNap = 500 * time.Microsecond
	pollInterval = 3 * time.Second
)

// WaitReady polls the controller until the allocation's nodes are
// booted and the prolog has finished. waitAll requires every node;
// otherwise one ready node suffices. bound caps the total wait.
// Returns false on fatal readiness errors, a killed job, or
// revocation.
func (c *Client) WaitReady(ctx context.Context, jobID uint32, waitAll bool, bound time.Duration) bool {
	deadline := time.Now().Add(bound)
	first := true
	for {
		if c.State() == Revoked {
			return false
		}
		resp, err := c.api.JobReady(ctx, jobID)
		if err != nil {
			log.Logger.Error().Err(err).Uint32("job_id", jobID).
				Msg("readiness query failed")
			return false
		}
		switch resp.State {
		case "failed", "killed", "cancelled":
			log.Logger.Error().Str("state", resp.State).Uint32("job_id", jobID).
				Msg("job no longer runnable")
			return false
		}
		if resp.State == "running" && !resp.PrologRunning {
			if !waitAll || resp.ReadyNodes >= resp.TotalNodes {
				return true
			}
		}
		if time.Now().After(deadline) {
			log.Logger.Error().Uint32("job_id", jobID).
				Msg("timed out waiting for nodes to become ready")
			return false
		}
		nap := pollInterval
		if first {
			nap = firstPollNap
			first = false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(nap):
		}
	}
}
