package jobupdate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/log"
)

// resizeVars are the environment variables a shell spawned under the
// old allocation still carries after a resize.
func resizeVars(info *api.JobInfo) [][2]string {
	nodes := fmt.Sprint(info.NumNodes)
	return [][2]string{
		{"SLURM_NODELIST", info.NodeList},
		{"SLURM_JOB_NODELIST", info.NodeList},
		{"SLURM_NNODES", nodes},
		{"SLURM_JOB_NUM_NODES", nodes},
		// stale per-node cpu counts cannot be recomputed client side
		{"SLURM_JOB_CPUS_PER_NODE", ""},
	}
}

// writeResizeScripts writes slurm_job_<id>_resize.sh and .csh into the
// current directory so the user can re-source their environment after
// a node count change.
func (u *Updater) writeResizeScripts(ctx context.Context, jobID string) error {
	info, err := u.API.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch resized job %s: %w", jobID, err)
	}
	vars := resizeVars(info)

	var sh, csh strings.Builder
	sh.WriteString("#!/bin/sh\n")
	csh.WriteString("#!/bin/csh\n")
	for _, kv := range vars {
		if kv[1] == "" {
			fmt.Fprintf(&sh, "unset %s\n", kv[0])
			fmt.Fprintf(&csh, "unsetenv %s\n", kv[0])
			continue
		}
		fmt.Fprintf(&sh, "export %s=%q\n", kv[0], kv[1])
		fmt.Fprintf(&csh, "setenv %s %q\n", kv[0], kv[1])
	}

	shPath := fmt.Sprintf("slurm_job_%s_resize.sh", jobID)
	cshPath := fmt.Sprintf("slurm_job_%s_resize.csh", jobID)
	if err := os.WriteFile(shPath, []byte(sh.String()), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(cshPath, []byte(csh.String()), 0o700); err != nil {
		return err
	}
	log.Logger.Info().Str("job_id", jobID).
		Msgf("To reset your environment, source %s or %s", shPath, cshPath)
	return nil
}
