package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/hpckit/slurmc/pkg/alloc"
	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/config"
	"github.com/hpckit/slurmc/pkg/log"
	"github.com/hpckit/slurmc/pkg/options"
	"github.com/hpckit/slurmc/pkg/parse"
	"github.com/hpckit/slurmc/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// bellDelay is how long a pending allocation must take before the
// after-delay bell policy rings.
const bellDelay = 10 * time.Second

// cancelSignals are trapped while the allocation request is in flight
// so any of them cancels the submit instead of killing the process.
var cancelSignals = []os.Signal{
	unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGPIPE,
	unix.SIGTERM, unix.SIGUSR1, unix.SIGUSR2,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "salloc: error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "salloc [options] [:[options]]... [command [args...]]",
	Short: "Obtain a job allocation and run a command under it",
	Long: `salloc obtains a resource allocation from the controller, runs the
given command (or a shell) while holding it, and releases the
allocation when the command exits. A bare ":" separates the components
of a heterogeneous job.`,
	Version:            Version,
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && (args[0] == "--help" || args[0] == "-h") {
			return cmd.Help()
		}
		if len(args) == 1 && (args[0] == "--version" || args[0] == "-V") {
			fmt.Printf("salloc version %s\n", Version)
			return nil
		}
		os.Exit(run(args))
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"salloc version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "salloc: error: %v\n", err)
		return 1
	}

	list, err := options.ParseAll(args, os.LookupEnv, cfg.DefaultGBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "salloc: error: %v\n", err)
		return cfg.ExitError
	}
	first := list[0]

	log.Init(log.Config{
		Program:   "salloc",
		Verbosity: first.Verbose,
		Quiet:     first.Quiet,
	})

	vcfg := options.ValidateConfig{
		DefaultCommand: cfg.InteractiveStepCmd,
		Shell:          os.Getenv("SHELL"),
		Privileged:     os.Geteuid() == 0,
	}
	if err := list.Finalize(vcfg); err != nil {
		log.Errorf("invalid job request", err)
		return cfg.ExitError
	}

	interactive := supervisor.Interactive(first.NoShell)
	var term *supervisor.Terminal
	if interactive {
		if term, err = supervisor.Enter(); err != nil {
			log.Logger.Warn().Err(err).Msg("terminal setup failed, continuing without job control")
			term = nil
		} else {
			defer term.RestoreOnExit()
		}
	}

	ac, err := alloc.New(api.NewClient(cfg))
	if err != nil {
		log.Errorf("cannot start allocation client", err)
		return cfg.ExitError
	}
	defer ac.Close()

	descs := make([]*api.JobDesc, len(list))
	for i, d := range list {
		descs[i] = d.ToJobDesc(i)
	}

	// Terminating signals during submit cancel the request; once the
	// child runs the supervisor forwards them instead.
	ctx, stop := signal.NotifyContext(context.Background(), cancelSignals...)
	start := time.Now()
	resps, err := ac.Submit(ctx, descs, func(jobID uint32) {
		log.Logger.Info().Uint32("job_id", jobID).Msg("Pending job allocation")
	})
	stop()
	if err != nil {
		switch {
		case errors.Is(err, alloc.ErrRevoked):
			log.Errorf("allocation lost before start", err)
			return 1
		case errors.Is(err, alloc.ErrUserAbort):
			log.Logger.Info().Msg("Job aborted due to signal")
			if id := ac.JobID(); id != 0 {
				_ = ac.Complete(id, parse.NoVal)
			}
			return cfg.ExitError
		}
		var se *api.SubmitError
		if errors.As(err, &se) && se.Immediate() {
			log.Errorf("unable to allocate resources immediately", err)
			return cfg.ExitImmediate
		}
		log.Errorf("job submission failed", err)
		return cfg.ExitError
	}
	jobID := resps[0].JobID
	log.Logger.Info().Uint32("job_id", jobID).Str("nodes", resps[0].NodeList).
		Msg("Granted job allocation")
	ringBell(first.Bell, interactive, time.Since(start))

	if first.NoShell {
		log.Logger.Info().Uint32("job_id", jobID).
			Msg("Allocation held without a shell, release it with scancel")
		return 0
	}

	waitAll := first.WaitAllNodes != 0
	bound := time.Duration(cfg.ReadinessBoundSeconds()) * time.Second
	rctx, rstop := signal.NotifyContext(context.Background(), cancelSignals...)
	ready := ac.WaitReady(rctx, jobID, waitAll, bound)
	rstop()
	if !ready {
		_ = ac.Complete(jobID, parse.NoVal)
		return cfg.ExitError
	}
	env := first.OutputEnv(resps[0], len(list), cfg.ClusterName)
	sup := supervisor.New(first.Command, env, first.WorkDir, first.KillCommandSig, term)
	ac.OnRevoke(func(bool) { sup.Kill() })

	if !ac.WaitGranted() {
		// revoked while waiting, must not fork
		return 1
	}
	if err := sup.Start(); err != nil {
		log.Errorf("cannot run command", err)
		_ = ac.Complete(jobID, parse.NoVal)
		return cfg.ExitError
	}
	if ac.State() == alloc.Revoked {
		// revocation raced the fork, tear the child down
		sup.Kill()
	}
	code := sup.Wait()

	log.Logger.Info().Uint32("job_id", jobID).Msg("Relinquishing job allocation")
	if err := ac.Complete(jobID, uint32(code)); err != nil {
		log.Errorf("job release failed", err)
	}
	return code
}

// ringBell writes the terminal bell according to the policy: always,
// never, or only when the grant took noticeably long.
func ringBell(policy options.BellPolicy, interactive bool, waited time.Duration) {
	if !interactive {
		return
	}
	switch policy {
	case options.BellAlways:
	case options.BellAfterDelay:
		if waited < bellDelay {
			return
		}
	default:
		return
	}
	fmt.Fprint(os.Stderr, "\a")
}
