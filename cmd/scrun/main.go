package main

import (
	"fmt"
	"os"

	mobysignal "github.com/moby/sys/signal"
	"github.com/spf13/cobra"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/config"
	"github.com/hpckit/slurmc/pkg/log"
	"github.com/hpckit/slurmc/pkg/scrun"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// ociSpecVersion is the OCI runtime spec level the front-end speaks.
const ociSpecVersion = "1.0.2"

var (
	flagRoot      string
	flagLog       string
	flagLogFormat string
	flagDebug     bool
	flagVerbose   int

	// Accepted for runc CLI compatibility, never acted on.
	flagCgroupManager string
	flagRootless      string
	flagSystemdCgroup bool

	frontend *scrun.Frontend
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scrun: error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scrun",
	Short: "OCI runtime front-end for cluster-backed containers",
	Long: `scrun implements the OCI runtime command line on top of cluster job
allocations: each container is backed by a job, managed by a
per-container anchor process that scrun talks to over a unix socket.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogging()
		warnIgnoredFlags(cmd)
		if cmd.Name() == "version" {
			return nil
		}
		root := flagRoot
		if root == "" {
			var err error
			if root, err = scrun.RuntimeRoot(); err != nil {
				return err
			}
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		frontend = &scrun.Frontend{Root: root, API: api.NewClient(cfg)}
		return nil
	},
}

// initLogging sets the verbosity to the max of the CLI flags and the
// SCRUN_*_DEBUG environment variables. --log without --log-format
// defaults to JSON.
func initLogging() {
	verbosity := flagVerbose
	if flagDebug && verbosity < 1 {
		verbosity = 1
	}
	for _, v := range []string{"SCRUN_DEBUG", "SCRUN_STDERR_DEBUG", "SCRUN_SYSLOG_DEBUG", "SCRUN_FILE_DEBUG"} {
		switch os.Getenv(v) {
		case "debug", "1", "true":
			if verbosity < 1 {
				verbosity = 1
			}
		case "debug2", "trace", "2":
			verbosity = 2
		}
	}

	out := os.Stderr
	jsonOut := flagLogFormat == "json"
	if flagLog != "" {
		if f, err := os.OpenFile(flagLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
			out = f
			if flagLogFormat == "" {
				jsonOut = true
			}
		}
	}
	log.Init(log.Config{
		Program:    "scrun",
		Verbosity:  verbosity,
		JSONOutput: jsonOut,
		Output:     out,
	})
}

func warnIgnoredFlags(cmd *cobra.Command) {
	for _, name := range []string{"cgroup-manager", "rootless", "systemd-cgroup"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			log.Logger.Warn().Str("flag", name).Msg("option accepted but ignored")
		}
	}
}

var createCmd = &cobra.Command{
	Use:   "create <container-id>",
	Short: "Create a container from an OCI bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, _ := cmd.Flags().GetString("bundle")
		return frontend.Create(bundle, args[0])
	},
}

var startCmd = &cobra.Command{
	Use:   "start <container-id>",
	Short: "Start a created container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return frontend.Start(cmd.Context(), args[0])
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <container-id>",
	Short: "Print the container state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return frontend.State(cmd.Context(), args[0], os.Stdout)
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <container-id> [signal]",
	Short: "Send a signal to a container",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "TERM"
		if len(args) == 2 {
			name = args[1]
		}
		sig, err := mobysignal.ParseSignal(name)
		if err != nil {
			return err
		}
		return frontend.Kill(cmd.Context(), args[0], int(sig))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <container-id>",
	Short: "Delete a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		sig, _ := mobysignal.ParseSignal("TERM")
		return frontend.Delete(cmd.Context(), args[0], int(sig), force)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print runtime and spec versions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scrun version %s\nspec: %s\ncommit: %s\nbuilt: %s\n",
			Version, ociSpecVersion, Commit, BuildTime)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRoot, "root", "", "runtime root directory")
	pf.StringVar(&flagLog, "log", "", "log file path")
	pf.StringVar(&flagLogFormat, "log-format", "", "log format: text or json")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug output")
	pf.CountVarP(&flagVerbose, "verbose", "v", "increase verbosity")
	pf.StringVar(&flagCgroupManager, "cgroup-manager", "", "ignored")
	pf.StringVar(&flagRootless, "rootless", "", "ignored")
	pf.BoolVar(&flagSystemdCgroup, "systemd-cgroup", false, "ignored")

	createCmd.Flags().String("bundle", ".", "path to the OCI bundle")
	createCmd.Flags().String("console-socket", "", "console socket path")
	createCmd.Flags().String("pid-file", "", "file to write the container pid to")
	createCmd.Flags().Bool("no-pivot", false, "ignored")
	createCmd.Flags().Bool("no-new-keyring", false, "ignored")
	createCmd.Flags().Int("preserve-fds", 0, "ignored")
	deleteCmd.Flags().Bool("force", false, "succeed even when the container is gone")

	rootCmd.AddCommand(createCmd, startCmd, stateCmd, killCmd, deleteCmd, versionCmd)
}
