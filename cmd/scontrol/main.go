package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/config"
	"github.com/hpckit/slurmc/pkg/jobupdate"
	"github.com/hpckit/slurmc/pkg/log"
	"github.com/hpckit/slurmc/pkg/options"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagUID     string
	flagVerbose int
	flagQuiet   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scontrol: error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scontrol",
	Short: "Administer cluster jobs",
	Long: `scontrol issues administrative requests to the controller. Only the
job update subcommand is implemented here; key=value pairs accept the
usual unambiguous abbreviations.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var updateCmd = &cobra.Command{
	Use:   "update key=value [key=value ...]",
	Short: "Update one or more jobs",
	Long: `Update job attributes, e.g.:

  scontrol update JobId=42 TimeLimit=2:00:00
  scontrol update JobId=42_[1-3] Priority=100
  scontrol update Name=train Partition=debug`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{
			Program:   "scontrol",
			Verbosity: flagVerbose,
			Quiet:     flagQuiet,
		})
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		u := &jobupdate.Updater{
			API: api.NewClient(cfg),
			Out: os.Stdout,
		}
		if flagUID != "" {
			uid, err := options.LookupUID(flagUID)
			if err != nil {
				return err
			}
			u.UID = &uid
		}
		return u.Run(cmd.Context(), args)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"scontrol version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	updateCmd.Flags().StringVar(&flagUID, "uid", "", "act as this user for name resolution")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase verbosity")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "Q", false, "only report errors")
	rootCmd.AddCommand(updateCmd)
}
