package options

import (
	"os"
	"strconv"
	"strings"

	"github.com/hpckit/slurmc/pkg/log"
	"github.com/hpckit/slurmc/pkg/parse"
)

// envOptions maps environment variables to the option name they
// stand in for. Values go through the same Apply setters as argv;
// malformed values are logged and skipped rather than fatal.
var envOptions = map[string]string{
	"SALLOC_ACCOUNT":        "account",
	"SALLOC_BELL":           "bell",
	"SALLOC_NO_BELL":        "no-bell",
	"SALLOC_BEGIN":          "begin",
	"SALLOC_CONN_TYPE":      "conn-type",
	"SALLOC_CONSTRAINT":     "constraint",
	"SALLOC_CORE_SPEC":      "core-spec",
	"SALLOC_THREAD_SPEC":    "thread-spec",
	"SALLOC_EXCLUSIVE":      "exclusive",
	"SALLOC_GEOMETRY":       "geometry",
	"SALLOC_GRES":           "gres",
	"SALLOC_HINT":           "hint",
	"SLURM_HINT":            "hint",
	"SALLOC_IMMEDIATE":      "immediate",
	"SALLOC_JOBID":          "jobid",
	"SALLOC_KILL_CMD":       "kill-command",
	"SALLOC_MEM_BIND":       "mem-bind",
	"SALLOC_MEM_PER_CPU":    "mem-per-cpu",
	"SALLOC_MEM_PER_NODE":   "mem",
	"SALLOC_NETWORK":        "network",
	"SALLOC_NO_KILL":        "no-kill",
	"SALLOC_NO_ROTATE":      "no-rotate",
	"SALLOC_OVERCOMMIT":     "overcommit",
	"SALLOC_PARTITION":      "partition",
	"SALLOC_PROFILE":        "profile",
	"SALLOC_QOS":            "qos",
	"SALLOC_REBOOT":         "reboot",
	"SALLOC_REQUEUE":        "requeue",
	"SALLOC_RESERVATION":    "reservation",
	"SALLOC_SIGNAL":         "signal",
	"SALLOC_TIMELIMIT":      "time",
	"SALLOC_WAIT_ALL_NODES": "wait-all-nodes",
	"SALLOC_WCKEY":          "wckey",
}

// boolEnvOptions are flag-style variables: present with an empty
// value, "yes" or a nonzero number means set.
var boolEnvOptions = map[string]bool{
	"bell": true, "no-bell": true, "exclusive": true, "overcommit": true,
	"no-kill": true, "no-rotate": true, "reboot": true, "requeue": true,
	"hold": true,
}

// ApplyEnv overlays the recognized environment variables. getenv is
// injectable for tests; pass nil for the process environment.
func (d *Descriptor) ApplyEnv(getenv func(string) (string, bool)) {
	if getenv == nil {
		getenv = os.LookupEnv
	}
	for name, opt := range envOptions {
		val, ok := getenv(name)
		if !ok {
			continue
		}
		if boolEnvOptions[opt] {
			set, err := parse.Bool(val)
			if err != nil {
				warnSetter(name, val, err)
				continue
			}
			if !set {
				continue
			}
			val = "true"
		}
		if opt == "requeue" {
			d.Requeue = true
			continue
		}
		if err := d.Apply(opt, val); err != nil {
			warnSetter(name, val, err)
		}
	}

	if val, ok := getenv("SALLOC_DEBUG"); ok {
		if n, err := strconv.Atoi(val); err == nil && n > d.Verbose {
			d.Verbose = n
		}
	}
	if val, ok := getenv("SLURM_HOSTFILE"); ok && val != "" {
		d.NodeFile = val
	}
	if val, ok := getenv("SALLOC_DIST_PLANESIZE"); ok {
		if n, err := strconv.Atoi(val); err == nil && n > 0 && d.Dist.PlaneSize == 0 {
			d.Dist.PlaneSize = int32(n)
		} else if err != nil {
			warnSetter("SALLOC_DIST_PLANESIZE", val, err)
		}
	}

	// Plugin-supplied job environment propagates verbatim.
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "SLURM_SPANK_") {
			d.SpankEnv = append(d.SpankEnv, kv)
		}
	}

	if d.JobID != 0 {
		log.Logger.Info().Uint32("job_id", d.JobID).
			Msg("SALLOC_JOBID set; this tool always requests a new allocation")
	}
}
