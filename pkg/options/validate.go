package options

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpckit/slurmc/pkg/hostlist"
	"github.com/hpckit/slurmc/pkg/log"
	"github.com/hpckit/slurmc/pkg/parse"
)

// ValidationError is a fatal cross-field failure, reported before any
// submit.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ValidateConfig carries the environment Validate needs but must not
// reach for itself, so tests can instantiate descriptors freely.
type ValidateConfig struct {
	// DefaultCommand is the controller-configured command used when
	// none is given; it is wrapped as "/bin/sh -c <cmd>".
	DefaultCommand string
	// Shell is the user's login shell, used when no command and no
	// default command exist.
	Shell string
	// Privileged allows negative nice and identity overrides.
	Privileged bool
	// ReadFile loads hostfiles; nil means os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Validate runs the post-overlay inference and invariant checks on a
// single descriptor, mutating it into its frozen submit form.
func (d *Descriptor) Validate(cfg ValidateConfig) error {
	if cfg.ReadFile == nil {
		cfg.ReadFile = os.ReadFile
	}

	if d.Quiet && d.Verbose > 0 {
		return invalid("--quiet and --verbose are mutually exclusive")
	}

	if d.NiceSet {
		if d.Nice <= -NiceOffset || d.Nice >= NiceOffset {
			return invalid("nice value out of range (+/-%d)", NiceOffset)
		}
		if d.Nice < 0 && !cfg.Privileged {
			return invalid("only privileged users may specify a negative nice value")
		}
	}
	if (d.EUID != Unset || d.EGID != Unset) && !cfg.Privileged {
		return invalid("only privileged users may run jobs as another user")
	}

	if err := d.resolveTimes(); err != nil {
		return err
	}
	if err := d.resolveHostfile(cfg); err != nil {
		return err
	}
	d.inferSizing()
	if err := d.reconcileMemory(); err != nil {
		return err
	}
	if err := d.checkPlane(); err != nil {
		return err
	}
	if err := d.resolveCommand(cfg); err != nil {
		return err
	}

	if d.WorkDir == "" {
		d.WorkDir = d.SubmitDir
	}
	if !d.JobNameSet && len(d.Command) > 0 {
		d.JobName = filepath.Base(d.Command[0])
	}
	return nil
}

func (d *Descriptor) resolveTimes() error {
	if d.TimeLimitStr != "" || d.TimeLimit == parse.TimeUnset {
		mins, err := parse.TimeMinutes(d.TimeLimitStr)
		if err != nil {
			return invalid("invalid time limit %q", d.TimeLimitStr)
		}
		if mins == 0 {
			mins = parse.TimeInfinite
		}
		d.TimeLimit = mins
	}
	if d.TimeMinStr != "" {
		mins, err := parse.TimeMinutes(d.TimeMinStr)
		if err != nil {
			return invalid("invalid time-min %q", d.TimeMinStr)
		}
		d.TimeMin = mins
	}
	if d.TimeMin > 0 && d.TimeLimit > 0 && d.TimeMin > d.TimeLimit {
		return invalid("time-min exceeds time limit")
	}
	return nil
}

// resolveHostfile substitutes a hostfile's contents for the node
// list. Under arbitrary distribution the task count defaults to the
// hostfile line count and the node range to the unique host count.
func (d *Descriptor) resolveHostfile(cfg ValidateConfig) error {
	path := d.NodeFile
	if path == "" && strings.ContainsRune(d.NodeList, '/') {
		path = d.NodeList
	}
	if path == "" {
		return nil
	}
	data, err := cfg.ReadFile(path)
	if err != nil {
		return invalid("cannot read hostfile %s: %v", path, err)
	}
	var hosts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		expanded, err := hostlist.Expand(line)
		if err != nil {
			return invalid("bad hostfile line %q: %v", line, err)
		}
		hosts = append(hosts, expanded...)
	}
	if len(hosts) == 0 {
		return invalid("hostfile %s is empty", path)
	}
	d.NodeList = strings.Join(hosts, ",")
	if d.Dist.Node == parse.DistArbitrary {
		if !d.NTasksSet {
			d.NTasks = int32(len(hosts))
			d.NTasksSet = true
		}
		if !d.NodesSet {
			n := int32(len(hostlist.Unique(hosts)))
			d.MinNodes, d.MaxNodes = n, n
			d.NodesSet = true
		}
	}
	return nil
}

func (d *Descriptor) inferSizing() {
	switch {
	case d.NodesSet && !d.NTasksSet:
		tasks := d.MinNodes
		applied := false
		for _, mult := range []int32{d.SocketsPerNode, d.CoresPerSocket, d.ThreadsPerCore} {
			if mult != Unset {
				tasks *= mult
				applied = true
			}
		}
		d.NTasks = tasks
		if applied {
			d.NTasksSet = true
		}
	case d.NTasksSet && d.NTasks < d.MinNodes:
		log.Logger.Warn().
			Int32("ntasks", d.NTasks).Int32("min_nodes", d.MinNodes).
			Msg("can't run fewer tasks than nodes, reducing node count")
		d.MinNodes = d.NTasks
		if d.MaxNodes < d.MinNodes && d.NodesSet {
			d.MaxNodes = d.MinNodes
		}
		if !d.NodesSet {
			d.MaxNodes = d.NTasks
		}
	}

	if d.MinCPUsPerNode != Unset && d.NTasksPerNode != Unset &&
		d.MinCPUsPerNode > d.NTasksPerNode && !d.CPUsPerTaskSet {
		q := d.MinCPUsPerNode / d.NTasksPerNode
		if d.MinCPUsPerNode%d.NTasksPerNode != 0 {
			log.Logger.Warn().Msg("mincpus not evenly divisible by ntasks-per-node, rounding down cpus-per-task")
		}
		d.CPUsPerTask = q
		d.CPUsPerTaskSet = true
	}
	if d.MinCPUsPerNode != Unset && d.MinCPUsPerNode < d.CPUsPerTask {
		d.MinCPUsPerNode = d.CPUsPerTask
	}

	if d.NTasksPerCore != Unset && d.ThreadsPerCore == Unset {
		d.ThreadsPerCore = d.NTasksPerCore
		if d.CPUBind == "" {
			d.CPUBind = "cores"
		}
	}
	if d.NTasksPerSocket != Unset && d.CoresPerSocket == Unset {
		d.CoresPerSocket = d.NTasksPerSocket
		if d.CPUBind == "" {
			d.CPUBind = "sockets"
		}
	}
}

// reconcileMemory applies the mem vs mem-per-cpu rule: when both are
// given, mem is raised to at least mem-per-cpu and the per-node form
// wins; only one of the two reaches the controller.
func (d *Descriptor) reconcileMemory() error {
	if d.MemPerNodeMB == Unset || d.MemPerCPUMB == Unset {
		return nil
	}
	if d.MemPerNodeMB < d.MemPerCPUMB {
		log.Logger.Info().
			Int64("mem", d.MemPerNodeMB).Int64("mem_per_cpu", d.MemPerCPUMB).
			Msg("mem < mem-per-cpu, raising mem")
		d.MemPerNodeMB = d.MemPerCPUMB
	}
	d.MemPerCPUMB = Unset
	return nil
}

func (d *Descriptor) checkPlane() error {
	if d.Dist.Node != parse.DistPlane {
		return nil
	}
	p := d.Dist.PlaneSize
	if p <= 0 {
		return invalid("plane distribution requires a plane size")
	}
	n, t := d.MinNodes, d.NTasks
	if t/p < n && (n-1)*p >= t {
		return invalid("insufficient tasks (%d) for plane size %d on %d nodes", t, p, n)
	}
	return nil
}

func (d *Descriptor) resolveCommand(cfg ValidateConfig) error {
	if len(d.Command) > 0 {
		if d.NoShell {
			return invalid("--no-shell conflicts with a command argument")
		}
		return nil
	}
	if d.NoShell {
		return nil
	}
	if cfg.DefaultCommand != "" {
		d.Command = []string{"/bin/sh", "-c", cfg.DefaultCommand}
		return nil
	}
	shell := cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	d.Command = []string{shell}
	return nil
}

// Finalize validates every hetjob component and applies the het-wide
// defaults: components without an explicit job name take the last
// component's (the one holding the command).
func (l List) Finalize(cfg ValidateConfig) error {
	if len(l) == 0 {
		return invalid("no job components")
	}
	for i, d := range l {
		if err := d.Validate(cfg); err != nil {
			if len(l) > 1 {
				return fmt.Errorf("component %d: %w", i, err)
			}
			return err
		}
	}
	last := l[len(l)-1]
	for _, d := range l {
		if !d.JobNameSet && last.JobName != "" {
			d.JobName = last.JobName
		}
	}
	return nil
}
