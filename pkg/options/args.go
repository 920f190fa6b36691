package options

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/hpckit/slurmc/pkg/log"
	"github.com/hpckit/slurmc/pkg/parse"
)

// SplitHetArgs splits an argv on bare ":" separators, one slice per
// hetjob component. The user command belongs to the last component.
func SplitHetArgs(argv []string) [][]string {
	var out [][]string
	start := 0
	for i, a := range argv {
		if a == ":" {
			out = append(out, argv[start:i])
			start = i + 1
		}
	}
	return append(out, argv[start:])
}

// NewFlagSet builds the salloc flag surface. Every flag routes
// through Apply so that argv, environment and wrapper directives all
// share one set of typed setters.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SortFlags = false

	fs.StringP("account", "A", "", "charge job to specified account")
	fs.StringP("extra-node-info", "B", "", "sockets[:cores[:threads]] per node")
	fs.StringP("cpus-per-task", "c", "", "number of cpus required per task")
	fs.StringP("constraint", "C", "", "specify node features")
	fs.StringP("dependency", "d", "", "defer job until dependencies satisfied")
	fs.StringP("chdir", "D", "", "change working directory before running")
	fs.StringP("nodefile", "F", "", "request hosts listed in file")
	fs.StringP("geometry", "g", "", "task layout geometry")
	fs.BoolP("hold", "H", false, "submit in held state")
	fs.StringP("immediate", "I", "", "exit if resources not available in N seconds")
	fs.Lookup("immediate").NoOptDefVal = "1"
	fs.StringP("job-name", "J", "", "name of job")
	fs.BoolP("no-kill", "k", false, "do not kill job on node failure")
	fs.StringP("kill-command", "K", "", "signal to send the command on termination")
	fs.Lookup("kill-command").NoOptDefVal = "TERM"
	fs.StringP("licenses", "L", "", "required license list")
	fs.StringP("distribution", "m", "", "distribution method for tasks")
	fs.StringP("ntasks", "n", "", "number of tasks to run")
	fs.StringP("nodes", "N", "", "number of nodes (N or min-max)")
	fs.BoolP("overcommit", "O", false, "overcommit resources")
	fs.StringP("partition", "p", "", "partition requested")
	fs.BoolP("quiet", "Q", false, "suppress informational messages")
	fs.BoolP("no-rotate", "R", false, "disable geometry rotation")
	fs.BoolP("share", "s", false, "share nodes with other jobs")
	fs.StringP("core-spec", "S", "", "count of reserved cores")
	fs.StringP("time", "t", "", "time limit")
	fs.CountP("verbose", "v", "increase verbosity")
	fs.StringP("nodelist", "w", "", "request specific hosts (or hostfile path)")
	fs.StringP("exclude", "x", "", "exclude specific hosts")

	fs.String("begin", "", "defer job until given time")
	fs.Bool("bell", false, "ring the bell when allocation granted")
	fs.Bool("no-bell", false, "never ring the bell")
	fs.String("comment", "", "arbitrary comment")
	fs.String("conn-type", "", "connection type list")
	fs.Bool("contiguous", false, "require contiguous nodes")
	fs.String("cores-per-socket", "", "cores per socket required")
	fs.String("deadline", "", "remove job if no ending before deadline")
	fs.Bool("exclusive", false, "allocate nodes exclusively")
	fs.String("get-user-env", "", "load user environment as in a login shell")
	fs.Lookup("get-user-env").NoOptDefVal = "0"
	fs.String("gid", "", "group id to run as (privileged)")
	fs.String("gres", "", "generic resources per node")
	fs.String("hint", "", "resource binding hint")
	fs.String("jobid", "", "attach to existing allocation (notice only)")
	fs.String("mail-type", "", "notify on state changes")
	fs.String("mail-user", "", "who to send email to")
	fs.String("mem", "", "minimum memory per node")
	fs.String("mem-bind", "", "memory binding policy")
	fs.String("mem-per-cpu", "", "minimum memory per allocated cpu")
	fs.String("network", "", "network performance counters")
	fs.String("nice", "", "priority adjustment")
	fs.Lookup("nice").NoOptDefVal = "100"
	fs.Bool("no-shell", false, "do not spawn a command")
	fs.String("ntasks-per-core", "", "tasks to invoke per core")
	fs.String("ntasks-per-node", "", "tasks to invoke per node")
	fs.String("ntasks-per-socket", "", "tasks to invoke per socket")
	fs.String("priority", "", "absolute priority (privileged)")
	fs.String("profile", "", "profiling data collection")
	fs.String("qos", "", "quality of service")
	fs.Bool("reboot", false, "reboot nodes before starting")
	fs.String("reservation", "", "allocate from named reservation")
	fs.String("signal", "", "[B:]sig[@secs] warning signal")
	fs.String("sockets-per-node", "", "sockets per node required")
	fs.String("switches", "", "max switch count, N[@max-wait]")
	fs.String("threads-per-core", "", "threads per core required")
	fs.String("time-min", "", "minimum acceptable time limit")
	fs.String("tmp", "", "minimum temporary disk space")
	fs.String("uid", "", "user id to run as (privileged)")
	fs.String("wait-all-nodes", "", "wait until all nodes booted (0|1)")
	fs.String("wckey", "", "workload characterization key")
	fs.BoolP("version", "V", false, "print version and exit")

	return fs
}

// ApplyArgs overlays one component's argv onto the descriptor and
// returns the trailing command, if any.
func (d *Descriptor) ApplyArgs(argv []string) ([]string, error) {
	fs := NewFlagSet("salloc")
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	var applyErr error
	fs.Visit(func(f *pflag.Flag) {
		if applyErr != nil {
			return
		}
		if err := d.Apply(f.Name, f.Value.String()); err != nil {
			applyErr = err
		}
	})
	if applyErr != nil {
		return nil, applyErr
	}
	return fs.Args(), nil
}

// ApplyWrapperArgs overlays synthetic "--name=value" tokens emitted
// by the wrapper translators. They use the same setters as argv but
// bypass the flag table, since a few batch-only options have no
// interactive flag.
func (d *Descriptor) ApplyWrapperArgs(tokens []string) error {
	for _, tok := range tokens {
		name := strings.TrimPrefix(tok, "--")
		name, value, _ := strings.Cut(name, "=")
		var err error
		switch name {
		// boolean synthetic tokens carry no value
		case "exclusive", "hold", "contiguous", "overcommit":
			err = d.Apply(name, "true")
		default:
			err = d.Apply(name, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Apply routes one (option, value) pair to its typed setter. Argv,
// environment overlay and the wrapper translators all come through
// here.
func (d *Descriptor) Apply(name, value string) error {
	switch name {
	case "account":
		d.Account = value
	case "extra-node-info":
		t, err := parse.ResourceTuple(value)
		if err != nil {
			return err
		}
		d.ExtraNodeInfo = t
		d.ExtraNodeInfoSet = true
		if t.Sockets.Set {
			d.SocketsPerNode = t.Sockets.Min
		}
		if t.Cores.Set {
			d.CoresPerSocket = t.Cores.Min
		}
		if t.Threads.Set {
			d.ThreadsPerCore = t.Threads.Min
		}
	case "cpus-per-task":
		n, err := positiveInt("cpus-per-task", value)
		if err != nil {
			return err
		}
		d.CPUsPerTask = n
		d.CPUsPerTaskSet = true
	case "constraint":
		d.Constraint = value
	case "dependency":
		d.Dependency = value
	case "chdir":
		d.WorkDir = value
	case "nodefile":
		d.NodeFile = value
	case "geometry":
		g, err := parse.Geometry(value, highestDimensions)
		if err != nil {
			return err
		}
		d.Geometry = g
	case "hold":
		d.Hold = true
	case "immediate":
		n, err := positiveInt("immediate", value)
		if err != nil {
			return err
		}
		d.Immediate = int(n)
	case "job-name":
		d.JobName = value
		d.JobNameSet = true
	case "no-kill":
		d.NoKill = true
	case "kill-command":
		sig, err := parse.SignalNum(value)
		if err != nil {
			return err
		}
		d.KillCommandSig = sig
		d.KillCommandSet = true
	case "licenses":
		d.Licenses = value
	case "distribution":
		dist, err := parse.DistributionValue(value)
		if err != nil {
			return err
		}
		d.Dist = dist
		d.DistSet = true
	case "ntasks":
		n, err := scaledPositive("ntasks", value)
		if err != nil {
			return err
		}
		d.NTasks = n
		d.NTasksSet = true
	case "nodes":
		return d.setNodes(value)
	case "overcommit":
		d.Overcommit = true
	case "partition":
		d.Partition = value
	case "quiet":
		d.Quiet = true
	case "no-rotate":
		d.NoRotate = true
	case "share":
		d.Shared = true
	case "core-spec":
		n, err := positiveInt("core-spec", value)
		if err != nil {
			return err
		}
		d.CoreSpec = n
		d.ThreadSpec = false
	case "thread-spec":
		n, err := positiveInt("thread-spec", value)
		if err != nil {
			return err
		}
		d.CoreSpec = n
		d.ThreadSpec = true
	case "time":
		d.TimeLimitStr = value
	case "verbose":
		if n, err := strconv.Atoi(value); err == nil {
			d.Verbose = n
		} else {
			d.Verbose++
		}
	case "nodelist":
		d.NodeList = value
	case "exclude":
		d.ExcNodes = value
	case "begin":
		d.BeginTime = value
	case "bell":
		d.Bell = BellAlways
	case "no-bell":
		d.Bell = BellNever
	case "comment":
		d.Comment = value
	case "conn-type":
		ct, err := connTypes(value)
		if err != nil {
			return err
		}
		d.ConnType = ct
	case "contiguous":
		d.Contiguous = true
	case "cores-per-socket":
		n, err := positiveInt("cores-per-socket", value)
		if err != nil {
			return err
		}
		d.CoresPerSocket = n
	case "deadline":
		d.Deadline = value
	case "exclusive":
		d.Exclusive = true
	case "get-user-env":
		d.GetUserEnv = value
	case "gid":
		n, err := lookupGID(value)
		if err != nil {
			return err
		}
		d.EGID = n
	case "gres":
		d.TresPerNode = parse.FormatTres("gres", value)
	case "hint":
		d.Hint = value
	case "jobid":
		n, err := parse.Uint32("jobid", value)
		if err != nil {
			return err
		}
		d.JobID = n
	case "mail-type":
		d.MailType = parse.MailType(value)
	case "mail-user":
		d.MailUser = value
	case "mem":
		mb, err := parse.MemoryMB(value, d.DefaultGBytes)
		if err != nil {
			return err
		}
		d.MemPerNodeMB = mb
	case "mem-bind":
		d.MemBind = value
	case "mem-per-cpu":
		mb, err := parse.MemoryMB(value, d.DefaultGBytes)
		if err != nil {
			return err
		}
		d.MemPerCPUMB = mb
	case "network":
		d.Network = value
	case "nice":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return &parse.Error{What: "nice value", Token: value}
		}
		d.Nice = int32(n)
		d.NiceSet = true
	case "no-shell":
		d.NoShell = true
	case "ntasks-per-core":
		n, err := positiveInt("ntasks-per-core", value)
		if err != nil {
			return err
		}
		d.NTasksPerCore = n
	case "ntasks-per-node":
		n, err := positiveInt("ntasks-per-node", value)
		if err != nil {
			return err
		}
		d.NTasksPerNode = n
	case "ntasks-per-socket":
		n, err := positiveInt("ntasks-per-socket", value)
		if err != nil {
			return err
		}
		d.NTasksPerSocket = n
	case "priority":
		n, err := parse.Uint32("priority", value)
		if err != nil {
			return err
		}
		d.Priority = n
	case "profile":
		d.Profile = value
	case "qos":
		d.QoS = value
	case "reboot":
		d.Reboot = true
	case "reservation":
		d.Reservation = value
	case "signal":
		spec, err := parse.SignalSpecValue(value)
		if err != nil {
			return err
		}
		d.Signal = spec
		d.SignalSet = true
	case "sockets-per-node":
		n, err := positiveInt("sockets-per-node", value)
		if err != nil {
			return err
		}
		d.SocketsPerNode = n
	case "switches":
		return d.setSwitches(value)
	case "threads-per-core":
		n, err := positiveInt("threads-per-core", value)
		if err != nil {
			return err
		}
		d.ThreadsPerCore = n
	case "time-min":
		d.TimeMinStr = value
	case "tmp":
		mb, err := parse.MemoryMB(value, d.DefaultGBytes)
		if err != nil {
			return err
		}
		d.TmpDiskMB = mb
	case "uid":
		n, err := lookupUID(value)
		if err != nil {
			return err
		}
		d.EUID = n
	case "wait-all-nodes":
		switch value {
		case "0":
			d.WaitAllNodes = 0
		case "1":
			d.WaitAllNodes = 1
		default:
			return &parse.Error{What: "wait-all-nodes", Token: value, Msg: "must be 0 or 1"}
		}
	case "wckey":
		d.WCKey = value

	// Batch-only options, reachable via the wrapper translators.
	case "error":
		d.StdErrPath = value
	case "output":
		d.StdOutPath = value
	case "array":
		d.ArraySpec = value
	case "export":
		d.ExportEnv = value
	case "umask":
		d.Umask = value
	case "mincpus":
		n, err := positiveInt("mincpus", value)
		if err != nil {
			return err
		}
		d.MinCPUsPerNode = n
	case "constraint-append":
		// '&' joins with any prior constraint; ordering follows the
		// directive order in the script.
		if d.Constraint == "" {
			d.Constraint = value
		} else {
			d.Constraint += "&" + value
		}

	case "version":
		// handled by the command layer
	default:
		return fmt.Errorf("unrecognized option --%s", name)
	}
	return nil
}

// setNodes handles -N/--nodes, including the hostfile-path escape.
func (d *Descriptor) setNodes(value string) error {
	if strings.ContainsRune(value, '/') {
		d.NodeFile = value
		return nil
	}
	min, max, err := parse.NodeCount(value)
	if err != nil {
		return err
	}
	d.MinNodes = min
	d.MaxNodes = max
	d.NodesSet = true
	return nil
}

// setSwitches handles --switches=N[@max-time].
func (d *Descriptor) setSwitches(value string) error {
	count, wait, hasWait := strings.Cut(value, "@")
	n, err := positiveInt("switches", count)
	if err != nil {
		return err
	}
	d.Switches = n
	if hasWait {
		mins, err := parse.TimeMinutes(wait)
		if err != nil || mins < 0 {
			return &parse.Error{What: "switches wait time", Token: wait}
		}
		d.SwitchWait = int32(mins * 60)
	}
	return nil
}

func positiveInt(what, s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n <= 0 {
		return 0, &parse.Error{What: what, Token: s, Msg: "must be a positive integer"}
	}
	return int32(n), nil
}

func scaledPositive(what, s string) (int32, error) {
	min, _, err := parse.NodeCount(s)
	if err != nil {
		return 0, &parse.Error{What: what, Token: s}
	}
	return min, nil
}

// connTypes parses the comma-separated connection-type vector.
func connTypes(s string) ([]uint16, error) {
	var out []uint16
	for _, tok := range strings.Split(s, ",") {
		var v uint16
		switch strings.ToUpper(tok) {
		case "MESH":
			v = 1
		case "TORUS":
			v = 2
		case "NAV":
			v = 3
		default:
			return nil, &parse.Error{What: "connection type", Token: tok}
		}
		out = append(out, v)
	}
	return out, nil
}

// highestDimensions is the geometry rank of the supported systems.
const highestDimensions = 4

func warnSetter(name, value string, err error) {
	log.Logger.Warn().Str("variable", name).Str("value", value).Err(err).
		Msg("ignoring environment variable")
}
