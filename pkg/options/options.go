// Package options implements the allocation option model: a typed
// request descriptor filled in three passes (defaults, environment,
// argv), cross-field inference and validation, and translation to the
// controller wire form. A heterogeneous job is an ordered list of
// descriptors; the single-job case is a list of one.
package options

import (
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/hpckit/slurmc/pkg/parse"
)

// Unset is the sentinel for numeric fields with no explicit or
// inferred value.
const Unset = -1

// NiceOffset bounds the --nice adjustment; negative values need
// privilege.
const NiceOffset = 10000

// BellPolicy controls the terminal bell on allocation grant.
type BellPolicy int

const (
	BellAfterDelay BellPolicy = iota // only when the wait was noticeable
	BellAlways
	BellNever
)

// Descriptor is one allocation request. Zero value is not usable;
// construct with NewDefaults.
type Descriptor struct {
	// Identity
	UserID     uint32
	GroupID    uint32
	EUID       int64 // --uid override, Unset if absent
	EGID       int64 // --gid override
	UserName   string
	SubmitHost string
	SubmitDir  string

	// Sizing. Set flags record an explicit (env or argv) assignment,
	// which gates inference.
	NTasks          int32
	NTasksSet       bool
	MinNodes        int32
	MaxNodes        int32
	NodesSet        bool
	CPUsPerTask     int32
	CPUsPerTaskSet  bool
	NTasksPerNode   int32
	NTasksPerSocket int32
	NTasksPerCore   int32
	SocketsPerNode  int32
	CoresPerSocket  int32
	ThreadsPerCore  int32
	MinCPUsPerNode  int32

	// Memory / storage, MB. Unset when absent.
	MemPerNodeMB int64
	MemPerCPUMB  int64
	TmpDiskMB    int64

	// Scheduling
	Partition    string
	QoS          string
	Account      string
	Reservation  string
	WCKey        string
	Dependency   string
	Comment      string
	Priority     uint32 // parse.NoVal when unset
	Nice         int32
	NiceSet      bool
	BeginTime    string
	Deadline     string
	TimeLimitStr string
	TimeLimit    int // minutes after validation; parse.TimeUnset before
	TimeMinStr   string
	TimeMin      int
	Immediate    int // seconds; 0 off
	Hold         bool
	Requeue      bool

	// Topology
	Geometry []uint16
	ConnType []uint16
	NoRotate bool
	Reboot   bool

	// Placement
	NodeList   string
	NodeFile   string
	ExcNodes   string
	Contiguous bool
	Constraint string
	Licenses   string
	CoreSpec   int32
	ThreadSpec bool
	Network    string
	Exclusive  bool
	Overcommit bool
	Shared     bool
	NoKill     bool

	// Generic resources
	TresPerJob    string
	TresPerNode   string
	TresPerSocket string
	TresPerTask   string
	MemPerTres    string
	CPUsPerTres   string

	// Distribution
	Dist    parse.Distribution
	DistSet bool

	// Command
	Command    []string
	WorkDir    string
	GetUserEnv string
	SpankEnv   []string

	// Extra node info tuple (-B)
	ExtraNodeInfo    parse.NodeResTuple
	ExtraNodeInfoSet bool

	// I/O and behavior
	Bell           BellPolicy
	KillCommandSig unix.Signal
	KillCommandSet bool
	NoShell        bool
	WaitAllNodes   int8 // Unset sentinel -1, else 0 or 1
	Signal         parse.SignalSpec
	SignalSet      bool
	MailType       uint16
	MailUser       string
	Profile        string
	CPUBind        string
	MemBind        string
	Hint           string
	Switches       int32
	SwitchWait     int32 // seconds

	JobName    string
	JobNameSet bool
	JobID      uint32 // from SALLOC_JOBID, notice only

	// Batch-only fields reached through the wrapper translators.
	StdErrPath string
	StdOutPath string
	ArraySpec  string
	ExportEnv  string
	Umask      string

	Quiet   bool
	Verbose int

	// DefaultGBytes mirrors the config toggle; copied in by the
	// caller before overlays so memory setters agree on units.
	DefaultGBytes bool
}

// List is an ordered hetjob component list.
type List []*Descriptor

// NewDefaults returns a descriptor with the documented defaults: one
// task on one node with one CPU, identity from the process, kill
// signal SIGTERM, bell after delay.
func NewDefaults() (*Descriptor, error) {
	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())
	u, err := user.LookupId(strconv.Itoa(os.Getuid()))
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	cwd, _ := os.Getwd()

	d := &Descriptor{
		UserID:     uid,
		GroupID:    gid,
		EUID:       Unset,
		EGID:       Unset,
		UserName:   u.Username,
		SubmitHost: host,
		SubmitDir:  cwd,

		NTasks:      1,
		MinNodes:    1,
		MaxNodes:    1,
		CPUsPerTask: 1,

		NTasksPerNode:   Unset,
		NTasksPerSocket: Unset,
		NTasksPerCore:   Unset,
		SocketsPerNode:  Unset,
		CoresPerSocket:  Unset,
		ThreadsPerCore:  Unset,
		MinCPUsPerNode:  Unset,

		MemPerNodeMB: Unset,
		MemPerCPUMB:  Unset,
		TmpDiskMB:    Unset,

		Priority:  parse.NoVal,
		TimeLimit: parse.TimeUnset,
		TimeMin:   parse.TimeUnset,

		CoreSpec: Unset,
		Switches: Unset,

		Bell:           BellAfterDelay,
		KillCommandSig: unix.SIGTERM,
		WaitAllNodes:   -1,
	}
	return d, nil
}

// Clone returns a deep copy; hetjob parsing seeds each component from
// a fresh default + env pass, so Clone is only used by tests.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Geometry = append([]uint16(nil), d.Geometry...)
	c.ConnType = append([]uint16(nil), d.ConnType...)
	c.Command = append([]string(nil), d.Command...)
	c.SpankEnv = append([]string(nil), d.SpankEnv...)
	return &c
}
