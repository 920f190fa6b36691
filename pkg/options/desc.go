package options

import (
	"fmt"
	"os"
	"strings"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/parse"
)

// ParseAll runs the full three-pass fill over a (possibly
// heterogeneous) argv: defaults, environment overlay, then the
// per-component argv segments split on bare ":". The user command
// comes from the last component.
func ParseAll(argv []string, getenv func(string) (string, bool), defaultGBytes bool) (List, error) {
	segments := SplitHetArgs(argv)
	list := make(List, 0, len(segments))
	for i, seg := range segments {
		d, err := NewDefaults()
		if err != nil {
			return nil, err
		}
		d.DefaultGBytes = defaultGBytes
		d.ApplyEnv(getenv)
		rest, err := d.ApplyArgs(seg)
		if err != nil {
			return nil, err
		}
		if len(rest) > 0 {
			if i != len(segments)-1 {
				return nil, invalid("command must follow the last job component")
			}
			d.Command = rest
		}
		list = append(list, d)
	}
	return list, nil
}

// distString renders the distribution for the wire, e.g.
// "block:cyclic:cyclic,pack" or "plane".
func distString(d parse.Distribution) string {
	if d.Node == parse.DistUnset {
		return ""
	}
	s := strings.Join([]string{string(d.Node), string(d.Socket), string(d.Core)}, ":")
	if d.Node == parse.DistPlane {
		s = string(parse.DistPlane)
	}
	switch {
	case d.Pack:
		s += ",pack"
	case d.NoPack:
		s += ",nopack"
	}
	return s
}

// ToJobDesc freezes a validated descriptor into its wire form.
func (d *Descriptor) ToJobDesc(hetOffset int) *api.JobDesc {
	j := &api.JobDesc{
		Name:        d.JobName,
		Partition:   d.Partition,
		QoS:         d.QoS,
		Account:     d.Account,
		Reservation: d.Reservation,
		WCKey:       d.WCKey,
		Dependency:  d.Dependency,
		Comment:     d.Comment,

		UserID:     d.UserID,
		GroupID:    d.GroupID,
		UserName:   d.UserName,
		SubmitHost: d.SubmitHost,
		WorkDir:    d.WorkDir,

		MinNodes: uint32(d.MinNodes),
		MaxNodes: uint32(d.MaxNodes),
		NumTasks: uint32(d.NTasks),

		BeginTime: d.BeginTime,
		Deadline:  d.Deadline,
		Priority:  0,
		Immediate: uint32(d.Immediate),
		Hold:      d.Hold,
		Requeue:   d.Requeue,

		Geometry: d.Geometry,
		ConnType: d.ConnType,
		NoRotate: d.NoRotate,
		Reboot:   d.Reboot,

		ReqNodes:   d.NodeList,
		ExcNodes:   d.ExcNodes,
		Contiguous: d.Contiguous,
		Constraint: d.Constraint,
		Licenses:   d.Licenses,
		Network:    d.Network,
		Exclusive:  d.Exclusive,
		Overcommit: d.Overcommit,
		Shared:     d.Shared,
		NoKill:     d.NoKill,

		TresPerJob:    d.TresPerJob,
		TresPerNode:   d.TresPerNode,
		TresPerSocket: d.TresPerSocket,
		TresPerTask:   d.TresPerTask,
		MemPerTres:    d.MemPerTres,
		CPUsPerTres:   d.CPUsPerTres,

		Distribution: distString(d.Dist),

		MailType: d.MailType,
		MailUser: d.MailUser,

		CPUBind:    d.CPUBind,
		MemBind:    d.MemBind,
		Hint:       d.Hint,
		Profile:    d.Profile,
		GetUserEnv: d.GetUserEnv,

		HetJobOffset: uint32(hetOffset),
	}

	if d.EUID != Unset {
		j.UserID = uint32(d.EUID)
	}
	if d.EGID != Unset {
		j.GroupID = uint32(d.EGID)
	}
	if d.CPUsPerTask > 0 {
		j.CPUsPerTask = uint16(d.CPUsPerTask)
	}
	if d.NTasksPerNode != Unset {
		j.TasksPerNode = uint16(d.NTasksPerNode)
	}
	if d.NTasksPerSocket != Unset {
		j.TasksPerSocket = uint16(d.NTasksPerSocket)
	}
	if d.NTasksPerCore != Unset {
		j.TasksPerCore = uint16(d.NTasksPerCore)
	}
	if d.SocketsPerNode != Unset {
		j.SocketsPerNode = uint16(d.SocketsPerNode)
	}
	if d.CoresPerSocket != Unset {
		j.CoresPerSocket = uint16(d.CoresPerSocket)
	}
	if d.ThreadsPerCore != Unset {
		j.ThreadsPerCore = uint16(d.ThreadsPerCore)
	}
	if d.MinCPUsPerNode != Unset {
		j.MinCPUsPerNode = uint16(d.MinCPUsPerNode)
	}
	switch {
	case d.MemPerNodeMB != Unset:
		j.PnMinMemory = uint64(d.MemPerNodeMB)
	case d.MemPerCPUMB != Unset:
		j.PnMinMemory = uint64(d.MemPerCPUMB) | parse.MemPerCPUFlag
	}
	if d.TmpDiskMB != Unset {
		j.TmpDiskMB = d.TmpDiskMB
	}
	switch d.TimeLimit {
	case parse.TimeUnset:
	case parse.TimeInfinite:
		j.TimeLimit = parse.Infinite
	default:
		j.TimeLimit = uint32(d.TimeLimit)
	}
	switch d.TimeMin {
	case parse.TimeUnset:
	case parse.TimeInfinite:
		j.TimeMin = parse.Infinite
	default:
		j.TimeMin = uint32(d.TimeMin)
	}
	if d.Priority != parse.NoVal {
		j.Priority = d.Priority
	}
	if d.NiceSet {
		j.Nice = d.Nice
	}
	if d.CoreSpec != Unset {
		j.CoreSpec = uint16(d.CoreSpec)
		j.ThreadSpec = d.ThreadSpec
	}
	if d.Dist.Node == parse.DistPlane && d.Dist.PlaneSize > 0 {
		j.PlaneSize = uint16(d.Dist.PlaneSize)
	}
	if d.Switches != Unset {
		j.Switches = uint32(d.Switches)
		j.SwitchWait = uint32(d.SwitchWait)
	}
	if d.WaitAllNodes >= 0 {
		v := uint16(d.WaitAllNodes)
		j.WaitAllNodes = &v
	}
	j.SpankEnv = append([]string(nil), d.SpankEnv...)
	return j
}

// OutputEnv builds the SLURM_* environment exported to the user
// command for one granted allocation.
func (d *Descriptor) OutputEnv(resp *api.AllocResponse, hetSize int, clusterName string) []string {
	set := func(env []string, k, v string) []string {
		return append(env, k+"="+v)
	}
	env := os.Environ()
	env = set(env, "SLURM_JOB_ID", fmt.Sprint(resp.JobID))
	env = set(env, "SLURM_JOBID", fmt.Sprint(resp.JobID))
	env = set(env, "SLURM_NNODES", fmt.Sprint(resp.NumNodes))
	env = set(env, "SLURM_JOB_NUM_NODES", fmt.Sprint(resp.NumNodes))
	env = set(env, "SLURM_JOB_NODELIST", resp.NodeList)
	env = set(env, "SLURM_NODELIST", resp.NodeList)
	if cpus := parse.FormatCPUsPerNode(resp.FlatCPUsPerNode()); cpus != "" {
		env = set(env, "SLURM_JOB_CPUS_PER_NODE", cpus)
	}
	env = set(env, "SLURM_NTASKS", fmt.Sprint(d.NTasks))
	env = set(env, "SLURM_NPROCS", fmt.Sprint(d.NTasks))
	if d.NTasksPerNode != Unset {
		env = set(env, "SLURM_NTASKS_PER_NODE", fmt.Sprint(d.NTasksPerNode))
	}
	if clusterName != "" {
		env = set(env, "SLURM_CLUSTER_NAME", clusterName)
	}
	env = set(env, "SLURM_SUBMIT_DIR", d.SubmitDir)
	env = set(env, "SLURM_SUBMIT_HOST", d.SubmitHost)
	if d.MemBind != "" {
		env = set(env, "SLURM_MEM_BIND", d.MemBind)
	}
	if d.Profile != "" {
		env = set(env, "SLURM_PROFILE", d.Profile)
	}
	if hetSize > 1 {
		env = set(env, "SLURM_HET_SIZE", fmt.Sprint(hetSize))
		env = set(env, "SLURM_PACK_SIZE", fmt.Sprint(hetSize))
	}
	env = append(env, d.SpankEnv...)
	return env
}
