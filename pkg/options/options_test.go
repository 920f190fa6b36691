package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/parse"
)

func mapEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaults(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	assert.Equal(t, int32(1), d.NTasks)
	assert.Equal(t, int32(1), d.MinNodes)
	assert.Equal(t, int32(1), d.MaxNodes)
	assert.Equal(t, int32(1), d.CPUsPerTask)
	assert.Equal(t, uint32(os.Getuid()), d.UserID)
	assert.NotEmpty(t, d.UserName)
	assert.Equal(t, unix.SIGTERM, d.KillCommandSig)
	assert.Equal(t, BellAfterDelay, d.Bell)
	assert.Equal(t, int8(-1), d.WaitAllNodes)
	assert.Equal(t, int64(Unset), d.MemPerNodeMB)
	assert.Equal(t, parse.TimeUnset, d.TimeLimit)
	assert.False(t, d.NTasksSet)
	assert.False(t, d.NodesSet)
}

func TestApplyArgs(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	rest, err := d.ApplyArgs([]string{
		"-N", "2-4", "-n", "8", "--job-name=demo", "--mem=2G",
		"--time=1:00:00", "-p", "batch", "--exclusive",
		"/bin/true", "arg1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true", "arg1"}, rest)
	assert.Equal(t, int32(2), d.MinNodes)
	assert.Equal(t, int32(4), d.MaxNodes)
	assert.True(t, d.NodesSet)
	assert.Equal(t, int32(8), d.NTasks)
	assert.True(t, d.NTasksSet)
	assert.Equal(t, "demo", d.JobName)
	assert.True(t, d.JobNameSet)
	assert.Equal(t, int64(2048), d.MemPerNodeMB)
	assert.Equal(t, "1:00:00", d.TimeLimitStr)
	assert.Equal(t, "batch", d.Partition)
	assert.True(t, d.Exclusive)
}

func TestApplyArgsStopsAtCommand(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	rest, err := d.ApplyArgs([]string{"-N1", "bash", "-c", "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "-c", "echo hi"}, rest)
	assert.Equal(t, int32(1), d.MinNodes)
}

func TestApplyArgsUnknownOption(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	_, err = d.ApplyArgs([]string{"--definitely-not-an-option"})
	assert.Error(t, err)
}

func TestApplyArgsOptionalValues(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	_, err = d.ApplyArgs([]string{"--immediate", "--nice", "--kill-command"})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Immediate)
	assert.Equal(t, int32(100), d.Nice)
	assert.True(t, d.NiceSet)
	assert.Equal(t, unix.SIGTERM, d.KillCommandSig)
	assert.True(t, d.KillCommandSet)

	d2, err := NewDefaults()
	require.NoError(t, err)
	_, err = d2.ApplyArgs([]string{"--immediate=30", "--kill-command=INT"})
	require.NoError(t, err)
	assert.Equal(t, 30, d2.Immediate)
	assert.Equal(t, unix.SIGINT, d2.KillCommandSig)
}

func TestApplyEnv(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.ApplyEnv(mapEnv(map[string]string{
		"SALLOC_PARTITION":      "debug",
		"SALLOC_TIMELIMIT":      "30",
		"SALLOC_EXCLUSIVE":      "",
		"SALLOC_OVERCOMMIT":     "yes",
		"SALLOC_NO_ROTATE":      "1",
		"SALLOC_IMMEDIATE":      "10",
		"SALLOC_SIGNAL":         "B:USR1@60",
		"SALLOC_WAIT_ALL_NODES": "1",
		"SALLOC_DEBUG":          "2",
		"SLURM_HINT":            "compute_bound",
	}))
	assert.Equal(t, "debug", d.Partition)
	assert.Equal(t, "30", d.TimeLimitStr)
	assert.True(t, d.Exclusive)
	assert.True(t, d.Overcommit)
	assert.True(t, d.NoRotate)
	assert.Equal(t, 10, d.Immediate)
	assert.True(t, d.SignalSet)
	assert.Equal(t, unix.SIGUSR1, d.Signal.Sig)
	assert.True(t, d.Signal.Batch)
	assert.Equal(t, 60, d.Signal.LeadTime)
	assert.Equal(t, int8(1), d.WaitAllNodes)
	assert.Equal(t, 2, d.Verbose)
	assert.Equal(t, "compute_bound", d.Hint)
}

func TestApplyEnvMalformedNonFatal(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.ApplyEnv(mapEnv(map[string]string{
		"SALLOC_IMMEDIATE": "soon", // malformed, skipped
		"SALLOC_PARTITION": "debug",
	}))
	assert.Zero(t, d.Immediate)
	assert.Equal(t, "debug", d.Partition)
}

func TestArgvOverridesEnv(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.ApplyEnv(mapEnv(map[string]string{"SALLOC_PARTITION": "debug"}))
	_, err = d.ApplyArgs([]string{"-p", "batch"})
	require.NoError(t, err)
	assert.Equal(t, "batch", d.Partition)
}

func TestSplitHetArgs(t *testing.T) {
	segs := SplitHetArgs([]string{"-N2", "-n2", ":", "-N4", "-n8", "/bin/true"})
	require.Len(t, segs, 2)
	assert.Equal(t, []string{"-N2", "-n2"}, segs[0])
	assert.Equal(t, []string{"-N4", "-n8", "/bin/true"}, segs[1])

	segs = SplitHetArgs([]string{"-N1"})
	require.Len(t, segs, 1)
}

func TestParseAllHetjob(t *testing.T) {
	list, err := ParseAll(
		[]string{"-N2", "-n2", ":", "-N4", "-n8", "/bin/true"},
		noEnv, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int32(2), list[0].MinNodes)
	assert.Equal(t, int32(2), list[0].NTasks)
	assert.Equal(t, int32(4), list[1].MinNodes)
	assert.Equal(t, int32(8), list[1].NTasks)
	assert.Equal(t, []string{"/bin/true"}, list[1].Command)

	require.NoError(t, list.Finalize(ValidateConfig{}))
	// job-name defaults to the last component's command basename
	assert.Equal(t, "true", list[0].JobName)
	assert.Equal(t, "true", list[1].JobName)
}

func TestParseAllCommandOnlyOnLast(t *testing.T) {
	_, err := ParseAll([]string{"-N1", "/bin/true", ":", "-N2"}, noEnv, false)
	assert.Error(t, err)
}

func TestHetjobExplicitNameKept(t *testing.T) {
	list, err := ParseAll(
		[]string{"-J", "first", ":", "/bin/hostname"},
		noEnv, false)
	require.NoError(t, err)
	require.NoError(t, list.Finalize(ValidateConfig{}))
	assert.Equal(t, "first", list[0].JobName)
	assert.Equal(t, "hostname", list[1].JobName)
}

func TestValidateQuietVerbose(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Quiet = true
	d.Verbose = 1
	d.Command = []string{"/bin/true"}
	assert.Error(t, d.Validate(ValidateConfig{}))
}

func TestValidateNice(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	d.Nice = -5
	d.NiceSet = true
	assert.Error(t, d.Validate(ValidateConfig{Privileged: false}))
	assert.NoError(t, d.Validate(ValidateConfig{Privileged: true}))

	d.Nice = NiceOffset
	assert.Error(t, d.Validate(ValidateConfig{Privileged: true}))
}

func TestValidateTimeZeroIsInfinite(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	d.TimeLimitStr = "0"
	require.NoError(t, d.Validate(ValidateConfig{}))
	assert.Equal(t, parse.TimeInfinite, d.TimeLimit)
}

func TestValidateTaskNodeReconcile(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	d.NTasks = 2
	d.NTasksSet = true
	d.MinNodes, d.MaxNodes = 4, 4
	require.NoError(t, d.Validate(ValidateConfig{}))
	assert.Equal(t, int32(2), d.MinNodes)
}

func TestValidateNodesImplyTasks(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	d.MinNodes, d.MaxNodes = 3, 3
	d.NodesSet = true
	d.SocketsPerNode = 2
	d.CoresPerSocket = 4
	require.NoError(t, d.Validate(ValidateConfig{}))
	assert.Equal(t, int32(24), d.NTasks)
	assert.True(t, d.NTasksSet)
}

func TestValidateMemoryReconcile(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	d.MemPerNodeMB = 100
	d.MemPerCPUMB = 500
	require.NoError(t, d.Validate(ValidateConfig{}))
	assert.Equal(t, int64(500), d.MemPerNodeMB)
	assert.Equal(t, int64(Unset), d.MemPerCPUMB)
}

func TestValidatePlane(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	d.Dist, _ = parse.DistributionValue("plane=4")
	d.MinNodes, d.MaxNodes = 4, 4
	d.NTasks = 4
	d.NTasksSet = true
	// 4 tasks / plane 4 = 1 < 4 nodes and 3*4 >= 4: rejected
	assert.Error(t, d.Validate(ValidateConfig{}))

	d2, err := NewDefaults()
	require.NoError(t, err)
	d2.Command = []string{"/bin/true"}
	d2.Dist, _ = parse.DistributionValue("plane=2")
	d2.MinNodes, d2.MaxNodes = 2, 2
	d2.NTasks = 8
	d2.NTasksSet = true
	assert.NoError(t, d2.Validate(ValidateConfig{}))
}

func TestValidateHostfileArbitrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte("tux1\ntux2\ntux1\n"), 0o644))

	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	d.NodeFile = path
	d.Dist, _ = parse.DistributionValue("arbitrary")
	require.NoError(t, d.Validate(ValidateConfig{}))
	assert.Equal(t, "tux1,tux2,tux1", d.NodeList)
	assert.Equal(t, int32(3), d.NTasks)
	assert.Equal(t, int32(2), d.MinNodes)
	assert.Equal(t, int32(2), d.MaxNodes)
}

func TestValidateDefaultCommand(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	require.NoError(t, d.Validate(ValidateConfig{DefaultCommand: "srun --pty bash"}))
	assert.Equal(t, []string{"/bin/sh", "-c", "srun --pty bash"}, d.Command)

	d2, err := NewDefaults()
	require.NoError(t, err)
	require.NoError(t, d2.Validate(ValidateConfig{Shell: "/bin/zsh"}))
	assert.Equal(t, []string{"/bin/zsh"}, d2.Command)

	d3, err := NewDefaults()
	require.NoError(t, err)
	d3.NoShell = true
	require.NoError(t, d3.Validate(ValidateConfig{}))
	assert.Empty(t, d3.Command)
}

func TestValidateJobNameFromCommand(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.Command = []string{"/usr/bin/hostname", "-f"}
	require.NoError(t, d.Validate(ValidateConfig{}))
	assert.Equal(t, "hostname", d.JobName)
}

// A second defaults->env->argv pass over equivalent inputs produces
// the same descriptor.
func TestOverlayIdempotence(t *testing.T) {
	env := mapEnv(map[string]string{"SALLOC_PARTITION": "debug", "SALLOC_TIMELIMIT": "30"})
	argv := []string{"-N2", "-n4", "--mem=1G", "/bin/true"}

	build := func() *Descriptor {
		d, err := NewDefaults()
		require.NoError(t, err)
		d.ApplyEnv(env)
		rest, err := d.ApplyArgs(argv)
		require.NoError(t, err)
		d.Command = rest
		require.NoError(t, d.Validate(ValidateConfig{}))
		return d
	}
	assert.Equal(t, build(), build())
}

func TestToJobDesc(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	_, err = d.ApplyArgs([]string{"-N2-4", "-n8", "--mem-per-cpu=512", "-t", "1:00:00", "-J", "demo"})
	require.NoError(t, err)
	d.Command = []string{"/bin/true"}
	require.NoError(t, d.Validate(ValidateConfig{}))

	j := d.ToJobDesc(0)
	assert.Equal(t, "demo", j.Name)
	assert.Equal(t, uint32(2), j.MinNodes)
	assert.Equal(t, uint32(4), j.MaxNodes)
	assert.Equal(t, uint32(8), j.NumTasks)
	assert.Equal(t, uint32(60), j.TimeLimit)
	assert.Equal(t, uint64(512)|parse.MemPerCPUFlag, j.PnMinMemory)
}

func TestOutputEnv(t *testing.T) {
	d, err := NewDefaults()
	require.NoError(t, err)
	d.NTasks = 4
	resp := &api.AllocResponse{
		JobID:        1234,
		NodeList:     "tux[1-2]",
		NumNodes:     5,
		CPUsPerNode:  []uint16{4, 2, 1},
		CPUCountReps: []uint32{1, 3, 1},
	}
	env := d.OutputEnv(resp, 2, "tundra")
	assert.Contains(t, env, "SLURM_JOB_ID=1234")
	assert.Contains(t, env, "SLURM_JOB_NODELIST=tux[1-2]")
	assert.Contains(t, env, "SLURM_JOB_CPUS_PER_NODE=4,2(x3),1")
	assert.Contains(t, env, "SLURM_NTASKS=4")
	assert.Contains(t, env, "SLURM_NPROCS=4")
	assert.Contains(t, env, "SLURM_CLUSTER_NAME=tundra")
	assert.Contains(t, env, "SLURM_HET_SIZE=2")
	assert.Contains(t, env, "SLURM_PACK_SIZE=2")
}
