package wrapper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpckit/slurmc/pkg/options"
)

func TestTranslateBSUB(t *testing.T) {
	body := []byte(`#!/bin/sh
#BSUB -J myjob
#BSUB -q normal
#BSUB -n 4,16
#BSUB -m "host1 host2"
#BSUB -M 2048
#BSUB -W 90
#BSUB -x
echo hello
`)
	argv, err := Translate(body, BSUB)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--job-name=myjob",
		"--partition=normal",
		"--ntasks=16",
		"--nodelist=host1,host2",
		"--mem-per-cpu=2048",
		"--time=90",
		"--exclusive",
	}, argv)
}

func TestTranslatePBS(t *testing.T) {
	body := []byte(`#PBS -N pbsjob
#PBS -A proj42
#PBS -m be
#PBS -M user@site
#PBS -q long
#PBS -W depend=afterok:99
#PBS -l walltime=02:00:00,mem=4GB
`)
	argv, err := Translate(body, PBS)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--job-name=pbsjob",
		"--account=proj42",
		"--mail-type=BEGIN,END",
		"--mail-user=user@site",
		"--partition=long",
		"--dependency=afterok:99",
		"--time=02:00:00",
		"--mem=4G",
	}, argv)
}

func TestTranslatePBSSelect(t *testing.T) {
	body := []byte("#PBS -l select=2:ncpus=16:mpiprocs=8\n#PBS -l walltime=01:00:00\n")
	argv, err := Translate(body, PBS)
	require.NoError(t, err)

	d, err := options.NewDefaults()
	require.NoError(t, err)
	require.NoError(t, d.ApplyWrapperArgs(argv))
	d.Command = []string{"/bin/true"}
	require.NoError(t, d.Validate(options.ValidateConfig{}))

	assert.Equal(t, int32(2), d.MinNodes)
	assert.Equal(t, int32(2), d.MaxNodes)
	assert.Equal(t, int32(16), d.MinCPUsPerNode)
	assert.Equal(t, int32(8), d.NTasksPerNode)
	assert.Equal(t, int32(2), d.CPUsPerTask)
	assert.Equal(t, 60, d.TimeLimit)
}

func TestTranslatePBSNodes(t *testing.T) {
	argv, err := Translate([]byte("#PBS -l nodes=3:ppn=4\n"), PBS)
	require.NoError(t, err)
	assert.Equal(t, []string{"--nodes=3", "--ntasks-per-node=4"}, argv)

	argv, err = Translate([]byte("#PBS -l nodes=host1+host2:ppn=2\n"), PBS)
	require.NoError(t, err)
	assert.Equal(t, []string{"--nodes=2", "--nodelist=host1,host2", "--ntasks-per-node=2"}, argv)
}

func TestTranslateConstraintAppend(t *testing.T) {
	argv, err := Translate([]byte("#PBS -l proc=broadwell\n"), PBS)
	require.NoError(t, err)
	require.Equal(t, []string{"--constraint-append=broadwell"}, argv)

	d, err := options.NewDefaults()
	require.NoError(t, err)
	d.Constraint = "bigmem"
	require.NoError(t, d.ApplyWrapperArgs(argv))
	assert.Equal(t, "bigmem&broadwell", d.Constraint)
}

func TestTranslateStopsAfterManyPlainLines(t *testing.T) {
	var b strings.Builder
	b.WriteString("#BSUB -J early\n")
	for i := 0; i < 101; i++ {
		b.WriteString("echo filler\n")
	}
	b.WriteString("#BSUB -J late\n")
	argv, err := Translate([]byte(b.String()), BSUB)
	require.NoError(t, err)
	assert.Equal(t, []string{"--job-name=early"}, argv)
}

func TestTranslateIgnoresUnknown(t *testing.T) {
	argv, err := Translate([]byte("#BSUB -Z whatever\n#BSUB -q normal\n"), BSUB)
	require.NoError(t, err)
	assert.Equal(t, []string{"--partition=normal"}, argv)
}
