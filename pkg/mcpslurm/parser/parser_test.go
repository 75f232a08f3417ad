package parser

import (
	"testing"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSbatchOutput(t *testing.T) {
	id, err := ParseSbatchOutput([]byte("Submitted batch job 12345\n"))
	require.NoError(t, err)
	assert.Equal(t, "12345", id)

	_, err = ParseSbatchOutput([]byte("sbatch: error: some failure\n"))
	require.ErrorIs(t, err, ErrNoJobID)
}

func TestParseSqueueLine(t *testing.T) {
	line := "42|R|myjob|alice|0:10|01:00:00|2|4|debug|None|node[1-2]"
	job, err := ParseSqueueLine(line)
	require.NoError(t, err)
	assert.Equal(t, "42", job.ID)
	assert.Equal(t, models.JobRunning, job.State)
	assert.Equal(t, 2, job.NumNodes)
	assert.Equal(t, 4, job.NumCPUs)
	assert.Equal(t, "node[1-2]", job.Nodelist)
}

func TestNormalizeStateUnknown(t *testing.T) {
	assert.Equal(t, models.JobUnknown, NormalizeState("XYZ"))
}

func TestParseScontrolShowJob(t *testing.T) {
	out := []byte(`JobId=42 JobName=myjob
   JobState=RUNNING Partition=debug UserId=alice(1000)
   NumNodes=2 NumCPUs=4 TimeLimit=01:00:00 RunTime=00:05:00
   NodeList=node[1-2] StdOut=/tmp/out StdErr=/tmp/err
   Command=/home/alice/job.sh ExitCode=0:0`)

	job := ParseScontrolShowJob(out)
	assert.Equal(t, "42", job.ID)
	assert.Equal(t, models.JobRunning, job.State)
	assert.Equal(t, "alice", job.User)
	assert.Equal(t, 2, job.NumNodes)
	assert.Equal(t, 4, job.NumCPUs)
}

func TestParseScontrolShowJobUnknownState(t *testing.T) {
	out := []byte(`JobId=7 JobState=XYZ`)
	job := ParseScontrolShowJob(out)
	assert.Equal(t, models.JobUnknown, job.State)
}

func TestParseScontrolShowNode(t *testing.T) {
	out := []byte(`NodeName=node1 State=MIXED CPUTot=32 CPUAlloc=8 RealMemory=128000 ActiveFeatures=gpu,nvme`)
	node := ParseScontrolShowNode(out)
	assert.Equal(t, "node1", node.Name)
	assert.Equal(t, "MIX", node.State)
	assert.Equal(t, 32, node.CPUsTotal)
	assert.Equal(t, 8, node.CPUsUsed)
	assert.Equal(t, []string{"gpu", "nvme"}, node.Features)
}

func TestParseSinfoOutput(t *testing.T) {
	out := []byte("debug*|up|30:00|4|idle|node[1-4]\ncompute|up|1-00:00:00|10|idle|node[5-14]\n")
	partitions := ParseSinfoOutput(out)
	require.Len(t, partitions, 2)
	assert.Equal(t, "debug", partitions[0].Name)
	assert.True(t, partitions[0].Default)
	assert.Equal(t, 4, partitions[0].NodesIdle)
}

func TestParseSallocLine(t *testing.T) {
	outcome, id := ParseSallocLine("salloc: Granted job allocation 99")
	assert.Equal(t, SallocGranted, outcome)
	assert.Equal(t, "99", id)

	outcome, _ = ParseSallocLine("salloc: Pending job allocation 100")
	assert.Equal(t, SallocPending, outcome)

	outcome, _ = ParseSallocLine("salloc: error: Job submit/allocate failed: Requested node configuration is not available")
	assert.Equal(t, SallocUnknown, outcome)

	outcome, _ = ParseSallocLine("salloc: error: resources unavailable")
	assert.Equal(t, SallocFailed, outcome)
}

func TestExpandArrayRange(t *testing.T) {
	tasks, err := ExpandArrayRange("1-5,7,9-11:2")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 7, 9, 11}, tasks)
}

func TestExpandArrayRangeZeroStrideRejected(t *testing.T) {
	_, err := ExpandArrayRange("1-10:0")
	require.Error(t, err)
}

func TestExpandArrayRangeInverted(t *testing.T) {
	_, err := ExpandArrayRange("10-1")
	require.Error(t, err)
}

func TestValidMemorySuffix(t *testing.T) {
	assert.True(t, ValidMemorySuffix("4G"))
	assert.True(t, ValidMemorySuffix("500M"))
	assert.False(t, ValidMemorySuffix("-4G"))
	assert.False(t, ValidMemorySuffix("4X"))
}

func TestMemoryBytes(t *testing.T) {
	b, ok := MemoryBytes("1G")
	require.True(t, ok)
	assert.Equal(t, int64(1024*1024*1024), b)
}

func TestValidTimeLimit(t *testing.T) {
	assert.True(t, ValidTimeLimit("01:00:00"))
	assert.True(t, ValidTimeLimit("2-01:00:00"))
	assert.False(t, ValidTimeLimit("99:99:99"))
}
