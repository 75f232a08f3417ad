package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	dir := t.TempDir()

	a, err := New(log.NewNopLogger(), Options{
		OutputDir:            dir,
		MockForce:            true,
		MaxOutputBytes:       1 << 20,
		MaxAllocWaitSeconds:  300,
		ImmediateTimeoutSecs: 10,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return a
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))

	return path
}

func TestSubmitJobMockHappyPath(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "ok.sh", "#!/bin/bash\necho Hello from job\n")

	job, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: script, Cores: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.State)

	status, err := a.CheckJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.JobState{models.JobPending, models.JobRunning, models.JobCompleted}, status.State)
}

func TestSubmitJobInvalidCores(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "ok.sh", "#!/bin/bash\necho hi\n")

	_, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: script, Cores: 0})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestSubmitJobScriptNotFound(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: "/no/such/script.sh", Cores: 1})
	require.ErrorIs(t, err, ErrScriptNotFound)
}

func TestSubmitAndCancel(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "sleep60.sh", "#!/bin/bash\nsleep 60\n")

	job, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: script, Cores: 2})
	require.NoError(t, err)

	state, err := a.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, state)

	status, err := a.CheckJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, status.State)
}

func TestCancelTerminalIsNoop(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "ok.sh", "#!/bin/bash\necho hi\n")

	job, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: script, Cores: 1})
	require.NoError(t, err)

	_, err = a.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)

	state, err := a.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, state)
}

func TestArrayJobExpansion(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "task.sh", "#!/bin/bash\necho hi\n")

	aj, err := a.SubmitArrayJob(context.Background(), SubmitArrayJobArgs{
		SubmitJobArgs: SubmitJobArgs{ScriptPath: script, Cores: 1},
		Range:         "1-3",
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, aj.Range.Tasks)
	assert.Len(t, aj.Tasks, 3)

	_, err = a.GetJobOutput(context.Background(), aj.Tasks[2].ID, "stdout")
	require.NoError(t, err)
}

func TestGetJobOutputNotFound(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.GetJobOutput(context.Background(), "999", "stdout")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestAllocateImmediateTimeoutUnderSaturation(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "filler.sh", "#!/bin/bash\nsleep 60\n")

	for i := 0; i < 16; i++ {
		_, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: script, Cores: 4})
		require.NoError(t, err)
	}

	// Wait past the mock's 300ms startup delay so the fillers are RUNNING
	// and claim all 64 CPUs (4 per running job) of the single mock node.
	time.Sleep(400 * time.Millisecond)

	alloc, err := a.AllocateNodes(context.Background(), AllocateArgs{Nodes: 1, Cores: 1, Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, models.AllocTimeout, alloc.State)
}

func TestInvalidMemorySuffix(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "ok.sh", "#!/bin/bash\necho hi\n")

	_, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: script, Cores: 1, Memory: "-4G"})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestInvalidTimeLimit(t *testing.T) {
	a := newTestAdapter(t)
	script := writeScript(t, t.TempDir(), "ok.sh", "#!/bin/bash\necho hi\n")

	_, err := a.SubmitJob(context.Background(), SubmitJobArgs{ScriptPath: script, Cores: 1, TimeLimit: "99:99:99"})
	require.ErrorIs(t, err, ErrInvalidResourceSpec)
}
