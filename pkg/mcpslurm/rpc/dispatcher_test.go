package rpc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/adapter"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	dir := t.TempDir()

	a, err := adapter.New(log.NewNopLogger(), adapter.Options{
		OutputDir:            dir,
		MockForce:            true,
		MaxOutputBytes:       1 << 20,
		MaxAllocWaitSeconds:  300,
		ImmediateTimeoutSecs: 10,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	metrics := NewMetrics(prometheus.NewRegistry())

	return NewDispatcher(log.NewNopLogger(), a, metrics, 8, 128)
}

func writeTestScript(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "job.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\necho hi\n"), 0o755))

	return path
}

func TestInitializeListsAllTools(t *testing.T) {
	d := newTestDispatcher(t)

	result := d.Initialize()
	assert.Equal(t, serverName, result.ServerInfo.Name)
	assert.Len(t, result.Tools, 13)
}

func TestToolsCallUnknownToolIsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)

	_, rpcErr := d.ToolsCall(context.Background(), ToolsCallParams{Name: "no_such_tool"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestToolsCallMissingRequiredArgIsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)

	result, rpcErr := d.ToolsCall(context.Background(), ToolsCallParams{Name: "submit_slurm_job", Arguments: map[string]any{}})
	require.Nil(t, rpcErr)
	assert.True(t, result.IsError)
	assert.Equal(t, string(ErrorInvalidParams), *result.Meta.Error)
}

// TestToolsCallSubmitJobZeroCoresIsInvalidParams reproduces
// submit_slurm_job("ok.sh", cores=0), which must surface as InvalidParams,
// not InvalidResourceSpec — cores<=0 is malformed input, distinct from a
// malformed but well-typed resource spec like an out-of-range time_limit.
func TestToolsCallSubmitJobZeroCoresIsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	script := writeTestScript(t)

	result, rpcErr := d.ToolsCall(context.Background(), ToolsCallParams{
		Name: "submit_slurm_job",
		Arguments: map[string]any{
			"script_path": script,
			"cores":       float64(0),
		},
	})
	require.Nil(t, rpcErr)
	assert.True(t, result.IsError)
	require.NotNil(t, result.Meta.Error)
	assert.Equal(t, string(ErrorInvalidParams), *result.Meta.Error)
}

// TestToolsCallSubmitJobBadTimeLimitIsInvalidResourceSpec is the companion
// case: a malformed time_limit value is a resource-spec error, not
// InvalidParams.
func TestToolsCallSubmitJobBadTimeLimitIsInvalidResourceSpec(t *testing.T) {
	d := newTestDispatcher(t)
	script := writeTestScript(t)

	result, rpcErr := d.ToolsCall(context.Background(), ToolsCallParams{
		Name: "submit_slurm_job",
		Arguments: map[string]any{
			"script_path": script,
			"cores":       float64(1),
			"time_limit":  "99:99:99",
		},
	})
	require.Nil(t, rpcErr)
	assert.True(t, result.IsError)
	require.NotNil(t, result.Meta.Error)
	assert.Equal(t, string(ErrorInvalidResourceSpec), *result.Meta.Error)
}

func TestToolsCallSubmitJobHappyPath(t *testing.T) {
	d := newTestDispatcher(t)
	script := writeTestScript(t)

	result, rpcErr := d.ToolsCall(context.Background(), ToolsCallParams{
		Name: "submit_slurm_job",
		Arguments: map[string]any{
			"script_path": script,
			"cores":       float64(2),
		},
	})
	require.Nil(t, rpcErr)
	require.False(t, result.IsError)
	assert.Equal(t, "submit_slurm_job", result.Meta.Tool)

	var job map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &job))
	assert.NotEmpty(t, job["id"])
}

// TestToolsCall64ConcurrentSubmissions drives 64 concurrent submit_slurm_job
// calls through the dispatcher's worker pool and asserts each returns a
// distinct job id with a well-formed envelope, exercising the bounded pool
// under real contention.
func TestToolsCall64ConcurrentSubmissions(t *testing.T) {
	d := newTestDispatcher(t)
	script := writeTestScript(t)

	const n = 64

	ids := make([]string, n)

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			result, rpcErr := d.ToolsCall(context.Background(), ToolsCallParams{
				Name: "submit_slurm_job",
				Arguments: map[string]any{
					"script_path": script,
					"cores":       float64(1),
				},
			})
			require.Nil(t, rpcErr)
			require.False(t, result.IsError)

			var job map[string]any
			require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &job))

			id, ok := job["id"].(string)
			require.True(t, ok)
			require.NotEmpty(t, id)

			ids[i] = id
		}(i)
	}

	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		require.NotEmpty(t, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate job id %q", id)
		seen[id] = struct{}{}
	}

	assert.Len(t, seen, n)
}

func TestShutdownDrainsWorkerPool(t *testing.T) {
	d := newTestDispatcher(t)

	require.NoError(t, d.Shutdown(context.Background()))
}

func TestToolsCallQueueSaturationIsServerBusy(t *testing.T) {
	a, err := adapter.New(log.NewNopLogger(), adapter.Options{
		OutputDir:            t.TempDir(),
		MockForce:            true,
		MaxOutputBytes:       1 << 20,
		MaxAllocWaitSeconds:  300,
		ImmediateTimeoutSecs: 10,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	d := NewDispatcher(log.NewNopLogger(), a, nil, 1, 1)

	// Fill the single queue slot by hand, leaving no room for ToolsCall's
	// own admission attempt.
	d.queue <- struct{}{}
	defer func() { <-d.queue }()

	result, rpcErr := d.ToolsCall(context.Background(), ToolsCallParams{Name: "get_slurm_info"})
	require.Nil(t, rpcErr)
	assert.True(t, result.IsError)
	assert.Equal(t, string(ErrorServerBusy), *result.Meta.Error)
}
