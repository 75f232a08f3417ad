package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/adapter"
)

func newStdioTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	a, err := adapter.New(log.NewNopLogger(), adapter.Options{
		OutputDir:            t.TempDir(),
		MockForce:            true,
		MaxOutputBytes:       1 << 20,
		MaxAllocWaitSeconds:  300,
		ImmediateTimeoutSecs: 10,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return NewDispatcher(log.NewNopLogger(), a, NewMetrics(prometheus.NewRegistry()), 4, 16)
}

func TestStdioServerInitializeFrame(t *testing.T) {
	d := newStdioTestDispatcher(t)

	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")

	var out bytes.Buffer

	server := NewStdioServer(log.NewNopLogger(), d, in, &out)
	require.NoError(t, server.Serve(context.Background()))

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())

	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestStdioServerNotificationGetsNoResponse(t *testing.T) {
	d := newStdioTestDispatcher(t)

	in := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")

	var out bytes.Buffer

	server := NewStdioServer(log.NewNopLogger(), d, in, &out)
	require.NoError(t, server.Serve(context.Background()))

	assert.Empty(t, out.String())
}

func TestStdioServerUnknownMethodIsMethodNotFound(t *testing.T) {
	d := newStdioTestDispatcher(t)

	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":7,"method":"no/such/method"}` + "\n")

	var out bytes.Buffer

	server := NewStdioServer(log.NewNopLogger(), d, in, &out)
	require.NoError(t, server.Serve(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

// TestStdioServerToolsCallSubmitJobZeroCoresIsInvalidParams round-trips
// submit_slurm_job("ok.sh", cores=0) over the stdio transport and asserts
// the wire result carries _meta.error="InvalidParams".
func TestStdioServerToolsCallSubmitJobZeroCoresIsInvalidParams(t *testing.T) {
	d := newStdioTestDispatcher(t)

	script := filepath.Join(t.TempDir(), "ok.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/bash\necho hi\n"), 0o755))

	params, err := json.Marshal(ToolsCallParams{
		Name:      "submit_slurm_job",
		Arguments: map[string]any{"script_path": script, "cores": float64(0)},
	})
	require.NoError(t, err)

	req := Request{JSONRPC: "2.0", ID: json.RawMessage(`4`), Method: "tools/call", Params: params}
	reqBytes, err := json.Marshal(req)
	require.NoError(t, err)

	in := bytes.NewBuffer(append(reqBytes, '\n'))

	var out bytes.Buffer

	server := NewStdioServer(log.NewNopLogger(), d, in, &out)
	require.NoError(t, server.Serve(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	var result ToolResult
	require.NoError(t, json.Unmarshal(mustMarshal(t, resp.Result), &result))
	require.True(t, result.IsError)
	require.NotNil(t, result.Meta.Error)
	assert.Equal(t, string(ErrorInvalidParams), *result.Meta.Error)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return b
}

func TestStdioServerToolsCallSubmitJob(t *testing.T) {
	d := newStdioTestDispatcher(t)

	script := filepath.Join(t.TempDir(), "job.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/bash\necho hi\n"), 0o755))

	params, err := json.Marshal(ToolsCallParams{
		Name:      "submit_slurm_job",
		Arguments: map[string]any{"script_path": script, "cores": float64(1)},
	})
	require.NoError(t, err)

	req := Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "tools/call", Params: params}
	reqBytes, err := json.Marshal(req)
	require.NoError(t, err)

	in := bytes.NewBuffer(append(reqBytes, '\n'))

	var out bytes.Buffer

	server := NewStdioServer(log.NewNopLogger(), d, in, &out)
	require.NoError(t, server.Serve(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}
