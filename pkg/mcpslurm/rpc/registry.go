package rpc

import (
	"context"
	"fmt"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/adapter"
)

// handlerFunc is a tool's implementation: validated arguments in, a
// structured result (JSON-marshalable) and the real_slurm flag out.
type handlerFunc func(ctx context.Context, a *adapter.Adapter, args map[string]any) (result any, realSlurm bool, err error)

// toolEntry pairs a tool's wire schema with its handler.
type toolEntry struct {
	schema  ToolSchema
	handler handlerFunc
}

// buildRegistry declares every tool this gateway exposes. Tool names are
// part of the wire contract and must not change.
func buildRegistry() map[string]toolEntry {
	reg := map[string]toolEntry{}

	reg["submit_slurm_job"] = toolEntry{
		schema: ToolSchema{
			Name:        "submit_slurm_job",
			Description: "Submit a batch job to Slurm via sbatch.",
			Arguments: []ArgumentSchema{
				{Key: "script_path", Type: "string", Required: true},
				{Key: "cores", Type: "integer", Required: true},
				{Key: "memory", Type: "string"},
				{Key: "time_limit", Type: "string"},
				{Key: "job_name", Type: "string"},
				{Key: "partition", Type: "string"},
			},
		},
		handler: handleSubmitJob,
	}

	reg["submit_array_job"] = toolEntry{
		schema: ToolSchema{
			Name:        "submit_array_job",
			Description: "Submit an array job to Slurm via sbatch --array.",
			Arguments: []ArgumentSchema{
				{Key: "script_path", Type: "string", Required: true},
				{Key: "range", Type: "string", Required: true},
				{Key: "cores", Type: "integer"},
				{Key: "memory", Type: "string"},
				{Key: "time_limit", Type: "string"},
				{Key: "job_name", Type: "string"},
				{Key: "partition", Type: "string"},
			},
		},
		handler: handleSubmitArrayJob,
	}

	reg["check_job_status"] = toolEntry{
		schema: ToolSchema{
			Name:        "check_job_status",
			Description: "Check a job's current state.",
			Arguments:   []ArgumentSchema{{Key: "job_id", Type: "string", Required: true}},
		},
		handler: handleCheckJobStatus,
	}

	reg["get_job_details"] = toolEntry{
		schema: ToolSchema{
			Name:        "get_job_details",
			Description: "Fetch a job's full record from scontrol show job.",
			Arguments:   []ArgumentSchema{{Key: "job_id", Type: "string", Required: true}},
		},
		handler: handleGetJobDetails,
	}

	reg["get_job_output"] = toolEntry{
		schema: ToolSchema{
			Name:        "get_job_output",
			Description: "Retrieve a job's stdout or stderr.",
			Arguments: []ArgumentSchema{
				{Key: "job_id", Type: "string", Required: true},
				{Key: "stream", Type: "string", Required: true, Enum: []string{"stdout", "stderr"}},
			},
		},
		handler: handleGetJobOutput,
	}

	reg["cancel_slurm_job"] = toolEntry{
		schema: ToolSchema{
			Name:        "cancel_slurm_job",
			Description: "Cancel a job via scancel.",
			Arguments:   []ArgumentSchema{{Key: "job_id", Type: "string", Required: true}},
		},
		handler: handleCancelJob,
	}

	reg["list_slurm_jobs"] = toolEntry{
		schema: ToolSchema{
			Name:        "list_slurm_jobs",
			Description: "List jobs via squeue, optionally filtered by user or state.",
			Arguments: []ArgumentSchema{
				{Key: "user", Type: "string"},
				{Key: "state", Type: "string"},
			},
		},
		handler: handleListJobs,
	}

	reg["get_slurm_info"] = toolEntry{
		schema: ToolSchema{
			Name:        "get_slurm_info",
			Description: "Summarize cluster name, Slurm version, and partitions.",
		},
		handler: handleGetClusterInfo,
	}

	reg["get_queue_info"] = toolEntry{
		schema: ToolSchema{
			Name:        "get_queue_info",
			Description: "List partition queue state, optionally for a single partition.",
			Arguments:   []ArgumentSchema{{Key: "partition", Type: "string"}},
		},
		handler: handleGetQueueInfo,
	}

	reg["get_node_info"] = toolEntry{
		schema: ToolSchema{
			Name:        "get_node_info",
			Description: "Describe one node, or every node when unspecified.",
			Arguments:   []ArgumentSchema{{Key: "node", Type: "string"}},
		},
		handler: handleGetNodeInfo,
	}

	reg["allocate_nodes"] = toolEntry{
		schema: ToolSchema{
			Name:        "allocate_nodes",
			Description: "Request an interactive node allocation via salloc --no-shell.",
			Arguments: []ArgumentSchema{
				{Key: "nodes", Type: "integer"},
				{Key: "cores", Type: "integer"},
				{Key: "memory", Type: "string"},
				{Key: "time_limit", Type: "string"},
				{Key: "partition", Type: "string"},
				{Key: "job_name", Type: "string"},
				{Key: "immediate", Type: "boolean", Default: false},
			},
		},
		handler: handleAllocateNodes,
	}

	reg["deallocate_nodes"] = toolEntry{
		schema: ToolSchema{
			Name:        "deallocate_nodes",
			Description: "Release an interactive allocation.",
			Arguments:   []ArgumentSchema{{Key: "allocation_id", Type: "string", Required: true}},
		},
		handler: handleDeallocateNodes,
	}

	reg["get_allocation_status"] = toolEntry{
		schema: ToolSchema{
			Name:        "get_allocation_status",
			Description: "Poll an interactive allocation's state.",
			Arguments:   []ArgumentSchema{{Key: "allocation_id", Type: "string", Required: true}},
		},
		handler: handleGetAllocationStatus,
	}

	return reg
}

// --- argument extraction helpers -------------------------------------------------

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required argument %q", errInvalidParams, key)
	}

	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: argument %q must be a non-empty string", errInvalidParams, key)
	}

	return s, nil
}

func optString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}

	return ""
}

func requireInt(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing required argument %q", errInvalidParams, key)
	}

	return asInt(v)
}

func optInt(args map[string]any, key string) int {
	v, ok := args[key]
	if !ok {
		return 0
	}

	n, err := asInt(v)
	if err != nil {
		return 0
	}

	return n
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: expected a number", errInvalidParams)
	}
}

func optBool(args map[string]any, key string) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}

	return false
}

// --- handlers ---------------------------------------------------------------------

func handleSubmitJob(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	scriptPath, err := requireString(args, "script_path")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	cores, err := requireInt(args, "cores")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	job, err := a.SubmitJob(ctx, adapter.SubmitJobArgs{
		ScriptPath: scriptPath,
		Cores:      cores,
		Memory:     optString(args, "memory"),
		TimeLimit:  optString(args, "time_limit"),
		JobName:    optString(args, "job_name"),
		Partition:  optString(args, "partition"),
	})

	return job, a.RealSlurm(), err
}

func handleSubmitArrayJob(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	scriptPath, err := requireString(args, "script_path")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	rangeSpec, err := requireString(args, "range")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	aj, err := a.SubmitArrayJob(ctx, adapter.SubmitArrayJobArgs{
		SubmitJobArgs: adapter.SubmitJobArgs{
			ScriptPath: scriptPath,
			Cores:      optIntOrDefault(args, "cores", 1),
			Memory:     optString(args, "memory"),
			TimeLimit:  optString(args, "time_limit"),
			JobName:    optString(args, "job_name"),
			Partition:  optString(args, "partition"),
		},
		Range: rangeSpec,
	})

	return aj, a.RealSlurm(), err
}

func optIntOrDefault(args map[string]any, key string, def int) int {
	v := optInt(args, key)
	if v == 0 {
		return def
	}

	return v
}

func handleCheckJobStatus(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	jobID, err := requireString(args, "job_id")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	status, err := a.CheckJobStatus(ctx, jobID)

	return status, a.RealSlurm(), err
}

func handleGetJobDetails(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	jobID, err := requireString(args, "job_id")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	job, err := a.GetJobDetails(ctx, jobID)

	return job, a.RealSlurm(), err
}

func handleGetJobOutput(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	jobID, err := requireString(args, "job_id")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	stream, err := requireString(args, "stream")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	if stream != "stdout" && stream != "stderr" {
		return nil, a.RealSlurm(), fmt.Errorf("%w: stream must be stdout or stderr", errInvalidParams)
	}

	out, err := a.GetJobOutput(ctx, jobID, stream)

	return out, a.RealSlurm(), err
}

func handleCancelJob(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	jobID, err := requireString(args, "job_id")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	state, err := a.CancelJob(ctx, jobID)
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	return map[string]any{"job_id": jobID, "status": "cancelled", "state": state}, a.RealSlurm(), nil
}

func handleListJobs(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	jobs, err := a.ListJobs(ctx, adapter.ListJobsArgs{
		User:  optString(args, "user"),
		State: optString(args, "state"),
	})

	return jobs, a.RealSlurm(), err
}

func handleGetClusterInfo(ctx context.Context, a *adapter.Adapter, _ map[string]any) (any, bool, error) {
	info, err := a.GetClusterInfo(ctx)

	return info, a.RealSlurm(), err
}

func handleGetQueueInfo(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	partitions, err := a.GetQueueInfo(ctx, optString(args, "partition"))

	return partitions, a.RealSlurm(), err
}

func handleGetNodeInfo(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	nodes, err := a.GetNodeInfo(ctx, optString(args, "node"))

	return nodes, a.RealSlurm(), err
}

func handleAllocateNodes(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	alloc, err := a.AllocateNodes(ctx, adapter.AllocateArgs{
		Nodes:     optInt(args, "nodes"),
		Cores:     optInt(args, "cores"),
		Memory:    optString(args, "memory"),
		TimeLimit: optString(args, "time_limit"),
		Partition: optString(args, "partition"),
		JobName:   optString(args, "job_name"),
		Immediate: optBool(args, "immediate"),
	})

	return alloc, a.RealSlurm(), err
}

func handleDeallocateNodes(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	allocationID, err := requireString(args, "allocation_id")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	alloc, err := a.DeallocateNodes(ctx, allocationID)

	return alloc, a.RealSlurm(), err
}

func handleGetAllocationStatus(ctx context.Context, a *adapter.Adapter, args map[string]any) (any, bool, error) {
	allocationID, err := requireString(args, "allocation_id")
	if err != nil {
		return nil, a.RealSlurm(), err
	}

	alloc, err := a.GetAllocationStatus(ctx, allocationID)

	return alloc, a.RealSlurm(), err
}
