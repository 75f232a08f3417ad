package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/sohamvsonar/slurm-mcp-gateway/internal/osexec"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/parser"
)

// AllocateArgs is allocate_nodes's argument set.
type AllocateArgs struct {
	Nodes     int
	Cores     int
	Memory    string
	TimeLimit string
	Partition string
	JobName   string
	Immediate bool
}

// AllocateNodes builds `salloc --no-shell` with the requested flags and
// blocks for up to immediate_timeout_seconds (immediate=true) or
// max_alloc_wait (immediate=false). A timeout is a structured TIMEOUT
// result, never an error.
func (a *Adapter) AllocateNodes(ctx context.Context, args AllocateArgs) (models.Allocation, error) {
	if !a.realSlurm {
		alloc := a.mock.RequestAllocation(orDefault(args.Cores, 1), args.Partition, args.JobName, args.Immediate)

		return *alloc, nil
	}

	timeout := time.Duration(a.maxAllocWaitSeconds) * time.Second
	if args.Immediate {
		timeout = time.Duration(a.immediateTimeoutSecs) * time.Second
	}

	sallocArgs := []string{"--no-shell"}

	if args.Nodes > 0 {
		sallocArgs = append(sallocArgs, fmt.Sprintf("--nodes=%d", args.Nodes))
	}

	if args.Cores > 0 {
		sallocArgs = append(sallocArgs, fmt.Sprintf("--cpus-per-task=%d", args.Cores))
	}

	if args.Memory != "" {
		sallocArgs = append(sallocArgs, "--mem="+args.Memory)
	}

	if args.TimeLimit != "" {
		sallocArgs = append(sallocArgs, "--time="+args.TimeLimit)
	}

	if args.Partition != "" {
		sallocArgs = append(sallocArgs, "--partition="+args.Partition)
	}

	if args.JobName != "" {
		sallocArgs = append(sallocArgs, "--job-name="+args.JobName)
	}

	if args.Immediate {
		sallocArgs = append(sallocArgs, "--immediate")
	}

	res, err := a.run(ctx, "salloc", sallocArgs, timeout)

	alloc := models.Allocation{
		NodesRequested: orDefault(args.Nodes, 1),
		CoresPerNode:   args.Cores,
		MemoryPerNode:  args.Memory,
		TimeLimit:      args.TimeLimit,
		Partition:      args.Partition,
		JobName:        args.JobName,
		Immediate:      args.Immediate,
	}

	if errors.Is(err, osexec.ErrTimedOut) {
		alloc.State = models.AllocTimeout

		return alloc, nil
	}

	if err != nil {
		level.Error(a.logger).Log("msg", "salloc failed", "err", err, "stderr", string(res.Stderr))
		alloc.State = models.AllocFailed

		return alloc, nil
	}

	outcome, id := classifySallocOutput(res.Stderr)

	switch outcome {
	case parser.SallocGranted:
		alloc.AllocationID = id
		alloc.State = models.AllocAllocated

		details, err := a.runReadOnlyWithRetry(ctx, "scontrol", []string{"show", "job", id}, queryTimeout)
		if err == nil {
			job := parser.ParseScontrolShowJob(details.Stdout)
			if job.Nodelist != "" {
				alloc.NodesAllocated = strings.Split(job.Nodelist, ",")
			}
		}
	case parser.SallocFailed:
		alloc.State = models.AllocFailed
	default:
		alloc.State = models.AllocTimeout
	}

	return alloc, nil
}

func classifySallocOutput(stderr []byte) (parser.SallocOutcome, string) {
	outcome, id := parser.SallocUnknown, ""

	for _, line := range strings.Split(string(stderr), "\n") {
		lineOutcome, lineID := parser.ParseSallocLine(line)

		switch lineOutcome {
		case parser.SallocGranted, parser.SallocFailed:
			return lineOutcome, lineID
		case parser.SallocPending:
			outcome, id = lineOutcome, lineID
		}
	}

	return outcome, id
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}

// GetAllocationStatus polls squeue then scontrol, normalizing to the
// Allocation state machine.
func (a *Adapter) GetAllocationStatus(ctx context.Context, allocationID string) (models.Allocation, error) {
	if !a.realSlurm {
		alloc, ok := a.mock.GetAllocation(allocationID)
		if !ok {
			return models.Allocation{}, fmt.Errorf("%w: %s", ErrJobNotFound, allocationID)
		}

		return *alloc, nil
	}

	status, err := a.CheckJobStatus(ctx, allocationID)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("%w: %s", ErrJobNotFound, allocationID)
	}

	alloc := models.Allocation{AllocationID: allocationID}

	switch {
	case status.State == models.JobPending:
		alloc.State = models.AllocRequested
	case status.State == models.JobRunning:
		alloc.State = models.AllocAllocated
	case status.State == models.JobTimeout:
		alloc.State = models.AllocTimeout
	case status.State.Terminal():
		alloc.State = models.AllocFailed
	default:
		alloc.State = models.AllocRequested
	}

	return alloc, nil
}

// DeallocateNodes runs scancel on the allocation id and reports DEALLOCATED
// as soon as scancel exits zero; it does not poll afterwards to confirm the
// allocation is gone.
func (a *Adapter) DeallocateNodes(ctx context.Context, allocationID string) (models.Allocation, error) {
	if !a.realSlurm {
		alloc, ok := a.mock.Deallocate(allocationID)
		if !ok {
			return models.Allocation{}, fmt.Errorf("%w: %s", ErrJobNotFound, allocationID)
		}

		return *alloc, nil
	}

	res, err := a.run(ctx, "scancel", []string{allocationID}, queryTimeout)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("%w: %s", ErrSubmissionRejected, strings.TrimSpace(string(res.Stderr)))
	}

	return models.Allocation{AllocationID: allocationID, State: models.AllocDeallocated}, nil
}
