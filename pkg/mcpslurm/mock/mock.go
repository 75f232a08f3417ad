// Package mock is the in-memory stand-in for a real Slurm cluster, used
// when no Slurm CLI is on PATH or SLURM_MOCK_FORCE=1. The adapter calls a
// *Backend directly in place of the real Slurm CLI: a small struct returning
// canned-but-shaped data, extended into the stateful,
// cooperatively-scheduled lifecycle the gateway's adapter drives.
package mock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
)

// Clock lets tests substitute a deterministic time source; defaults to
// time.Now.
type Clock func() time.Time

const (
	nodeName      = "mock-node-0"
	nodeCPUsTotal = 64
)

// Backend is the in-memory cluster. All mutations hold mu; queries also
// take mu because transitioning a job's state on read is itself a mutation.
type Backend struct {
	mu sync.Mutex

	clock Clock

	nextJobID   int64
	nextAllocID int64

	jobs        map[string]*jobRecord
	allocations map[string]*models.Allocation
	partitions  []models.Partition
}

type jobRecord struct {
	job         *models.Job
	scriptHash  uint64
	submittedAt time.Time
	runFor      time.Duration
	forceFail   bool
}

// New builds a Backend with a synthetic single-node, three-partition
// cluster.
func New() *Backend {
	return NewWithClock(time.Now)
}

// NewWithClock builds a Backend whose cooperative scheduler advances state
// relative to clock rather than time.Now, for deterministic tests.
func NewWithClock(clock Clock) *Backend {
	return &Backend{
		clock:       clock,
		jobs:        make(map[string]*jobRecord),
		allocations: make(map[string]*models.Allocation),
		partitions: []models.Partition{
			{Name: "debug", State: "UP", NodesTotal: 1, NodesIdle: 1, Default: true},
			{Name: "normal", State: "UP", NodesTotal: 1, NodesIdle: 1},
			{Name: "compute", State: "UP", NodesTotal: 1, NodesIdle: 1},
		},
	}
}

// forcedFailurePrefix is the well-known script-content prefix callers use
// to request a synthetic job failure in mock mode: the job is still
// accepted, then ends FAILED with exit code 1 and a stderr line. A script
// that starts with it has no leading "#!" line, which the adapter's submit
// validation rejects, so only direct Backend callers can use it.
const forcedFailurePrefix = "#MOCK_FAIL"

// SubmitJob creates a PENDING job and schedules (cooperatively, on next
// query) its transition to RUNNING then a terminal state. scriptContents is
// hashed with xxh3 so repeated submissions of the same fixture script
// produce a reproducible simulated runtime.
func (b *Backend) SubmitJob(name, partition string, scriptContents []byte) *models.Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("%d", atomic.AddInt64(&b.nextJobID, 1))
	h := xxh3.Hash(scriptContents)

	now := b.clock()
	job := &models.Job{
		ID:         id,
		Name:       name,
		State:      models.JobPending,
		Partition:  partition,
		Nodelist:   nodeName,
		NumNodes:   1,
		SubmitTime: &now,
	}

	b.jobs[id] = &jobRecord{
		job:         job,
		scriptHash:  h,
		submittedAt: now,
		runFor:      pseudoRuntime(h),
		forceFail:   hasForcedFailurePrefix(scriptContents),
	}

	cp := *job

	return &cp
}

func hasForcedFailurePrefix(script []byte) bool {
	return len(script) >= len(forcedFailurePrefix) && string(script[:len(forcedFailurePrefix)]) == forcedFailurePrefix
}

// pseudoRuntime derives a deterministic, bounded runtime from a script
// content hash so fixture scripts "complete" quickly in tests.
func pseudoRuntime(h uint64) time.Duration {
	return 500*time.Millisecond + time.Duration(h%1500)*time.Millisecond
}

// mockStartupDelay is how long a job stays PENDING before it is eligible to
// move to RUNNING on the next query.
const mockStartupDelay = 300 * time.Millisecond

// advance runs the cooperative scheduler for a single job: state
// transitions are computed lazily, on query, never by a background
// goroutine.
func (b *Backend) advance(rec *jobRecord) {
	if rec.job.State.Terminal() {
		return
	}

	elapsed := b.clock().Sub(rec.submittedAt)

	if rec.job.State == models.JobPending {
		if elapsed >= mockStartupDelay {
			rec.job.State = models.JobRunning
			start := rec.submittedAt.Add(mockStartupDelay)
			rec.job.StartTime = &start
		}
	}

	if rec.job.State == models.JobRunning {
		if elapsed >= mockStartupDelay+rec.runFor {
			end := rec.submittedAt.Add(mockStartupDelay + rec.runFor)
			rec.job.EndTime = &end

			if rec.forceFail {
				rec.job.State = models.JobFailed
				rec.job.ExitCode = 1
			} else {
				rec.job.State = models.JobCompleted
				rec.job.ExitCode = 0
			}
		}
	}
}

// RenameJob re-keys a job record under a new id, used by the adapter to
// give array-job task records their "<array_id>_<task_id>" display id
// while still using the backend's own monotonic counter internally.
func (b *Backend) RenameJob(oldID, newID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.jobs[oldID]
	if !ok {
		return
	}

	rec.job.ID = newID
	delete(b.jobs, oldID)
	b.jobs[newID] = rec
}

// GetJob returns the current (possibly just-advanced) state of a job.
func (b *Backend) GetJob(id string) (*models.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.jobs[id]
	if !ok {
		return nil, false
	}

	b.advance(rec)
	cp := *rec.job

	return &cp, true
}

// ListJobs returns every job currently held, advancing each one first.
func (b *Backend) ListJobs() []models.Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	jobs := make([]models.Job, 0, len(b.jobs))
	for _, rec := range b.jobs {
		b.advance(rec)
		jobs = append(jobs, *rec.job)
	}

	return jobs
}

// CancelJob sets a job's state to CANCELLED immediately. A cancel of an
// already-terminal job is a no-op returning the current state.
func (b *Backend) CancelJob(id string) (*models.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.jobs[id]
	if !ok {
		return nil, false
	}

	b.advance(rec)

	if !rec.job.State.Terminal() {
		rec.job.State = models.JobCancelled
		now := b.clock()
		rec.job.EndTime = &now
	}

	cp := *rec.job

	return &cp, true
}

// JobOutput returns a synthetic stdout/stderr payload for a job. Real files
// are still written to disk by the adapter; this only supplies the
// contents the adapter writes.
func (b *Backend) JobOutput(id string) (stdout, stderr []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, exists := b.jobs[id]
	if !exists {
		return nil, nil, false
	}

	stdout = []byte(fmt.Sprintf("Hello from mock job %s (%s)\n", id, rec.job.Name))
	if rec.forceFail {
		stderr = []byte("mock: simulated failure\n")
	}

	return stdout, stderr, true
}

// Partitions returns the three synthetic partitions.
func (b *Backend) Partitions() []models.Partition {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Partition, len(b.partitions))
	copy(out, b.partitions)

	return out
}

// Node returns the single synthetic node, counting 4 CPUs for every job
// currently RUNNING (PENDING jobs and allocations are not counted).
func (b *Backend) Node() models.Node {
	b.mu.Lock()
	defer b.mu.Unlock()

	used := 0

	for _, rec := range b.jobs {
		b.advance(rec)

		if rec.job.State == models.JobRunning {
			used += 4
		}
	}

	if used > nodeCPUsTotal {
		used = nodeCPUsTotal
	}

	return models.Node{
		Name:        nodeName,
		State:       nodeState(used),
		CPUsTotal:   nodeCPUsTotal,
		CPUsUsed:    used,
		MemoryTotal: "256G",
	}
}

func nodeState(used int) string {
	switch {
	case used == 0:
		return "IDLE"
	case used >= nodeCPUsTotal:
		return "ALLOC"
	default:
		return "MIX"
	}
}

// hasFreeNode reports whether the single synthetic node has any unclaimed
// capacity, the condition allocate_nodes(immediate=true) checks to decide
// between ALLOCATED and TIMEOUT.
func (b *Backend) hasFreeNode() bool {
	used := 0

	for _, rec := range b.jobs {
		b.advance(rec)

		if rec.job.State == models.JobRunning {
			used += 4
		}
	}

	for _, alloc := range b.allocations {
		if alloc.State == models.AllocAllocated {
			used += alloc.CoresPerNode
		}
	}

	return used < nodeCPUsTotal
}

// RequestAllocation grants or times out an interactive allocation
// synchronously, within one scheduler tick. immediate=true with no free
// node yields AllocTimeout rather than blocking.
func (b *Backend) RequestAllocation(cores int, partition, jobName string, immediate bool) *models.Allocation {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("%d", atomic.AddInt64(&b.nextAllocID, 1))

	alloc := &models.Allocation{
		AllocationID:   id,
		NodesRequested: 1,
		CoresPerNode:   cores,
		Partition:      partition,
		JobName:        jobName,
		Immediate:      immediate,
		State:          models.AllocRequested,
	}

	if b.hasFreeNode() {
		alloc.State = models.AllocAllocated
		alloc.NodesAllocated = []string{nodeName}
	} else if immediate {
		alloc.State = models.AllocTimeout
	} else {
		// Non-immediate requests still resolve within one tick in mock
		// mode; max_alloc_wait only bounds the real backend.
		alloc.State = models.AllocAllocated
		alloc.NodesAllocated = []string{nodeName}
	}

	b.allocations[id] = alloc
	cp := *alloc

	return &cp
}

// GetAllocation returns the current state of an allocation.
func (b *Backend) GetAllocation(id string) (*models.Allocation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	alloc, ok := b.allocations[id]
	if !ok {
		return nil, false
	}

	cp := *alloc

	return &cp, true
}

// Deallocate marks an allocation DEALLOCATED. A second call is idempotent.
func (b *Backend) Deallocate(id string) (*models.Allocation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	alloc, ok := b.allocations[id]
	if !ok {
		return nil, false
	}

	if !alloc.State.Terminal() {
		alloc.State = models.AllocDeallocated
	}

	cp := *alloc

	return &cp, true
}
