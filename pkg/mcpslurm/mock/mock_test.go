package mock

import (
	"testing"
	"time"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndAdvance(t *testing.T) {
	now := time.Now()
	clock := &now

	b := NewWithClock(func() time.Time { return *clock })

	job := b.SubmitJob("myjob", "debug", []byte("#!/bin/bash\necho hi\n"))
	assert.Equal(t, "1", job.ID)
	assert.Equal(t, models.JobPending, job.State)

	*clock = clock.Add(mockStartupDelay + time.Millisecond)
	got, ok := b.GetJob("1")
	require.True(t, ok)
	assert.Equal(t, models.JobRunning, got.State)
}

func TestSubmitDistinctIDs(t *testing.T) {
	b := New()

	seen := map[string]bool{}

	for i := 0; i < 64; i++ {
		job := b.SubmitJob("j", "debug", []byte("script"))
		assert.False(t, seen[job.ID])
		seen[job.ID] = true
	}

	assert.Len(t, seen, 64)
}

func TestCancelTerminalIsNoop(t *testing.T) {
	b := New()
	job := b.SubmitJob("j", "debug", []byte("script"))

	first, _ := b.CancelJob(job.ID)
	assert.Equal(t, models.JobCancelled, first.State)

	second, _ := b.CancelJob(job.ID)
	assert.Equal(t, models.JobCancelled, second.State)
}

func TestForcedFailure(t *testing.T) {
	now := time.Now()
	clock := &now
	b := NewWithClock(func() time.Time { return *clock })

	job := b.SubmitJob("j", "debug", []byte(forcedFailurePrefix+"\n#!/bin/bash\nexit 1\n"))

	*clock = clock.Add(5 * time.Second)

	got, _ := b.GetJob(job.ID)
	assert.Equal(t, models.JobFailed, got.State)
}

func TestAllocateImmediateTimeoutUnderSaturation(t *testing.T) {
	now := time.Now()
	clock := &now
	b := NewWithClock(func() time.Time { return *clock })

	// Saturate the single synthetic node (64 CPUs / 4 per running job).
	for i := 0; i < 16; i++ {
		b.SubmitJob("filler", "debug", []byte("script"))
	}

	*clock = clock.Add(mockStartupDelay + time.Millisecond)

	alloc := b.RequestAllocation(1, "debug", "interactive", true)
	assert.Equal(t, models.AllocTimeout, alloc.State)
}

func TestAllocateGrantedOnIdleNode(t *testing.T) {
	b := New()

	alloc := b.RequestAllocation(1, "debug", "interactive", true)
	assert.Equal(t, models.AllocAllocated, alloc.State)
	assert.Equal(t, []string{nodeName}, alloc.NodesAllocated)
}

func TestDeallocateIdempotent(t *testing.T) {
	b := New()
	alloc := b.RequestAllocation(1, "debug", "interactive", false)

	first, _ := b.Deallocate(alloc.AllocationID)
	assert.Equal(t, models.AllocDeallocated, first.State)

	second, _ := b.Deallocate(alloc.AllocationID)
	assert.Equal(t, models.AllocDeallocated, second.State)
}
