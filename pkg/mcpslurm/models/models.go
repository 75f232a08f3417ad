// Package models defines the data records shared by the parser, the mock
// backend, and the adapter: Job, ArrayJob, Allocation, Partition, Node, and
// ClusterInfo.
package models

import "time"

// JobState is the Job state machine's enumerated values. Once a Job reaches
// a terminal state it never transitions again.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
	JobTimeout   JobState = "TIMEOUT"
	JobNodeFail  JobState = "NODE_FAIL"
	JobUnknown   JobState = "UNKNOWN"
)

// Terminal reports whether state is absorbing in the Job state machine.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobTimeout, JobNodeFail:
		return true
	default:
		return false
	}
}

// Job is a single unit of computation submitted to Slurm (or the mock
// backend), identified by an opaque id.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	State       JobState   `json:"state"`
	Partition   string     `json:"partition,omitempty"`
	User        string     `json:"user,omitempty"`
	Nodelist    string     `json:"nodelist,omitempty"`
	NumNodes    int        `json:"num_nodes,omitempty"`
	NumCPUs     int        `json:"num_cpus,omitempty"`
	Memory      string     `json:"memory,omitempty"`
	TimeLimit   string     `json:"time_limit,omitempty"`
	Runtime     string     `json:"runtime,omitempty"`
	SubmitTime  *time.Time `json:"submit_time,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	ExitCode    int        `json:"exit_code,omitempty"`
	ScriptPath  string     `json:"script_path,omitempty"`
	StdoutPath  string     `json:"stdout_path,omitempty"`
	StderrPath  string     `json:"stderr_path,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// CanTransitionTo reports whether moving from j's current state to next is
// legal under the Job state machine: PENDING -> RUNNING -> terminal, or
// PENDING/RUNNING directly to a terminal state. Terminal states never move.
func (j Job) CanTransitionTo(next JobState) bool {
	if j.State.Terminal() {
		return false
	}

	switch j.State {
	case JobPending:
		return next == JobRunning || next.Terminal()
	case JobRunning:
		return next.Terminal()
	case "":
		return true
	default:
		return false
	}
}

// ArrayRange is a parsed array-job specifier with an explicit task list, so
// callers never need to re-derive membership from (start, end, step).
type ArrayRange struct {
	Raw   string `json:"raw"`
	Tasks []int  `json:"tasks"`
}

// ArrayJob is a parameterized family of Jobs sharing a parent id, indexed by
// task id.
type ArrayJob struct {
	ArrayID            string        `json:"array_id"`
	Range              ArrayRange    `json:"range"`
	Tasks              map[int]*Job  `json:"tasks"`
	StdoutPathPattern  string        `json:"stdout_path_pattern"`
	StderrPathPattern  string        `json:"stderr_path_pattern"`
}

// AllocationState is the Allocation state machine's enumerated values.
type AllocationState string

const (
	AllocRequested   AllocationState = "REQUESTED"
	AllocAllocated   AllocationState = "ALLOCATED"
	AllocTimeout     AllocationState = "TIMEOUT"
	AllocFailed      AllocationState = "FAILED"
	AllocDeallocated AllocationState = "DEALLOCATED"
)

// Terminal reports whether state is absorbing in the Allocation state
// machine.
func (s AllocationState) Terminal() bool {
	switch s {
	case AllocTimeout, AllocFailed, AllocDeallocated:
		return true
	default:
		return false
	}
}

// Allocation is a reservation of nodes obtained via salloc for interactive
// use, independent of a batch script.
type Allocation struct {
	AllocationID    string          `json:"allocation_id"`
	NodesRequested  int             `json:"nodes_requested"`
	CoresPerNode    int             `json:"cores_per_node,omitempty"`
	MemoryPerNode   string          `json:"memory_per_node,omitempty"`
	TimeLimit       string          `json:"time_limit,omitempty"`
	Partition       string          `json:"partition,omitempty"`
	JobName         string          `json:"job_name,omitempty"`
	NodesAllocated  []string        `json:"nodes_allocated"`
	State           AllocationState `json:"state"`
	Immediate       bool            `json:"immediate"`
}

// Partition is a named subset of cluster nodes with its own queue and
// limits.
type Partition struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	NodesTotal int    `json:"nodes_total"`
	NodesIdle  int    `json:"nodes_idle"`
	TimeLimit  string `json:"time_limit,omitempty"`
	Default    bool   `json:"default"`
}

// Node is a single cluster host.
type Node struct {
	Name         string   `json:"name"`
	State        string   `json:"state"`
	CPUsTotal    int      `json:"cpus_total"`
	CPUsUsed     int      `json:"cpus_used"`
	MemoryTotal  string   `json:"memory_total,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// ClusterInfo summarizes the cluster observed by the adapter.
type ClusterInfo struct {
	ClusterName  string      `json:"cluster_name"`
	SlurmVersion string      `json:"slurm_version,omitempty"`
	Partitions   []Partition `json:"partitions"`
	RealSlurm    bool        `json:"real_slurm"`
}

// ToolCall describes a single tools/call invocation: tool name, arguments,
// and request id. The rpc dispatcher does not construct it; its logs and
// metrics label calls by tool name directly, and the client receives the
// envelope in pkg/mcpslurm/rpc instead.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	RequestID any            `json:"request_id"`
}
