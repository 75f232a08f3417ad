// Command slurm_mcp_cli is a local debug tool for inspecting the Slurm
// backend the gateway would use, without going through the MCP protocol.
// It builds its own adapter.Adapter with the same code the server uses. Against
// a real Slurm its output matches what list_slurm_jobs/get_node_info/etc.
// would see; in mock mode it gets a fresh, empty in-memory backend of its
// own, not a running server's state.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/common/version"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/adapter"
)

var app = kingpin.New("slurm_mcp_cli", "Inspect the Slurm backend a slurm_mcp_server instance would use.").UsageWriter(os.Stdout)

func main() {
	var (
		outputDir = app.Flag("output-dir", "Directory Slurm stdout/stderr files are written to.").
				Default("./logs/slurm_output").String()
		mockForce = app.Flag("mock-force", "Force the mock backend even when a real Slurm is on PATH.").Bool()
	)

	jobsCmd := app.Command("jobs", "List jobs visible to the current user.")
	jobsUser := jobsCmd.Flag("user", "Filter by user.").String()
	jobsState := jobsCmd.Flag("state", "Filter by state.").String()

	nodesCmd := app.Command("nodes", "Describe cluster nodes.")
	nodesName := nodesCmd.Flag("node", "A single node name. All nodes if unset.").String()

	queueCmd := app.Command("queue", "List partition queue state.")
	queuePartition := queueCmd.Flag("partition", "A single partition name. All partitions if unset.").String()

	infoCmd := app.Command("info", "Summarize the cluster.")

	app.Version(version.Print("slurm_mcp_cli"))
	app.HelpFlag.Short('h')

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse CLI flags: %v", err)
	}

	a, err := adapter.New(log.NewNopLogger(), adapter.Options{
		OutputDir:            *outputDir,
		MockForce:            *mockForce,
		MaxOutputBytes:       1 << 20,
		MaxAllocWaitSeconds:  300,
		ImmediateTimeoutSecs: 10,
	})
	if err != nil {
		kingpin.Fatalf("failed to create adapter: %v", err)
	}
	defer a.Close()

	ctx := context.Background()

	var runErr error

	switch cmd {
	case jobsCmd.FullCommand():
		runErr = runJobs(ctx, a, *jobsUser, *jobsState)
	case nodesCmd.FullCommand():
		runErr = runNodes(ctx, a, *nodesName)
	case queueCmd.FullCommand():
		runErr = runQueue(ctx, a, *queuePartition)
	case infoCmd.FullCommand():
		runErr = runInfo(ctx, a)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}

func runJobs(ctx context.Context, a *adapter.Adapter, user, state string) error {
	jobs, err := a.ListJobs(ctx, adapter.ListJobsArgs{User: user, State: state})
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Job ID", "Name", "State", "Partition", "User", "Nodes", "CPUs", "Time Limit"})

	for _, j := range jobs {
		t.AppendRow(table.Row{j.ID, j.Name, j.State, j.Partition, j.User, j.Nodelist, j.NumCPUs, j.TimeLimit})
	}

	t.Render()

	return nil
}

func runNodes(ctx context.Context, a *adapter.Adapter, name string) error {
	nodes, err := a.GetNodeInfo(ctx, name)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Node", "State", "CPUs Used", "CPUs Total", "Memory"})

	for _, n := range nodes {
		t.AppendRow(table.Row{n.Name, n.State, n.CPUsUsed, n.CPUsTotal, n.MemoryTotal})
	}

	t.Render()

	return nil
}

func runQueue(ctx context.Context, a *adapter.Adapter, partition string) error {
	partitions, err := a.GetQueueInfo(ctx, partition)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Partition", "State", "Nodes Idle", "Nodes Total", "Time Limit", "Default"})

	for _, p := range partitions {
		t.AppendRow(table.Row{p.Name, p.State, p.NodesIdle, p.NodesTotal, p.TimeLimit, p.Default})
	}

	t.Render()

	return nil
}

func runInfo(ctx context.Context, a *adapter.Adapter) error {
	info, err := a.GetClusterInfo(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("cluster: %s\nslurm version: %s\nreal slurm: %t\npartitions: %d\n",
		info.ClusterName, info.SlurmVersion, info.RealSlurm, len(info.Partitions))

	return nil
}
