package adapter

import (
	"context"
	"fmt"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/parser"
)

// GetClusterInfo summarizes the cluster via sinfo for the partitions plus
// scontrol show config for the Slurm version (or the mock backend's
// synthetic partitions).
func (a *Adapter) GetClusterInfo(ctx context.Context) (models.ClusterInfo, error) {
	if !a.realSlurm {
		return models.ClusterInfo{
			ClusterName:  "mock-cluster",
			SlurmVersion: "mock",
			Partitions:   a.mock.Partitions(),
			RealSlurm:    false,
		}, nil
	}

	res, err := a.runReadOnlyWithRetry(ctx, "sinfo", []string{"-h", "-o", "%P|%a|%l|%D|%t|%N"}, queryTimeout)
	if err != nil {
		return models.ClusterInfo{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	partitions := parser.ParseSinfoOutput(res.Stdout)

	version := "unknown"
	if vres, err := a.run(ctx, "scontrol", []string{"show", "config"}, queryTimeout); err == nil {
		fields := parser.ParseKeyValueBlock(string(vres.Stdout))
		if v, ok := fields["SLURM_VERSION"]; ok {
			version = v
		}
	}

	return models.ClusterInfo{
		ClusterName:  "slurm",
		SlurmVersion: version,
		Partitions:   partitions,
		RealSlurm:    true,
	}, nil
}

// GetQueueInfo returns partition rows from sinfo, optionally filtered to a
// single partition.
func (a *Adapter) GetQueueInfo(ctx context.Context, partition string) ([]models.Partition, error) {
	info, err := a.GetClusterInfo(ctx)
	if err != nil {
		return nil, err
	}

	if partition == "" {
		return info.Partitions, nil
	}

	for _, p := range info.Partitions {
		if p.Name == partition {
			return []models.Partition{p}, nil
		}
	}

	return nil, nil
}

// GetNodeInfo returns a single node's details, or the whole fleet when name
// is empty.
func (a *Adapter) GetNodeInfo(ctx context.Context, name string) ([]models.Node, error) {
	if !a.realSlurm {
		return []models.Node{a.mock.Node()}, nil
	}

	args := []string{"show", "node"}
	if name != "" {
		args = append(args, name)
	} else {
		args = append(args, "-a")
	}

	res, err := a.runReadOnlyWithRetry(ctx, "scontrol", args, queryTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	return splitNodeBlocks(res.Stdout), nil
}

// splitNodeBlocks splits scontrol show node's output on blank lines (one
// key=value block per node) and parses each block independently.
func splitNodeBlocks(output []byte) []models.Node {
	var nodes []models.Node

	var cur []byte

	flush := func() {
		if len(cur) == 0 {
			return
		}

		nodes = append(nodes, parser.ParseScontrolShowNode(cur))
		cur = nil
	}

	for _, line := range splitLines(output) {
		if len(line) == 0 {
			flush()

			continue
		}

		cur = append(cur, line...)
		cur = append(cur, ' ')
	}

	flush()

	return nodes
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte

	start := 0

	for i, c := range b {
		if c == '\n' {
			lines = append(lines, b[start:i])
			start = i + 1
		}
	}

	if start < len(b) {
		lines = append(lines, b[start:])
	}

	return lines
}
