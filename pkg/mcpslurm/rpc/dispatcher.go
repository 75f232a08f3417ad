package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/adapter"
)

const (
	serverName    = "slurm-mcp-gateway"
	serverVersion = "0.1.0"

	shutdownDrainTimeout = 30 * time.Second
)

// Dispatcher resolves a tools/call request to its handler, validates
// arguments, bounds concurrency with a fixed worker pool plus a bounded
// queue, and wraps every outcome in the ToolResult envelope. Its dispatch
// shape follows a resource manager that fans a request out across named
// backends behind a single dispatch point, generalized here from a
// registered-struct table to a name->handler map.
type Dispatcher struct {
	logger  log.Logger
	adapter *adapter.Adapter
	metrics *Metrics
	tools   map[string]toolEntry

	tokens chan struct{}
	queue  chan struct{}
}

// NewDispatcher builds a Dispatcher with a worker pool of size
// maxConcurrent and an admission queue of size queueDepth. A call beyond
// queueDepth is rejected immediately with ServerBusy rather than blocking
// the caller.
func NewDispatcher(logger log.Logger, a *adapter.Adapter, metrics *Metrics, maxConcurrent, queueDepth int) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	if queueDepth <= 0 {
		queueDepth = 64
	}

	return &Dispatcher{
		logger:  logger,
		adapter: a,
		metrics: metrics,
		tools:   buildRegistry(),
		tokens:  make(chan struct{}, maxConcurrent),
		queue:   make(chan struct{}, queueDepth),
	}
}

// Initialize answers the initialize handshake with the static server info
// and the full tool catalogue.
func (d *Dispatcher) Initialize() InitializeResult {
	return InitializeResult{
		ServerInfo: ServerInfo{Name: serverName, Version: serverVersion},
		Tools:      d.schemas(),
	}
}

// ToolsList answers tools/list.
func (d *Dispatcher) ToolsList() ToolsListResult {
	return ToolsListResult{Tools: d.schemas()}
}

func (d *Dispatcher) schemas() []ToolSchema {
	schemas := make([]ToolSchema, 0, len(d.tools))
	for _, e := range d.tools {
		schemas = append(schemas, e.schema)
	}

	return schemas
}

// ToolsCall dispatches a single tools/call request through the worker pool,
// returning a fully-formed ToolResult (the happy path and every application
// error alike) plus an *RPCError only for true protocol failures —
// MethodNotFound when the tool name is unknown.
func (d *Dispatcher) ToolsCall(ctx context.Context, params ToolsCallParams) (ToolResult, *RPCError) {
	entry, ok := d.tools[params.Name]
	if !ok {
		return ToolResult{}, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", params.Name)}
	}

	select {
	case d.queue <- struct{}{}:
	default:
		return d.errorResult(params.Name, fmt.Errorf("%w: queue depth exceeded", errServerBusy)), nil
	}
	defer func() { <-d.queue }()

	select {
	case d.tokens <- struct{}{}:
	case <-ctx.Done():
		return d.errorResult(params.Name, ctx.Err()), nil
	}
	defer func() { <-d.tokens }()

	start := time.Now()

	result, realSlurm, err := entry.handler(ctx, d.adapter, params.Arguments)

	kind := ClassifyError(err)
	if d.metrics != nil {
		d.metrics.observe(params.Name, kind, time.Since(start).Seconds())
	}

	if err != nil {
		level.Debug(d.logger).Log("msg", "tool call failed", "tool", params.Name, "error_kind", kind, "err", err)

		return d.errorResultWithSlurmFlag(params.Name, err, realSlurm), nil
	}

	return d.successResult(params.Name, result, realSlurm), nil
}

func (d *Dispatcher) successResult(tool string, result any, realSlurm bool) ToolResult {
	text, err := json.Marshal(result)
	if err != nil {
		return d.errorResultWithSlurmFlag(tool, fmt.Errorf("%w: %w", errors.New("rpc: failed to marshal result"), err), realSlurm)
	}

	return ToolResult{
		Content: []ContentItem{{Type: "text", Text: string(text)}},
		Meta:    Meta{Tool: tool, Error: nil, RealSlurm: realSlurm},
	}
}

func (d *Dispatcher) errorResult(tool string, err error) ToolResult {
	return d.errorResultWithSlurmFlag(tool, err, d.adapter != nil && d.adapter.RealSlurm())
}

func (d *Dispatcher) errorResultWithSlurmFlag(tool string, err error, realSlurm bool) ToolResult {
	kind := ClassifyError(err)
	kindStr := string(kind)

	return ToolResult{
		Content: []ContentItem{{Type: "text", Text: err.Error()}},
		Meta:    Meta{Tool: tool, Error: &kindStr, RealSlurm: realSlurm},
		IsError: true,
	}
}

// Shutdown waits for in-flight calls to drain, up to 30 seconds, mirroring
// a bounded-timeout graceful shutdown.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownDrainTimeout)
	defer cancel()

	for i := 0; i < cap(d.tokens); i++ {
		select {
		case d.tokens <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("rpc: shutdown timed out waiting for %d in-flight calls to drain", cap(d.tokens)-i)
		}
	}

	return nil
}
