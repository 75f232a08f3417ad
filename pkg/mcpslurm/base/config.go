// Package base holds the names, defaults, and the immutable Config value
// shared across every other package in the gateway, the way a base package
// anchors an application's global constants.
package base

import (
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

// AppName is the kingpin application name.
const AppName = "slurm_mcp_server"

// Transport selects which of the two interchangeable MCP transports the
// runtime serves.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// Config is the immutable, process-wide configuration value built once at
// startup from flags/environment variables and passed by value into every
// component constructor.
type Config struct {
	Transport Transport
	SSEHost   string
	SSEPort   int

	OutputDir string
	MockForce bool

	MaxConcurrentTools int
	QueueDepth         int

	MaxOutputBytes       int64
	MaxAllocWaitSeconds  int
	ImmediateTimeoutSecs int

	MetricsPath string
}

// App is the package-scope kingpin application; RegisterFlags declares its
// flags.
var App = kingpin.New(AppName, "MCP gateway that exposes Slurm job management to language-model clients.")

// RegisterFlags declares every flag this Config needs, bound via .Envar so
// the environment variables named in the external interface remain the
// authoritative configuration surface and flags are purely an override.
// Call Finalize after app.Parse to resolve the enum-backed Transport field.
func RegisterFlags(app *kingpin.Application) (*Config, *string) {
	cfg := &Config{}

	var transport string

	app.Flag("transport", "MCP transport: stdio or sse.").
		Envar("MCP_TRANSPORT").Default("stdio").EnumVar(&transport, "stdio", "sse")

	app.Flag("sse.host", "Host the SSE transport's HTTP listener binds to.").
		Envar("MCP_SSE_HOST").Default("0.0.0.0").StringVar(&cfg.SSEHost)

	app.Flag("sse.port", "Port the SSE transport's HTTP listener binds to.").
		Envar("MCP_SSE_PORT").Default("8000").IntVar(&cfg.SSEPort)

	app.Flag("slurm.output-dir", "Directory Slurm stdout/stderr files are written to.").
		Envar("SLURM_OUTPUT_DIR").Default("./logs/slurm_output").StringVar(&cfg.OutputDir)

	app.Flag("slurm.mock-force", "Force the mock backend even when a real Slurm is on PATH.").
		Envar("SLURM_MOCK_FORCE").Default("0").BoolVar(&cfg.MockForce)

	app.Flag("mcp.max-concurrent-tools", "Bounded worker pool size for concurrent tool calls.").
		Envar("MCP_MAX_CONCURRENT_TOOLS").Default("8").IntVar(&cfg.MaxConcurrentTools)

	app.Flag("mcp.queue-depth", "Bounded queue depth once the worker pool is saturated.").
		Envar("MCP_QUEUE_DEPTH").Default("64").IntVar(&cfg.QueueDepth)

	app.Flag("slurm.max-output-bytes", "get_job_output response cap, in bytes.").
		Envar("SLURM_MAX_OUTPUT_BYTES").Default("1048576").Int64Var(&cfg.MaxOutputBytes)

	app.Flag("slurm.max-alloc-wait-seconds", "Upper bound for a non-immediate salloc allocation.").
		Envar("SLURM_MAX_ALLOC_WAIT_SECONDS").Default("300").IntVar(&cfg.MaxAllocWaitSeconds)

	app.Flag("slurm.immediate-timeout-seconds", "Upper bound for an immediate=true salloc allocation.").
		Envar("SLURM_IMMEDIATE_TIMEOUT_SECONDS").Default("10").IntVar(&cfg.ImmediateTimeoutSecs)

	app.Flag("mcp.metrics-path", "HTTP path the SSE transport exposes Prometheus metrics on.").
		Envar("MCP_METRICS_PATH").Default("/metrics").StringVar(&cfg.MetricsPath)

	return cfg, &transport
}

// Finalize resolves the enum-backed Transport field after app.Parse has
// populated transport. Kept as a separate step because kingpin only
// populates bound variables once parsing runs, after flags are registered.
func (c *Config) Finalize(transport string) {
	c.Transport = Transport(transport)
}

// Validate rejects configuration values that would make every subsequent
// component nonsensical to construct: catch malformed input early,
// cheaply, once.
func (c *Config) Validate() error {
	if c.Transport != TransportStdio && c.Transport != TransportSSE {
		return fmt.Errorf("invalid transport %q: must be %q or %q", c.Transport, TransportStdio, TransportSSE)
	}

	if c.MaxConcurrentTools <= 0 {
		return fmt.Errorf("mcp.max-concurrent-tools must be positive, got %d", c.MaxConcurrentTools)
	}

	if c.QueueDepth < 0 {
		return fmt.Errorf("mcp.queue-depth must not be negative, got %d", c.QueueDepth)
	}

	return nil
}
