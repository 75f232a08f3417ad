// Command slurm_mcp_server runs the Slurm Control Gateway's MCP server over
// either the stdio or SSE transport, selected by the transport flag/envar.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/promlog"
	"github.com/prometheus/common/promlog/flag"
	"github.com/prometheus/common/version"

	internal_runtime "github.com/sohamvsonar/slurm-mcp-gateway/internal/runtime"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/adapter"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/base"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/rpc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, transport := base.RegisterFlags(base.App)

	promlogConfig := &promlog.Config{}
	flag.AddFlags(base.App, promlogConfig)
	base.App.Version(version.Print(base.AppName))
	base.App.UsageWriter(os.Stdout)
	base.App.HelpFlag.Short('h')

	if _, err := base.App.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse CLI flags: %w", err)
	}

	cfg.Finalize(*transport)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := promlog.New(promlogConfig)

	level.Info(logger).Log("msg", "starting "+base.AppName, "version", version.Info())
	level.Info(logger).Log("msg", "build context", "build_context", version.BuildContext())
	level.Info(logger).Log("msg", "resolved configuration", "transport", cfg.Transport, "output_dir", cfg.OutputDir)
	level.Debug(logger).Log("uname", internal_runtime.Uname())
	level.Debug(logger).Log("fd_limits", internal_runtime.FdLimits())

	a, err := adapter.New(logger, adapter.Options{
		OutputDir:            cfg.OutputDir,
		MockForce:            cfg.MockForce,
		MaxOutputBytes:       cfg.MaxOutputBytes,
		MaxAllocWaitSeconds:  cfg.MaxAllocWaitSeconds,
		ImmediateTimeoutSecs: cfg.ImmediateTimeoutSecs,
	})
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	defer a.Close()

	level.Info(logger).Log("msg", "backend selected", "real_slurm", a.RealSlurm())

	metrics := rpc.NewMetrics(prometheus.DefaultRegisterer)
	dispatcher := rpc.NewDispatcher(logger, a, metrics, cfg.MaxConcurrentTools, cfg.QueueDepth)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case base.TransportStdio:
		server := rpc.NewStdioServer(logger, dispatcher, os.Stdin, os.Stdout)

		level.Info(logger).Log("msg", "serving MCP over stdio")

		if err := server.Serve(ctx); err != nil {
			level.Error(logger).Log("msg", "stdio server exited with error", "err", err)

			return err
		}
	case base.TransportSSE:
		server := rpc.NewSSEServer(logger, dispatcher, cfg.MetricsPath, cfg.MaxConcurrentTools*4)
		addr := fmt.Sprintf("%s:%d", cfg.SSEHost, cfg.SSEPort)

		level.Info(logger).Log("msg", "serving MCP over SSE", "address", addr)

		if err := server.ListenAndServe(ctx, addr); err != nil {
			level.Error(logger).Log("msg", "SSE server exited with error", "err", err)

			return err
		}
	}

	level.Info(logger).Log("msg", "shutting down gracefully")

	return nil
}
