// Package adapter constructs CLI invocations, routes them through the
// command executor (or the mock backend), parses results via the parser
// package, and exposes the capability functions the dispatcher calls: the
// full submit/monitor/cancel/inspect/allocate surface. New runs a
// preflight-style probe that checks for the real CLI on PATH exactly once
// and binds the Adapter to either the real CLI or the mock backend.
package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jellydator/ttlcache/v3"
	"github.com/wneessen/go-fileperm"

	"github.com/sohamvsonar/slurm-mcp-gateway/internal/osexec"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/mock"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
)

// Timeout policy for backend calls.
const (
	queryTimeout      = 30 * time.Second
	submissionTimeout = 60 * time.Second
	outputReadTimeout = 10 * time.Second
	statusPollWindow  = 5 * time.Second
)

// Adapter is the capability layer. It holds no per-call state beyond what
// its fields expose; every exported method is a pure function over
// (arguments, backend handle, executor, parser).
type Adapter struct {
	logger    log.Logger
	outputDir string

	realSlurm bool
	mock      *mock.Backend

	maxOutputBytes       int64
	maxAllocWaitSeconds  int
	immediateTimeoutSecs int

	statusCache *ttlcache.Cache[string, models.JobState]

	// submissions tracks script/output paths chosen at submit time, so
	// get_job_output can resolve a path without re-querying scontrol when
	// the adapter itself already knows it.
	mu          sync.Mutex
	submissions map[string]submissionRecord
}

type submissionRecord struct {
	scriptPath string
	stdoutPath string
	stderrPath string
}

// Options configures a new Adapter.
type Options struct {
	OutputDir            string
	MockForce            bool
	MaxOutputBytes       int64
	MaxAllocWaitSeconds  int
	ImmediateTimeoutSecs int
}

// New probes for a real Slurm installation exactly once (by checking sbatch
// on PATH, unless MockForce is set) and constructs an Adapter bound to
// either the real CLI or the in-memory mock backend. There is no
// re-probing afterward: switching modes requires a restart.
func New(logger log.Logger, opts Options) (*Adapter, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("adapter: failed to create output dir: %w", err)
	}

	perm, err := fileperm.New(opts.OutputDir)
	if err == nil && !perm.UserWriteReadable() {
		level.Warn(logger).Log("msg", "output dir may not be writable", "dir", opts.OutputDir)
	}

	real := !opts.MockForce && osexec.LookPath("sbatch")

	a := &Adapter{
		logger:                logger,
		outputDir:             opts.OutputDir,
		realSlurm:             real,
		maxOutputBytes:        opts.MaxOutputBytes,
		maxAllocWaitSeconds:   opts.MaxAllocWaitSeconds,
		immediateTimeoutSecs:  opts.ImmediateTimeoutSecs,
		submissions:           make(map[string]submissionRecord),
	}

	if !real {
		a.mock = mock.New()

		level.Info(logger).Log("msg", "real sbatch not found on PATH or mock forced; using mock Slurm backend",
			"mock_force", opts.MockForce)
	} else {
		level.Info(logger).Log("msg", "real sbatch found on PATH; using real Slurm backend")
	}

	// Short-TTL cache in front of check_job_status: a burst of
	// check_job_status calls for the same job within one polling tick
	// resolves the state once instead of N times. get_job_details is not
	// cached and always runs scontrol.
	a.statusCache = ttlcache.New[string, models.JobState](
		ttlcache.WithTTL[string, models.JobState](250 * time.Millisecond),
	)

	go a.statusCache.Start()

	return a, nil
}

// Close stops the background cache-eviction goroutine.
func (a *Adapter) Close() {
	a.statusCache.Stop()
}

// RealSlurm reports whether this Adapter talks to a real Slurm installation
// (true) or the in-memory mock backend (false) — surfaced to clients as
// result._meta.real_slurm on every tool response.
func (a *Adapter) RealSlurm() bool {
	return a.realSlurm
}

func (a *Adapter) remember(jobID string, rec submissionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submissions[jobID] = rec
}

func (a *Adapter) lookupSubmission(jobID string) (submissionRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.submissions[jobID]

	return rec, ok
}

func (a *Adapter) evictStatus(jobID string) {
	a.statusCache.Delete(jobID)
}

// run shells out via internal/osexec, routing through the real executor
// only — mock-mode capability functions never call run and instead talk to
// a.mock directly.
func (a *Adapter) run(ctx context.Context, name string, args []string, timeout time.Duration) (osexec.Result, error) {
	return osexec.Run(ctx, a.logger, name, args, osexec.Options{Timeout: timeout})
}

// validateScript enforces submit_job/submit_array_job's shared precondition:
// script_path must exist, be readable, and look like a shell script (first
// line begins with "#!"). The permission check follows a
// fileperm.New + UserReadable path-permission pattern, generalized here
// from a privileged-user-impersonation check to a plain readability
// precondition since the gateway never changes uid/gid.
func validateScript(scriptPath string) error {
	perm, err := fileperm.New(scriptPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrScriptNotFound, scriptPath, err)
	}

	if !perm.UserReadable() {
		return fmt.Errorf("%w: %s: not readable", ErrScriptNotFound, scriptPath)
	}

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrScriptNotFound, scriptPath, err)
	}

	if len(data) < 2 || data[0] != '#' || data[1] != '!' {
		return fmt.Errorf("%w: %s: missing #! shebang", ErrScriptNotFound, scriptPath)
	}

	return nil
}

func (a *Adapter) stdoutPath(pattern string) string {
	return filepath.Join(a.outputDir, pattern)
}
