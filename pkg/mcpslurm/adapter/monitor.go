package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/sohamvsonar/slurm-mcp-gateway/internal/osexec"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/parser"
)

// JobStatus is check_job_status's result shape.
type JobStatus struct {
	JobID     string          `json:"job_id"`
	State     models.JobState `json:"state"`
	RealSlurm bool            `json:"real_slurm"`
}

// CheckJobStatus resolves a single consistent state across squeue (first),
// sacct (job no longer queued), and scontrol (last resort), caching the
// result for a short TTL so a burst of status calls for the same job costs
// one resolution. GetJobDetails does not use this cache.
func (a *Adapter) CheckJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	if !a.realSlurm {
		job, ok := a.mock.GetJob(jobID)
		if !ok {
			return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}

		return JobStatus{JobID: jobID, State: job.State, RealSlurm: false}, nil
	}

	if item := a.statusCache.Get(jobID); item != nil {
		return JobStatus{JobID: jobID, State: item.Value(), RealSlurm: true}, nil
	}

	state, err := a.resolveRealState(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}

	a.statusCache.Set(jobID, state, 0)

	return JobStatus{JobID: jobID, State: state, RealSlurm: true}, nil
}

func (a *Adapter) resolveRealState(ctx context.Context, jobID string) (models.JobState, error) {
	res, err := a.runReadOnlyWithRetry(ctx, "squeue", []string{"-j", jobID, "-h", "-o", "%T"}, queryTimeout)
	if err == nil && len(strings.TrimSpace(string(res.Stdout))) > 0 {
		return parser.NormalizeState(strings.TrimSpace(string(res.Stdout))), nil
	}

	res, err = a.runReadOnlyWithRetry(ctx, "sacct", []string{"-j", jobID, "-o", "State", "-P", "-n"}, queryTimeout)
	if err == nil && len(strings.TrimSpace(string(res.Stdout))) > 0 {
		lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")

		return parser.NormalizeState(strings.TrimSpace(lines[0])), nil
	}

	res, err = a.runReadOnlyWithRetry(ctx, "scontrol", []string{"show", "job", jobID}, queryTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	job := parser.ParseScontrolShowJob(res.Stdout)
	if job.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return job.State, nil
}

// runReadOnlyWithRetry retries a single time on timeout for read-only
// commands (squeue, sinfo, scontrol show); mutating commands never retry.
func (a *Adapter) runReadOnlyWithRetry(ctx context.Context, name string, args []string, timeout time.Duration) (osexec.Result, error) {
	res, err := a.run(ctx, name, args, timeout)
	if errors.Is(err, osexec.ErrTimedOut) {
		level.Debug(a.logger).Log("msg", "read-only command timed out, retrying once", "cmd", name, "err", err)

		res, err = a.run(ctx, name, args, timeout)
	}

	return res, err
}

// GetJobDetails returns the full Job record from scontrol show job.
func (a *Adapter) GetJobDetails(ctx context.Context, jobID string) (models.Job, error) {
	if !a.realSlurm {
		job, ok := a.mock.GetJob(jobID)
		if !ok {
			return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}

		return *job, nil
	}

	res, err := a.runReadOnlyWithRetry(ctx, "scontrol", []string{"show", "job", jobID}, queryTimeout)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	job := parser.ParseScontrolShowJob(res.Stdout)
	if job.ID == "" {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return job, nil
}

// ListJobsArgs is list_slurm_jobs's argument set.
type ListJobsArgs struct {
	User  string
	State string
}

// ListJobs returns job summaries via squeue. When both filters are unset it
// defaults to the current user only.
func (a *Adapter) ListJobs(ctx context.Context, args ListJobsArgs) ([]models.Job, error) {
	if !a.realSlurm {
		jobs := a.mock.ListJobs()

		return filterJobs(jobs, args), nil
	}

	sqArgs := []string{"-h", "-o", strings.Join(decorateFields(parser.SqueueFields), "|")}

	user := args.User
	if user == "" && args.State == "" {
		if u, err := currentUsername(); err == nil {
			user = u
		}
	}

	if user != "" {
		sqArgs = append(sqArgs, "-u", user)
	}

	res, err := a.runReadOnlyWithRetry(ctx, "squeue", sqArgs, queryTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobNotFound, err)
	}

	jobs, _ := parser.ParseSqueueOutput(res.Stdout)

	return filterJobs(jobs, args), nil
}

func decorateFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = "%" + f
	}

	return out
}

func currentUsername() (string, error) {
	if u := os.Getenv("USER"); u != "" {
		return u, nil
	}

	return "", fmt.Errorf("USER not set")
}

func filterJobs(jobs []models.Job, args ListJobsArgs) []models.Job {
	if args.User == "" && args.State == "" {
		return jobs
	}

	out := jobs[:0:0]

	for _, j := range jobs {
		if args.User != "" && j.User != args.User {
			continue
		}

		if args.State != "" && string(j.State) != strings.ToUpper(args.State) {
			continue
		}

		out = append(out, j)
	}

	return out
}

// JobOutput is get_job_output's result shape.
type JobOutput struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// GetJobOutput resolves in four steps: compute the expected path, return
// NotReady while pending, OutputLost for a terminal job with no file, else
// the (possibly truncated) file contents.
func (a *Adapter) GetJobOutput(ctx context.Context, jobID string, stream string) (JobOutput, error) {
	path, job, err := a.resolveOutputPath(ctx, jobID, stream)
	if err != nil {
		return JobOutput{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if job.State == models.JobPending {
				return JobOutput{}, fmt.Errorf("%w: %s", ErrOutputNotReady, jobID)
			}

			if job.State.Terminal() {
				return JobOutput{}, fmt.Errorf("%w: %s", ErrOutputLost, jobID)
			}

			return JobOutput{}, fmt.Errorf("%w: %s", ErrOutputNotReady, jobID)
		}

		return JobOutput{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	truncated := false
	if int64(len(data)) > a.maxOutputBytes {
		data = data[:a.maxOutputBytes]
		truncated = true
	}

	return JobOutput{Content: string(data), Truncated: truncated}, nil
}

func (a *Adapter) resolveOutputPath(ctx context.Context, jobID string, stream string) (string, models.Job, error) {
	if !a.realSlurm {
		job, ok := a.mock.GetJob(jobID)
		if !ok {
			return "", models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}

		stdout, stderr, _ := a.mock.JobOutput(jobID)

		path := a.writeMockOutput(jobID, stream, stdout, stderr)

		return path, *job, nil
	}

	if rec, ok := a.lookupSubmission(jobID); ok {
		if stream == "stderr" {
			return rec.stderrPath, a.jobOrUnknown(ctx, jobID), nil
		}

		return rec.stdoutPath, a.jobOrUnknown(ctx, jobID), nil
	}

	job, err := a.GetJobDetails(ctx, jobID)
	if err != nil {
		return "", models.Job{}, err
	}

	if stream == "stderr" {
		return job.StderrPath, job, nil
	}

	return job.StdoutPath, job, nil
}

func (a *Adapter) jobOrUnknown(ctx context.Context, jobID string) models.Job {
	job, err := a.GetJobDetails(ctx, jobID)
	if err != nil {
		return models.Job{ID: jobID, State: models.JobUnknown}
	}

	return job
}

// writeMockOutput materializes the mock backend's synthetic stdout/stderr
// to disk once, so repeated get_job_output calls read a real file exactly
// like the real-Slurm path does.
func (a *Adapter) writeMockOutput(jobID, stream string, stdout, stderr []byte) string {
	stdoutPath := fmt.Sprintf("%s/slurm_%s.out", a.outputDir, jobID)
	stderrPath := fmt.Sprintf("%s/slurm_%s.err", a.outputDir, jobID)

	if _, err := os.Stat(stdoutPath); os.IsNotExist(err) {
		_ = os.WriteFile(stdoutPath, stdout, 0o644)
	}

	if len(stderr) > 0 {
		if _, err := os.Stat(stderrPath); os.IsNotExist(err) {
			_ = os.WriteFile(stderrPath, stderr, 0o644)
		}
	}

	if stream == "stderr" {
		return stderrPath
	}

	return stdoutPath
}

// CancelJob runs scancel and bounds-polls for the resulting terminal state.
// A second cancel of an already-terminal job is idempotent.
func (a *Adapter) CancelJob(ctx context.Context, jobID string) (models.JobState, error) {
	a.evictStatus(jobID)

	if !a.realSlurm {
		job, ok := a.mock.CancelJob(jobID)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}

		return job.State, nil
	}

	res, err := a.run(ctx, "scancel", []string{jobID}, queryTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSubmissionRejected, strings.TrimSpace(string(res.Stderr)))
	}

	deadline := time.Now().Add(statusPollWindow)
	for time.Now().Before(deadline) {
		status, err := a.CheckJobStatus(ctx, jobID)
		if err == nil && status.State.Terminal() {
			return status.State, nil
		}

		time.Sleep(250 * time.Millisecond)
	}

	return models.JobCancelled, nil
}
