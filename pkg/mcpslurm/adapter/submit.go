package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/sohamvsonar/slurm-mcp-gateway/internal/osexec"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/parser"
)

// SubmitJobArgs is submit_slurm_job's argument set.
type SubmitJobArgs struct {
	ScriptPath string
	Cores      int
	Memory     string
	TimeLimit  string
	JobName    string
	Partition  string
}

// validateSubmitArgs enforces submit_job's preconditions shared by both the
// real and mock paths: a valid shebang script and well-formed resources.
// cores<=0 and a malformed memory suffix are malformed-input errors
// (InvalidParams); only a malformed time_limit value is a resource-spec
// error, since cores/memory are checked against fixed syntax rules while
// time_limit's HH:MM:SS format has valid-looking-but-out-of-range values
// like "99:99:99" that only a parser can catch.
func validateSubmitArgs(args SubmitJobArgs) error {
	if err := validateScript(args.ScriptPath); err != nil {
		return err
	}

	if args.Cores <= 0 {
		return fmt.Errorf("%w: cores must be positive, got %d", ErrInvalidParams, args.Cores)
	}

	if args.Memory != "" && !parser.ValidMemorySuffix(args.Memory) {
		return fmt.Errorf("%w: invalid memory spec %q", ErrInvalidParams, args.Memory)
	}

	if args.TimeLimit != "" && !parser.ValidTimeLimit(args.TimeLimit) {
		return fmt.Errorf("%w: invalid time limit %q", ErrInvalidResourceSpec, args.TimeLimit)
	}

	return nil
}

// SubmitJob constructs an sbatch invocation (or drives the mock backend).
func (a *Adapter) SubmitJob(ctx context.Context, args SubmitJobArgs) (models.Job, error) {
	if err := validateSubmitArgs(args); err != nil {
		return models.Job{}, err
	}

	if !a.realSlurm {
		return a.submitJobMock(args)
	}

	sbArgs := []string{
		fmt.Sprintf("--cpus-per-task=%d", args.Cores),
		fmt.Sprintf("--output=%s/slurm_%%j.out", a.outputDir),
		fmt.Sprintf("--error=%s/slurm_%%j.err", a.outputDir),
	}

	if args.Memory != "" {
		sbArgs = append(sbArgs, "--mem="+args.Memory)
	}

	if args.TimeLimit != "" {
		sbArgs = append(sbArgs, "--time="+args.TimeLimit)
	}

	if args.JobName != "" {
		sbArgs = append(sbArgs, "--job-name="+args.JobName)
	}

	if args.Partition != "" {
		sbArgs = append(sbArgs, "--partition="+args.Partition)
	}

	sbArgs = append(sbArgs, args.ScriptPath)

	res, err := a.run(ctx, "sbatch", sbArgs, submissionTimeout)
	if err != nil {
		return models.Job{}, a.submissionError(err, res)
	}

	id, err := parser.ParseSbatchOutput(res.Stdout)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}

	stdoutPath := fmt.Sprintf("%s/slurm_%s.out", a.outputDir, id)
	stderrPath := fmt.Sprintf("%s/slurm_%s.err", a.outputDir, id)

	a.remember(id, submissionRecord{scriptPath: args.ScriptPath, stdoutPath: stdoutPath, stderrPath: stderrPath})

	return models.Job{
		ID:         id,
		Name:       args.JobName,
		State:      models.JobPending,
		Partition:  args.Partition,
		NumCPUs:    args.Cores,
		Memory:     args.Memory,
		TimeLimit:  args.TimeLimit,
		ScriptPath: args.ScriptPath,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	}, nil
}

func (a *Adapter) submitJobMock(args SubmitJobArgs) (models.Job, error) {
	contents, err := os.ReadFile(args.ScriptPath)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: %w", ErrScriptNotFound, err)
	}

	job := a.mock.SubmitJob(args.JobName, args.Partition, contents)
	job.ScriptPath = args.ScriptPath
	job.NumCPUs = args.Cores
	job.Memory = args.Memory
	job.TimeLimit = args.TimeLimit

	return *job, nil
}

// submissionError maps a non-zero sbatch exit or a spawn failure to
// SubmissionRejected, carrying sbatch's stderr verbatim.
func (a *Adapter) submissionError(err error, res osexec.Result) error {
	level.Error(a.logger).Log("msg", "sbatch submission failed", "err", err, "stderr", string(res.Stderr))

	return fmt.Errorf("%w: %s", ErrSubmissionRejected, strings.TrimSpace(string(res.Stderr)))
}

// SubmitArrayJobArgs is submit_array_job's argument set.
type SubmitArrayJobArgs struct {
	SubmitJobArgs
	Range string
}

// SubmitArrayJob parses range into an explicit task list and constructs the
// corresponding sbatch --array invocation (or drives the mock backend per
// task).
func (a *Adapter) SubmitArrayJob(ctx context.Context, args SubmitArrayJobArgs) (models.ArrayJob, error) {
	if err := validateSubmitArgs(args.SubmitJobArgs); err != nil {
		return models.ArrayJob{}, err
	}

	tasks, err := parser.ExpandArrayRange(args.Range)
	if err != nil {
		return models.ArrayJob{}, fmt.Errorf("%w: %w", ErrInvalidResourceSpec, err)
	}

	stdoutPattern := "slurm_%A_%a.out"
	stderrPattern := "slurm_%A_%a.err"

	if !a.realSlurm {
		return a.submitArrayJobMock(args, tasks, stdoutPattern, stderrPattern)
	}

	sbArgs := []string{
		fmt.Sprintf("--cpus-per-task=%d", args.Cores),
		"--array=" + args.Range,
		fmt.Sprintf("--output=%s/%s", a.outputDir, stdoutPattern),
		fmt.Sprintf("--error=%s/%s", a.outputDir, stderrPattern),
	}

	if args.Memory != "" {
		sbArgs = append(sbArgs, "--mem="+args.Memory)
	}

	if args.TimeLimit != "" {
		sbArgs = append(sbArgs, "--time="+args.TimeLimit)
	}

	if args.JobName != "" {
		sbArgs = append(sbArgs, "--job-name="+args.JobName)
	}

	if args.Partition != "" {
		sbArgs = append(sbArgs, "--partition="+args.Partition)
	}

	sbArgs = append(sbArgs, args.ScriptPath)

	res, err := a.run(ctx, "sbatch", sbArgs, submissionTimeout)
	if err != nil {
		return models.ArrayJob{}, a.submissionError(err, res)
	}

	arrayID, err := parser.ParseSbatchOutput(res.Stdout)
	if err != nil {
		return models.ArrayJob{}, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}

	taskJobs := make(map[int]*models.Job, len(tasks))
	for _, t := range tasks {
		taskJobs[t] = &models.Job{
			ID:    fmt.Sprintf("%s_%d", arrayID, t),
			State: models.JobPending,
		}
	}

	return models.ArrayJob{
		ArrayID:           arrayID,
		Range:             models.ArrayRange{Raw: args.Range, Tasks: tasks},
		Tasks:             taskJobs,
		StdoutPathPattern: stdoutPattern,
		StderrPathPattern: stderrPattern,
	}, nil
}

func (a *Adapter) submitArrayJobMock(args SubmitArrayJobArgs, tasks []int, stdoutPattern, stderrPattern string) (models.ArrayJob, error) {
	contents, err := os.ReadFile(args.ScriptPath)
	if err != nil {
		return models.ArrayJob{}, fmt.Errorf("%w: %w", ErrScriptNotFound, err)
	}

	parent := a.mock.SubmitJob(args.JobName, args.Partition, contents)

	taskJobs := make(map[int]*models.Job, len(tasks))
	for _, t := range tasks {
		taskJob := a.mock.SubmitJob(args.JobName, args.Partition, contents)
		displayID := fmt.Sprintf("%s_%d", parent.ID, t)
		a.mock.RenameJob(taskJob.ID, displayID)
		taskJob.ID = displayID
		taskJobs[t] = taskJob
	}

	return models.ArrayJob{
		ArrayID:           parent.ID,
		Range:             models.ArrayRange{Raw: args.Range, Tasks: tasks},
		Tasks:             taskJobs,
		StdoutPathPattern: stdoutPattern,
		StderrPathPattern: stderrPattern,
	}, nil
}
