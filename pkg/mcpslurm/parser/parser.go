// Package parser converts the textual output of sbatch, squeue, scontrol,
// sinfo, and salloc into the typed records in pkg/mcpslurm/models. Every
// function here is pure and deterministic: none of them invoke a process or
// touch the filesystem, which is what makes them trivially fixture-testable.
package parser

import (
	"bufio"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/models"
)

// ErrNoJobID is returned when sbatch stdout does not contain a recognizable
// "Submitted batch job N" line.
var ErrNoJobID = errors.New("parser: no job id found in sbatch output")

var sbatchJobIDRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseSbatchOutput extracts the numeric job id sbatch prints on success.
// Array-job submissions use the same line format; the id returned is the
// parent array id.
func ParseSbatchOutput(stdout []byte) (string, error) {
	m := sbatchJobIDRe.FindSubmatch(stdout)
	if m == nil {
		return "", ErrNoJobID
	}

	return string(m[1]), nil
}

// squeueStateCodes maps squeue's two-letter state codes to the Job state
// enum. Unknown codes normalize to JobUnknown rather than failing — per
// C2's policy, the parser never fails on unrecognized tokens.
var squeueStateCodes = map[string]models.JobState{
	"PD": models.JobPending,
	"R":  models.JobRunning,
	"CG": models.JobRunning,
	"CD": models.JobCompleted,
	"F":  models.JobFailed,
	"CA": models.JobCancelled,
	"TO": models.JobTimeout,
	"NF": models.JobNodeFail,
}

// NormalizeState maps any Slurm state token (squeue codes or scontrol/sacct
// long-form names) to the Job state enum, returning JobUnknown for anything
// it does not recognize.
func NormalizeState(token string) models.JobState {
	token = strings.ToUpper(strings.TrimSpace(token))
	if s, ok := squeueStateCodes[token]; ok {
		return s
	}

	switch {
	case strings.HasPrefix(token, "PENDING"):
		return models.JobPending
	case strings.HasPrefix(token, "RUNNING"), strings.HasPrefix(token, "COMPLETING"):
		return models.JobRunning
	case strings.HasPrefix(token, "COMPLETED"):
		return models.JobCompleted
	case strings.HasPrefix(token, "FAILED"):
		return models.JobFailed
	case strings.HasPrefix(token, "CANCELLED"):
		return models.JobCancelled
	case strings.HasPrefix(token, "TIMEOUT"):
		return models.JobTimeout
	case strings.HasPrefix(token, "NODE_FAIL"):
		return models.JobNodeFail
	default:
		return models.JobUnknown
	}
}

// SqueueFields is the explicit, pipe-delimited field order this package asks
// squeue to emit via --format; squeueFieldIndex maps each field name to its
// column.
var SqueueFields = []string{
	"jobid", "state", "name", "username", "timeused", "timelimit",
	"numnodes", "numcpus", "partition", "reason", "nodelist",
}

var squeueFieldIndex = buildIndex(SqueueFields)

func buildIndex(fields []string) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}

	return idx
}

// ParseSqueueLine parses one pipe-delimited squeue output line built from
// SqueueFields into a Job summary.
func ParseSqueueLine(line string) (models.Job, error) {
	cols := strings.Split(line, "|")
	if len(cols) < len(SqueueFields) {
		return models.Job{}, errors.New("parser: squeue line has fewer fields than expected")
	}

	job := models.Job{
		ID:        cols[squeueFieldIndex["jobid"]],
		State:     NormalizeState(cols[squeueFieldIndex["state"]]),
		Name:      cols[squeueFieldIndex["name"]],
		User:      cols[squeueFieldIndex["username"]],
		Runtime:   cols[squeueFieldIndex["timeused"]],
		TimeLimit: cols[squeueFieldIndex["timelimit"]],
		Partition: cols[squeueFieldIndex["partition"]],
		Reason:    cols[squeueFieldIndex["reason"]],
		Nodelist:  cols[squeueFieldIndex["nodelist"]],
	}

	if n, err := strconv.Atoi(cols[squeueFieldIndex["numnodes"]]); err == nil {
		job.NumNodes = n
	}

	if n, err := strconv.Atoi(cols[squeueFieldIndex["numcpus"]]); err == nil {
		job.NumCPUs = n
	}

	return job, nil
}

// ParseSqueueOutput parses every non-blank line of squeue -h output built
// from SqueueFields.
func ParseSqueueOutput(output []byte) ([]models.Job, error) {
	var jobs []models.Job

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		job, err := ParseSqueueLine(line)
		if err != nil {
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

// memRegex and toBytesMultiplier handle AllocTRES-style memory suffixes: Slurm
// reports memory as e.g. "4000M" and we normalize suffixes without
// assuming one is always present.
var memRegex = regexp.MustCompile(`^([0-9]+)([KMGT]?B?)$`)

var toBytesMultiplier = map[string]int64{
	"":   1,
	"K":  1024,
	"KB": 1024,
	"M":  1024 * 1024,
	"MB": 1024 * 1024,
	"G":  1024 * 1024 * 1024,
	"GB": 1024 * 1024 * 1024,
	"T":  1024 * 1024 * 1024 * 1024,
	"TB": 1024 * 1024 * 1024 * 1024,
}

// ValidMemorySuffix reports whether spec accepts the {K,M,G,T}[B] memory
// suffix grammar submit_job validates before constructing --mem.
func ValidMemorySuffix(spec string) bool {
	return memRegex.MatchString(strings.ToUpper(spec))
}

// MemoryBytes converts a validated memory spec like "4G" to bytes.
func MemoryBytes(spec string) (int64, bool) {
	m := memRegex.FindStringSubmatch(strings.ToUpper(spec))
	if m == nil {
		return 0, false
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}

	mult, ok := toBytesMultiplier[m[2]]
	if !ok {
		return 0, false
	}

	return n * mult, true
}

var timeLimitRe = regexp.MustCompile(`^(?:(\d+)-)?(\d{1,2}):([0-5]\d):([0-5]\d)$`)

// ValidTimeLimit reports whether spec matches Slurm's accepted HH:MM:SS or
// D-HH:MM:SS --time grammar, with hours capped at 23 for the non-day form
// the same way Slurm itself rejects "99:99:99".
func ValidTimeLimit(spec string) bool {
	m := timeLimitRe.FindStringSubmatch(spec)
	if m == nil {
		return false
	}

	hours, _ := strconv.Atoi(m[2])
	if m[1] == "" && hours > 23 {
		return false
	}

	return true
}

// ParseKeyValueBlock parses a scontrol show job/node key=value block, which
// Slurm wraps across multiple physical lines without a fixed field order.
// Grounded on the accumulate-then-split pattern used for "scontrol show
// nodes" parsing: split on whitespace, then split each token on the first
// "=" so values containing "=" (e.g. Comment=a=b) survive intact.
func ParseKeyValueBlock(block string) map[string]string {
	fields := make(map[string]string)

	for _, tok := range strings.Fields(block) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}

		fields[kv[0]] = kv[1]
	}

	return fields
}

// ParseScontrolShowJob parses `scontrol show job <id>` output into a Job.
// Unknown keys are ignored; missing keys leave the corresponding field at
// its zero value rather than causing a failure.
func ParseScontrolShowJob(output []byte) models.Job {
	fields := ParseKeyValueBlock(string(output))

	job := models.Job{
		ID:         fields["JobId"],
		Name:       fields["JobName"],
		State:      NormalizeState(fields["JobState"]),
		Partition:  fields["Partition"],
		User:       firstToken(fields["UserId"]),
		Nodelist:   fields["NodeList"],
		TimeLimit:  fields["TimeLimit"],
		Runtime:    fields["RunTime"],
		ScriptPath: fields["Command"],
		StdoutPath: fields["StdOut"],
		StderrPath: fields["StdErr"],
		Reason:     fields["Reason"],
	}

	if n, err := strconv.Atoi(fields["NumNodes"]); err == nil {
		job.NumNodes = n
	}

	if n, err := strconv.Atoi(fields["NumCPUs"]); err == nil {
		job.NumCPUs = n
	}

	if ec, ok := fields["ExitCode"]; ok {
		parts := strings.SplitN(ec, ":", 2)
		if n, err := strconv.Atoi(parts[0]); err == nil {
			job.ExitCode = n
		}
	}

	return job
}

// firstToken returns the substring before the first ":" or "(" — UserId comes back
// as "alice(1000)" or "alice:1000" depending on Slurm version; callers only
// want the username.
func firstToken(s string) string {
	if i := strings.IndexAny(s, ":("); i >= 0 {
		return s[:i]
	}

	return s
}

// ParseScontrolShowNode parses `scontrol show node <name>` output into a
// Node.
func ParseScontrolShowNode(output []byte) models.Node {
	fields := ParseKeyValueBlock(string(output))

	node := models.Node{
		Name:        fields["NodeName"],
		State:       normalizeNodeState(fields["State"]),
		MemoryTotal: fields["RealMemory"],
	}

	if n, err := strconv.Atoi(fields["CPUTot"]); err == nil {
		node.CPUsTotal = n
	}

	if n, err := strconv.Atoi(fields["CPUAlloc"]); err == nil {
		node.CPUsUsed = n
	}

	if f := fields["ActiveFeatures"]; f != "" {
		node.Features = strings.Split(f, ",")
	}

	return node
}

func normalizeNodeState(raw string) string {
	raw = strings.ToUpper(strings.TrimSuffix(raw, "*"))
	switch {
	case strings.HasPrefix(raw, "IDLE"):
		return "IDLE"
	case strings.HasPrefix(raw, "ALLOC"):
		return "ALLOC"
	case strings.HasPrefix(raw, "MIX"):
		return "MIX"
	case strings.HasPrefix(raw, "DOWN"):
		return "DOWN"
	case strings.HasPrefix(raw, "DRAIN"):
		return "DRAIN"
	default:
		return "UNKNOWN"
	}
}

// ParseSinfoOutput parses pipe-delimited sinfo rows ("name|avail|timelimit|
// nodes|state|nodelist") into Partitions. Multiple rows for the same
// partition (one per node-state bucket, as sinfo emits) are merged.
func ParseSinfoOutput(output []byte) []models.Partition {
	byName := make(map[string]*models.Partition)

	var order []string

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cols := strings.Split(line, "|")
		if len(cols) < 5 {
			continue
		}

		name := strings.TrimSuffix(cols[0], "*")
		isDefault := strings.HasSuffix(cols[0], "*")

		p, ok := byName[name]
		if !ok {
			p = &models.Partition{Name: name, State: "UP", TimeLimit: cols[2], Default: isDefault}
			byName[name] = p
			order = append(order, name)
		}

		n, _ := strconv.Atoi(cols[3])
		p.NodesTotal += n

		if strings.Contains(strings.ToLower(cols[4]), "idle") {
			p.NodesIdle += n
		}
	}

	partitions := make([]models.Partition, 0, len(order))
	for _, name := range order {
		partitions = append(partitions, *byName[name])
	}

	return partitions
}

// SallocOutcome is the classification of a line of salloc stderr.
type SallocOutcome int

const (
	SallocUnknown SallocOutcome = iota
	SallocGranted
	SallocPending
	SallocFailed
)

var (
	sallocGrantedRe = regexp.MustCompile(`Granted job allocation (\d+)`)
	sallocPendingRe = regexp.MustCompile(`Pending job allocation (\d+)`)
)

// ParseSallocLine classifies one line of salloc stderr, returning the
// allocation id when the line carries one.
func ParseSallocLine(line string) (SallocOutcome, string) {
	if m := sallocGrantedRe.FindStringSubmatch(line); m != nil {
		return SallocGranted, m[1]
	}

	if m := sallocPendingRe.FindStringSubmatch(line); m != nil {
		return SallocPending, m[1]
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "allocation failure") || strings.Contains(lower, "resources unavailable") ||
		strings.Contains(lower, "job allocation") && strings.Contains(lower, "revoked") {
		return SallocFailed, ""
	}

	return SallocUnknown, ""
}

// ExpandArrayRange parses a Slurm array specifier like "1-5,7,9-11:2" into
// its explicit task list, rejecting empty, inverted, or zero-stride ranges.
func ExpandArrayRange(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("parser: empty array range")
	}

	seen := make(map[int]bool)

	var tasks []int

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errors.New("parser: empty element in array range")
		}

		stride := 1

		rangePart := part
		if i := strings.Index(part, ":"); i >= 0 {
			rangePart = part[:i]

			s, err := strconv.Atoi(part[i+1:])
			if err != nil {
				return nil, errors.New("parser: malformed stride in array range")
			}

			// A zero stride can never advance the iterator; reject rather
			// than silently coerce to 1.
			if s <= 0 {
				return nil, errors.New("parser: array range stride must be positive")
			}

			stride = s
		}

		if dash := strings.Index(rangePart, "-"); dash >= 0 {
			start, err1 := strconv.Atoi(rangePart[:dash])
			end, err2 := strconv.Atoi(rangePart[dash+1:])

			if err1 != nil || err2 != nil {
				return nil, errors.New("parser: malformed bound in array range")
			}

			if end < start {
				return nil, errors.New("parser: inverted array range")
			}

			for v := start; v <= end; v += stride {
				if !seen[v] {
					seen[v] = true

					tasks = append(tasks, v)
				}
			}
		} else {
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return nil, errors.New("parser: malformed array task index")
			}

			if !seen[v] {
				seen[v] = true

				tasks = append(tasks, v)
			}
		}
	}

	if len(tasks) == 0 {
		return nil, errors.New("parser: array range expands to no tasks")
	}

	return tasks, nil
}
