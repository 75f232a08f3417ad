package adapter

import "errors"

// Sentinel errors the rpc dispatcher maps to its error-kind taxonomy.
// Wrapping additional context with fmt.Errorf("%w: ...", ErrX) is
// expected; callers should use errors.Is.
var (
	ErrInvalidParams       = errors.New("adapter: invalid arguments")
	ErrScriptNotFound      = errors.New("adapter: script not found or unreadable")
	ErrInvalidResourceSpec = errors.New("adapter: invalid resource specification")
	ErrSubmissionRejected  = errors.New("adapter: submission rejected by sbatch")
	ErrJobNotFound         = errors.New("adapter: job not found")
	ErrOutputNotReady      = errors.New("adapter: output not ready")
	ErrOutputLost          = errors.New("adapter: output lost")
	ErrTimeout             = errors.New("adapter: operation timed out")
	ErrBackendUnavailable  = errors.New("adapter: slurm backend unavailable")
	ErrInternal            = errors.New("adapter: internal error")
)
