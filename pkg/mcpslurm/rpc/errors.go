package rpc

import (
	"errors"

	"github.com/sohamvsonar/slurm-mcp-gateway/internal/osexec"
	"github.com/sohamvsonar/slurm-mcp-gateway/pkg/mcpslurm/adapter"
)

// ErrorKind is the application-level error taxonomy carried in
// result._meta.error — never turned into a JSON-RPC protocol error. Its
// string-enum shape follows an errorType/apiError wrapper pattern,
// generalized here from an HTTP-status-code switch to a _meta.error string
// switch, since JSON-RPC tool errors never become transport-level errors.
type ErrorKind string

const (
	ErrorInvalidParams       ErrorKind = "InvalidParams"
	ErrorScriptNotFound      ErrorKind = "ScriptNotFound"
	ErrorInvalidResourceSpec ErrorKind = "InvalidResourceSpec"
	ErrorSubmissionRejected  ErrorKind = "SubmissionRejected"
	ErrorJobNotFound         ErrorKind = "JobNotFound"
	ErrorOutputNotReady      ErrorKind = "OutputNotReady"
	ErrorOutputLost          ErrorKind = "OutputLost"
	ErrorTimeout             ErrorKind = "Timeout"
	ErrorBackendUnavailable  ErrorKind = "BackendUnavailable"
	ErrorServerBusy          ErrorKind = "ServerBusy"
	ErrorInternal            ErrorKind = "InternalError"
)

// ClassifyError maps a capability error returned by pkg/mcpslurm/adapter
// (or pkg/mcpslurm/rpc's own validation) to its error kind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errInvalidParams), errors.Is(err, adapter.ErrInvalidParams):
		return ErrorInvalidParams
	case errors.Is(err, adapter.ErrScriptNotFound):
		return ErrorScriptNotFound
	case errors.Is(err, adapter.ErrInvalidResourceSpec):
		return ErrorInvalidResourceSpec
	case errors.Is(err, adapter.ErrSubmissionRejected):
		return ErrorSubmissionRejected
	case errors.Is(err, adapter.ErrJobNotFound):
		return ErrorJobNotFound
	case errors.Is(err, adapter.ErrOutputNotReady):
		return ErrorOutputNotReady
	case errors.Is(err, adapter.ErrOutputLost):
		return ErrorOutputLost
	case errors.Is(err, adapter.ErrTimeout), errors.Is(err, osexec.ErrTimedOut):
		return ErrorTimeout
	case errors.Is(err, adapter.ErrBackendUnavailable):
		return ErrorBackendUnavailable
	case errors.Is(err, errServerBusy):
		return ErrorServerBusy
	default:
		return ErrorInternal
	}
}

// errInvalidParams and errServerBusy are the dispatcher/transport's own
// sentinels for failures that never reach the adapter: a missing/malformed
// tool argument caught before dispatch, or pool saturation. Malformed
// argument values the adapter itself validates (cores<=0, a bad memory
// suffix) instead use adapter.ErrInvalidParams, classified to the same
// ErrorInvalidParams kind above.
var (
	errInvalidParams = errors.New("rpc: invalid params")
	errServerBusy    = errors.New("rpc: server busy")
)
