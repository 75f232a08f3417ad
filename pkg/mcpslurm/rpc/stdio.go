package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// defaultScanBufferSize is the longest request line Serve accepts; the
// scanner's buffer starts at 64 KiB and grows up to this size.
const defaultScanBufferSize = 4 << 20

// StdioServer runs the MCP transport over line-delimited JSON-RPC on
// stdin/stdout. Its shutdown path follows a signal-driven Main() loop,
// generalized here from an HTTP listener to a blocking stdin scan loop
// since stdio has no listener to bind.
//
// Every frame writes through a single mutex-guarded *bufio.Writer: MCP
// clients read newline-delimited JSON from one pipe, so concurrent tool
// calls (the dispatcher may run several at once) must still serialize onto
// stdout one complete line at a time.
type StdioServer struct {
	logger     log.Logger
	dispatcher *Dispatcher

	in  io.Reader
	out *bufio.Writer

	writeMu sync.Mutex
}

// NewStdioServer constructs a StdioServer reading from in and writing
// framed responses to out. Diagnostic logs always go to the logger, never
// to out, since stdout is reserved for the protocol.
func NewStdioServer(logger log.Logger, dispatcher *Dispatcher, in io.Reader, out io.Writer) *StdioServer {
	return &StdioServer{logger: logger, dispatcher: dispatcher, in: in, out: bufio.NewWriter(out)}
}

// Serve blocks, reading one JSON-RPC frame per line until in reaches EOF,
// dispatching each to its own goroutine so a slow tool call never blocks the
// read loop. ctx is passed to every tool call; cancelling it does not
// interrupt a read that is blocked on in. On EOF it waits for the
// dispatcher to drain in-flight calls before returning.
func (s *StdioServer) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScanBufferSize)

	var wg sync.WaitGroup

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			s.handleLine(ctx, line)
		}()
	}

	wg.Wait()

	if err := scanner.Err(); err != nil {
		level.Error(s.logger).Log("msg", "stdio scan failed", "err", err)

		return err
	}

	return s.dispatcher.Shutdown(ctx)
}

func (s *StdioServer) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: err.Error()}})

		return
	}

	resp, ok := s.handleRequest(ctx, req)
	if !ok {
		return
	}

	s.writeResponse(resp)
}

// handleRequest implements the method table: initialize, notifications/
// initialized (no response), tools/list, tools/call, shutdown. Unknown
// methods become MethodNotFound, per JSON-RPC 2.0.
func (s *StdioServer) handleRequest(ctx context.Context, req Request) (Response, bool) {
	if req.IsNotification() {
		level.Debug(s.logger).Log("msg", "received notification", "method", req.Method)

		return Response{}, false
	}

	resp := Response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = s.dispatcher.Initialize()
	case "tools/list":
		resp.Result = s.dispatcher.ToolsList()
	case "tools/call":
		var params ToolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: CodeInvalidParams, Message: err.Error()}

			break
		}

		result, rpcErr := s.dispatcher.ToolsCall(ctx, params)
		if rpcErr != nil {
			resp.Error = rpcErr

			break
		}

		resp.Result = result
	case "shutdown":
		if err := s.dispatcher.Shutdown(ctx); err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}

			break
		}

		resp.Result = map[string]any{"ok": true}
	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "unknown method " + req.Method}
	}

	return resp, true
}

func (s *StdioServer) writeResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to marshal response", "err", err)

		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.out.Write(append(data, '\n')); err != nil {
		level.Error(s.logger).Log("msg", "failed to write response", "err", err)

		return
	}

	if err := s.out.Flush(); err != nil {
		level.Error(s.logger).Log("msg", "failed to flush response", "err", err)
	}
}
