package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/exporter-toolkit/web"
)

const (
	sseWriteTimeout  = 15 * time.Second
	sseReadTimeout   = 15 * time.Second
	sseIdleTimeout   = 120 * time.Second
	messagesEndpoint = "/messages"
)

// session is one open SSE connection: an MCP client that connected to
// GET /sse and is waiting for response frames to arrive on its channel.
type session struct {
	id  string
	out chan Response
}

// SSEServer runs the MCP transport over HTTP, following the MCP SSE
// transport convention: a client opens a long-lived GET /sse stream, the
// server hands back a session-scoped POST endpoint over that same stream,
// and every JSON-RPC response is delivered as an SSE "message" event on the
// original connection rather than as the POST's HTTP response body.
type SSEServer struct {
	logger     log.Logger
	dispatcher *Dispatcher

	mu       sync.Mutex
	sessions map[string]*session

	router *mux.Router
}

// NewSSEServer wires the /sse, /messages, and /metrics routes, rate
// limiting /messages to rateLimit requests per second shared by all
// clients; a request over the limit gets HTTP 429 with a ServerBusy
// JSON-RPC error body.
func NewSSEServer(logger log.Logger, dispatcher *Dispatcher, metricsPath string, rateLimit int) *SSEServer {
	s := &SSEServer{
		logger:     logger,
		dispatcher: dispatcher,
		sessions:   make(map[string]*session),
		router:     mux.NewRouter(),
	}

	if rateLimit <= 0 {
		rateLimit = 32
	}

	s.router.HandleFunc("/sse", s.handleSSE).Methods(http.MethodGet)
	s.router.Handle(messagesEndpoint,
		httprate.Limit(rateLimit, time.Second, httprate.WithLimitHandler(s.busyHandler()))(http.HandlerFunc(s.handleMessage)),
	).Methods(http.MethodPost)
	s.router.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)

	return s
}

// ListenAndServe binds addr and blocks, going through exporter-toolkit's
// web.ListenAndServe so TLS/basic-auth config files work unmodified if an
// operator supplies one.
func (s *SSEServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  sseReadTimeout,
		WriteTimeout: sseWriteTimeout,
		IdleTimeout:  sseIdleTimeout,
	}

	listenAddresses := []string{addr}
	systemdSocket := false
	webConfigFile := ""
	webConfig := &web.FlagConfig{
		WebListenAddresses: &listenAddresses,
		WebSystemdSocket:   &systemdSocket,
		WebConfigFile:      &webConfigFile,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- web.ListenAndServe(srv, webConfig, s.logger)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}

func (s *SSEServer) busyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: CodeServerBusy, Message: "dispatcher at capacity"},
		})
	}
}

// handleSSE opens a session, advertises its POST endpoint per the MCP SSE
// handshake, and then streams queued responses until the client disconnects.
func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)

		return
	}

	sess := &session{id: uuid.NewString(), out: make(chan Response, 16)}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: %s?session=%s\n\n", messagesEndpoint, sess.id)
	flusher.Flush()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-sess.out:
			data, err := json.Marshal(resp)
			if err != nil {
				level.Error(s.logger).Log("msg", "failed to marshal sse response", "err", err)

				continue
			}

			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleMessage accepts a JSON-RPC frame posted against a session's
// /messages?session=<id> endpoint, dispatches it, and delivers the result
// back over that session's SSE stream rather than the HTTP response.
func (s *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)

		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusAccepted)
		sess.out <- Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: err.Error()}}

		return
	}

	w.WriteHeader(http.StatusAccepted)

	if req.IsNotification() {
		level.Debug(s.logger).Log("msg", "received notification", "method", req.Method)

		return
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

		result, rpcErr := s.dispatcher.ToolsCall(r.Context(), params)
		if rpcErr != nil {
			resp.Error = rpcErr

			break
		}

		resp.Result = result
	case "shutdown":
		if err := s.dispatcher.Shutdown(r.Context()); err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}

			break
		}

		resp.Result = map[string]any{"ok": true}
	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "unknown method " + req.Method}
	}

	sess.out <- resp
}
