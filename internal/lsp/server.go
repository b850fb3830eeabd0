package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/pglt-supervisor/internal/logging"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start the worker.
type ServerConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory of the process.
	WorkDir string

	// RootPath is sent as rootUri/rootPath in initialize. Empty means the
	// session has no project.
	RootPath string

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// Timeout bounds the initialize and shutdown handshakes (default: 30s).
	Timeout time.Duration

	Logger *log.Logger
}

// Server is a running worker process and its JSON-RPC connection.
type Server struct {
	// opMu serializes Start and Shutdown; mu guards the fields below.
	opMu sync.Mutex
	mu   sync.Mutex

	config ServerConfig
	logger *log.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	transport *Transport

	status     atomic.Int32
	serverInfo *InitializeServerInfo
	lastError  error

	ctx        context.Context
	cancel     context.CancelFunc
	done       chan error
	finishOnce sync.Once
	exited     chan struct{}
}

// NewServer creates a new server instance (not yet started).
func NewServer(config ServerConfig) *Server {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	s := &Server{
		config: config,
		logger: logging.OrDiscard(config.Logger).With("component", "worker"),
		done:   make(chan error, 1),
		exited: make(chan struct{}),
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// Start spawns the worker and performs the initialize handshake. Failures
// are returned as *StartError and leave no process behind.
func (s *Server) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.Status() != ServerStatusStopped {
		return ErrAlreadyStarted
	}

	s.status.Store(int32(ServerStatusStarting))

	// The process outlives the caller's context; only Shutdown ends it.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := s.startProcess(); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.setLastError(err)
		s.cancel()
		return &StartError{Command: s.config.Command, Err: err}
	}

	t := NewTransport(s.stdout, s.stdin, nil)
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	s.registerNotificationHandlers(t)
	t.OnClose(func(err error) {
		s.fail(err)
	})
	t.Start(s.ctx)

	go s.monitorProcess()
	go s.drainStderr()

	s.status.Store(int32(ServerStatusInitializing))
	if err := s.initialize(ctx, t); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.setLastError(err)
		s.stopProcess()
		s.finish(nil)
		return &StartError{Command: s.config.Command, Err: err}
	}

	if !s.status.CompareAndSwap(int32(ServerStatusInitializing), int32(ServerStatusReady)) {
		return &StartError{Command: s.config.Command, Err: s.LastError()}
	}
	s.logger.Debug("worker ready", "pid", s.PID(), "server", s.ServerInfo())
	return nil
}

// startProcess starts the worker executable.
func (s *Server) startProcess() error {
	// #nosec G204 -- the command is the discovered pglt binary.
	cmd := exec.Command(s.config.Command, s.config.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = s.config.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr

	return nil
}

// monitorProcess waits for the process and reports an exit that nobody
// asked for.
func (s *Server) monitorProcess() {
	err := s.cmd.Wait()
	close(s.exited)

	switch s.Status() {
	case ServerStatusShuttingDown, ServerStatusStopped:
		return
	}
	if err == nil {
		err = errors.New("exit status 0")
	}
	s.fail(&TransportError{Err: fmt.Errorf("%w: %v", ErrServerCrashed, err)})
}

// drainStderr forwards worker stderr to the debug log.
func (s *Server) drainStderr() {
	buf := make([]byte, 4096)
	for {
		n, err := s.stderr.Read(buf)
		if n > 0 {
			s.logger.Debug("worker stderr", "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// fail tears the session down after an unexpected exit or transport error.
func (s *Server) fail(err error) {
	switch s.Status() {
	case ServerStatusShuttingDown, ServerStatusStopped:
		return
	}

	var terr *TransportError
	if !errors.As(err, &terr) {
		terr = &TransportError{Err: err}
	}

	s.status.Store(int32(ServerStatusError))
	s.logger.Error("worker connection failed", "err", terr)

	s.setLastError(terr)
	s.stopProcess()
	s.finish(terr)
}

func (s *Server) setLastError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

// finish publishes the terminal outcome on Done exactly once.
func (s *Server) finish(err error) {
	s.finishOnce.Do(func() {
		if err != nil {
			s.done <- err
		}
		close(s.done)
	})
}

// stopProcess closes pipes and kills the process.
func (s *Server) stopProcess() {
	s.mu.Lock()
	cancel, t, stdin, cmd := s.cancel, s.transport, s.stdin, s.cmd
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Close()
	}
	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context, t *Transport) error {
	params := InitializeParams{
		ProcessID:             os.Getpid(),
		ClientInfo:            &ClientInfo{Name: "pglt-supervisor"},
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
	}
	if s.config.RootPath != "" {
		uri := FilePathToURI(s.config.RootPath)
		params.RootURI = &uri
		params.RootPath = s.config.RootPath
		params.WorkspaceFolders = []WorkspaceFolder{{URI: uri, Name: s.config.RootPath}}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result InitializeResult
	if err := t.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	s.mu.Lock()
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	if err := t.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// registerNotificationHandlers routes worker log output to the logger.
func (s *Server) registerNotificationHandlers(t *Transport) {
	logTo := func(method string, params json.RawMessage) {
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		s.logger.Debug("worker message", "method", method, "type", p.Type, "message", p.Message)
	}
	t.OnNotification("window/logMessage", logTo)
	t.OnNotification("window/showMessage", logTo)
	t.OnNotification("*", func(method string, _ json.RawMessage) {
		s.logger.Debug("unhandled worker notification", "method", method)
	})
}

// Shutdown gracefully stops the worker: shutdown request, exit
// notification, then kill. Calling it again is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.Status() {
	case ServerStatusStopped, ServerStatusShuttingDown:
		return nil
	case ServerStatusError:
		s.stopProcess()
		s.status.Store(int32(ServerStatusStopped))
		s.finish(nil)
		return nil
	}

	s.status.Store(int32(ServerStatusShuttingDown))

	if t := s.Transport(); t != nil && !t.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()

		if err := t.Call(shutdownCtx, "shutdown", nil, nil); err != nil {
			s.logger.Debug("shutdown request failed", "err", err)
		}
		_ = t.Notify(shutdownCtx, "exit", nil)

		// Give the worker a moment to exit on its own before killing it.
		select {
		case <-s.exited:
		case <-shutdownCtx.Done():
		case <-time.After(500 * time.Millisecond):
		}
	}

	s.stopProcess()
	s.status.Store(int32(ServerStatusStopped))
	s.finish(nil)
	return nil
}

// Call sends a request to the worker.
func (s *Server) Call(ctx context.Context, method string, params, result any) error {
	t := s.Transport()
	if t == nil {
		return ErrNotStarted
	}
	return t.Call(ctx, method, params, result)
}

// Notify sends a notification to the worker.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	t := s.Transport()
	if t == nil {
		return ErrNotStarted
	}
	return t.Notify(ctx, method, params)
}

// Close stops the worker without waiting on a context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

// Done yields the *TransportError that ended the session when the worker
// failed, and is closed once the server has stopped for any reason.
func (s *Server) Done() <-chan error {
	return s.done
}

// NeedsStop reports whether the worker is still running and should be shut
// down.
func (s *Server) NeedsStop() bool {
	switch s.Status() {
	case ServerStatusStarting, ServerStatusInitializing, ServerStatusReady:
		return true
	default:
		return false
	}
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// ServerInfo returns the worker's self-description from initialize.
func (s *Server) ServerInfo() *InitializeServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// LastError returns the last error that occurred.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Transport returns the connection, or nil before Start.
func (s *Server) Transport() *Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// PID returns the worker process ID, or 0 when not running.
func (s *Server) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
