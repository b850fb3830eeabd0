package session

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/pglt-supervisor/internal/lsp"
)

// Worker is a running worker connection.
type Worker interface {
	Call(ctx context.Context, method string, params, result any) error
	Close() error
	Shutdown(ctx context.Context) error
	NeedsStop() bool
	Done() <-chan error
	ServerInfo() *lsp.InitializeServerInfo
}

// LaunchSpec describes one worker process.
type LaunchSpec struct {
	Command  string
	Args     []string
	WorkDir  string
	RootPath string
	Options  any
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Worker, error)
}

// ProcessLauncher runs the worker as a child process speaking JSON-RPC on
// its stdio.
type ProcessLauncher struct {
	Timeout time.Duration
	Logger  *log.Logger
}

// Launch spawns the worker and completes the initialize handshake.
func (l ProcessLauncher) Launch(ctx context.Context, spec LaunchSpec) (Worker, error) {
	srv := lsp.NewServer(l.serverConfig(spec))
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func (l ProcessLauncher) serverConfig(spec LaunchSpec) lsp.ServerConfig {
	return lsp.ServerConfig{
		Command:               spec.Command,
		Args:                  spec.Args,
		WorkDir:               spec.WorkDir,
		RootPath:              spec.RootPath,
		InitializationOptions: spec.Options,
		Timeout:               l.Timeout,
		Logger:                l.Logger,
	}
}

var _ Worker = (*lsp.Server)(nil)
