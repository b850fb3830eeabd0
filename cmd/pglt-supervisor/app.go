package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/discovery"
	"github.com/dshills/pglt-supervisor/internal/host"
	"github.com/dshills/pglt-supervisor/internal/lifecycle"
	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/metrics"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/project"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/release"
	"github.com/dshills/pglt-supervisor/internal/session"
	"github.com/dshills/pglt-supervisor/internal/staging"
	"github.com/dshills/pglt-supervisor/internal/store"
)

// app holds the wired supervisor for one command invocation.
type app struct {
	opts   options
	log    *logging.Logger
	logger *log.Logger
	fs     afero.Fs

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	server   *http.Server

	settings   *config.Manager
	state      *store.SQLite
	terminal   *prompt.Terminal
	installer  *release.Installer
	stager     *staging.Stager
	chain      *discovery.Chain
	downloader *discovery.DownloadStrategy
	sessions   *session.Supervisor
	controller *lifecycle.Controller
	host       *host.Host
	folders    []project.Folder
}

// newApp builds every component in dependency order. Close releases them.
func newApp(ctx context.Context, opts options) (a *app, err error) {
	a = &app{opts: opts, fs: afero.NewOsFs()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.log, err = logging.New(logging.Options{
		Level:  opts.LogLevel,
		Format: logging.Format(opts.LogFormat),
		File:   opts.LogFile,
	}); err != nil {
		return a, err
	}
	a.logger = a.log.Logger

	plat := platform.Current()
	if !plat.Supported() {
		return a, fmt.Errorf("platform %s is not supported by pglt", plat.Identifier())
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if a.settings, err = config.NewManager(config.Options{
		Fs:         a.fs,
		UserFile:   opts.Settings,
		FolderRoot: opts.Project,
		Logger:     a.logger,
	}); err != nil {
		return a, err
	}

	if a.state, err = store.OpenSQLite(ctx, opts.StateDB); err != nil {
		return a, err
	}

	a.terminal = prompt.NewTerminal(os.Stdin, os.Stderr)

	a.installer = &release.Installer{
		Fs:       a.fs,
		CacheDir: opts.CacheDir,
		Store:    a.state,
		Source:   release.NewClient(),
		Platform: plat,
		Logger:   a.logger,
	}
	a.stager = &staging.Stager{
		Fs:       a.fs,
		CacheDir: opts.CacheDir,
		Platform: plat,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}

	home, _ := os.UserHomeDir()
	a.chain = discovery.DefaultChain(discovery.Deps{
		Fs:        a.fs,
		Platform:  plat,
		Settings:  a.settings,
		HomeDir:   home,
		Installer: a.installer,
		Prompter:  a.terminal,
		Notifier:  a.terminal,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	a.downloader = &discovery.DownloadStrategy{
		Installer: a.installer,
		Prompter:  a.terminal,
		Notifier:  a.terminal,
		Settings:  a.settings,
		Logger:    a.logger,
	}

	a.sessions = &session.Supervisor{
		Finder:   a.chain,
		Stager:   a.stager,
		Launcher: session.ProcessLauncher{Logger: a.logger},
		Notifier: a.terminal,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}

	a.folders = []project.Folder{{Name: filepath.Base(opts.Project), Root: opts.Project}}
	resolver := &project.Resolver{Fs: a.fs, Config: a.settings, Logger: a.logger}

	a.controller = lifecycle.New(lifecycle.Options{
		Sessions: a.sessions,
		Projects: lifecycle.ProjectResolverFunc(func(context.Context) (*project.Project, error) {
			return resolver.Resolve(a.folders)
		}),
		GracePeriod: opts.GracePeriod,
		Debounce:    opts.Debounce,
		Notifier:    a.terminal,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})

	a.host = host.New(host.Options{
		Lifecycle:    a.controller,
		Settings:     a.settings,
		Downloader:   a.downloader,
		Installation: a.installer,
		Stager:       a.stager,
		Notifier:     a.terminal,
		Logger:       a.logger,
	})

	if opts.MetricsAddr != "" {
		a.serveMetrics(opts.MetricsAddr)
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "err", err)
		}
	}()
}

// enabled reports whether pglt is switched on for the project.
func (a *app) enabled() bool {
	return project.Enabled(a.settings)
}

// activeSession starts the supervisor and returns the running session.
func (a *app) activeSession(ctx context.Context) (*session.Session, error) {
	if !a.enabled() {
		return nil, errors.New("pglt is disabled for this project")
	}
	if err := a.host.Start(ctx); err != nil {
		return nil, err
	}
	s := a.controller.ActiveSession()
	if s == nil {
		return nil, fmt.Errorf("pglt is not running (state %s)", a.controller.State())
	}
	return s, nil
}

// Close stops the metrics server and releases the state database and log
// file. It does not stop a running session; callers stop it first.
func (a *app) Close() {
	if a.controller != nil {
		a.controller.Close()
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil && a.logger != nil {
			a.logger.Warn("failed to close state database", "err", err)
		}
	}
	if a.log != nil {
		_ = a.log.Close()
	}
}
