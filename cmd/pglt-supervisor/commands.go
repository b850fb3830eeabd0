package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dshills/pglt-supervisor/internal/host"
	"github.com/dshills/pglt-supervisor/internal/lifecycle"
	"github.com/dshills/pglt-supervisor/internal/project"
	"github.com/dshills/pglt-supervisor/internal/session"
	"github.com/dshills/pglt-supervisor/internal/workspace"
)

// stopTimeout bounds teardown after the command's context is cancelled.
const stopTimeout = 10 * time.Second

type loader func() (options, error)

// withApp loads options, builds the app, and runs fn.
func withApp(cmd *cobra.Command, load loader, fn func(ctx context.Context, a *app) error) error {
	opts, err := load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// stop tears the session down even when ctx is already cancelled.
func stop(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.host.Stop(ctx)
}

func newRunCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the worker and restart it when settings change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				a.host.FocusChanged(session.LanguageID)
				unsubscribe := a.controller.Subscribe(func(old, new lifecycle.State) {
					st := a.host.Status()
					a.logger.Info("status", "state", new, "label", st.Label(), "tooltip", st.Tooltip)
				})
				defer unsubscribe()

				watcher, err := a.settings.Watch(ctx)
				if err != nil {
					return fmt.Errorf("watch settings: %w", err)
				}
				defer watcher.Close()
				go a.host.Run(ctx, watcher.Events(), watcher.Errors())

				if !a.enabled() {
					a.logger.Warn("pglt is disabled for this project; waiting for settings to change")
				} else if err := a.host.Start(ctx); err != nil {
					return err
				}

				<-ctx.Done()
				a.logger.Info("shutting down")
				stop(a)
				return nil
			})
		},
	}
}

func newFindCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "find",
		Short: "Locate the pglt binary and print its path and the strategy that found it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				res, ok := a.chain.Find(ctx, a.opts.Project)
				if !ok {
					return errors.New(session.NotFoundMessage)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", res.Path, res.Strategy)
				return nil
			})
		},
	}
}

func newStageCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stage",
		Short: "Locate the pglt binary and copy it to the staging directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				res, ok := a.chain.Find(ctx, a.opts.Project)
				if !ok {
					return errors.New(session.NotFoundMessage)
				}
				bin, err := a.stager.Stage(ctx, res.Path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", bin.Path(), bin.Version)
				return nil
			})
		},
	}
}

func newDownloadCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Choose a pglt release and install it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return a.host.Execute(ctx, host.CommandDownload)
			})
		},
	}
}

func newResetCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove staged and downloaded binaries and forget the downloaded version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				err := a.host.Execute(ctx, host.CommandReset)
				stop(a)
				return err
			})
		},
	}
}

func newVersionCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the downloaded pglt version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return a.host.Execute(ctx, host.CommandCurrentVersion)
			})
		},
	}
}

func newDiagnosticsCommand(load loader) *cobra.Command {
	var skipDB bool
	var maxDiagnostics uint32

	cmd := &cobra.Command{
		Use:   "diagnostics <file>",
		Short: "Print the worker's diagnostics for a SQL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return withDocument(ctx, a, args[0], skipDB, func(ws *workspace.Workspace, path workspace.Path) error {
					res, err := ws.PullDiagnostics(ctx, workspace.PullDiagnosticsParams{
						Path:           path,
						Categories:     []workspace.RuleCategory{workspace.RuleCategoryLint},
						MaxDiagnostics: maxDiagnostics,
					})
					if err != nil {
						return err
					}
					printDiagnostics(cmd.OutOrStdout(), args[0], res)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&skipDB, "skip-db", false, "do not connect to the database")
	cmd.Flags().Uint32Var(&maxDiagnostics, "max", workspace.DefaultMaxDiagnostics, "maximum number of diagnostics")
	return cmd
}

func newCompleteCommand(load loader) *cobra.Command {
	var skipDB bool

	cmd := &cobra.Command{
		Use:   "complete <file> <offset>",
		Short: "Print completion candidates at a byte offset in a SQL file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid offset %q: %w", args[1], err)
			}
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return withDocument(ctx, a, args[0], skipDB, func(ws *workspace.Workspace, path workspace.Path) error {
					res, err := ws.GetCompletions(ctx, workspace.GetCompletionsParams{
						Path:     path,
						Position: workspace.TextSize(offset),
					})
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					for _, item := range res.Items {
						fmt.Fprintf(out, "%s\t%s\t%s\n", item.Label, item.Kind, item.Description)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&skipDB, "skip-db", false, "do not connect to the database")
	return cmd
}

// withDocument starts a session, pushes the project configuration, opens
// file, and runs fn. The file is closed and the session stopped afterwards.
func withDocument(ctx context.Context, a *app, file string, skipDB bool, fn func(*workspace.Workspace, workspace.Path) error) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	content, err := afero.ReadFile(a.fs, abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	s, err := a.activeSession(ctx)
	if err != nil {
		return err
	}
	defer stop(a)

	if !s.Serves(abs) {
		return &workspace.ScopeError{Path: abs}
	}
	ws := s.Workspace
	if err := applyProjectSettings(ctx, a, s, skipDB); err != nil {
		return err
	}

	path := workspace.NewPath(abs)
	ignored, err := ws.IsPathIgnored(ctx, workspace.IsPathIgnoredParams{PgtPath: path})
	if err != nil {
		return err
	}
	if ignored {
		return fmt.Errorf("%s is ignored by the project configuration", file)
	}

	if err := ws.OpenFile(ctx, workspace.OpenFileParams{Path: path, Content: string(content)}); err != nil {
		return err
	}
	defer func() {
		if err := ws.CloseFile(context.Background(), workspace.CloseFileParams{Path: path}); err != nil {
			a.logger.Debug("close file", "path", abs, "err", err)
		}
	}()

	return fn(ws, path)
}

// applyProjectSettings sends the project's config file to the worker. In
// single-file mode only the database toggle is sent.
func applyProjectSettings(ctx context.Context, a *app, s *session.Session, skipDB bool) error {
	var root, configPath string
	if s.Project != nil {
		root, configPath = s.Project.Root, s.Project.ConfigPath
	}
	if configPath == "" {
		return s.Workspace.UpdateSettings(ctx, workspace.UpdateSettingsParams{SkipDB: skipDB, WorkspaceDirectory: root})
	}
	settings, err := project.LoadSettings(a.fs, configPath)
	if err != nil {
		return err
	}
	return s.Workspace.ApplySettings(ctx, settings, root, skipDB)
}

var (
	locationStyle = lipgloss.NewStyle().Bold(true)
	severityStyle = map[workspace.Severity]lipgloss.Style{
		workspace.SeverityFatal:       lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		workspace.SeverityError:       lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		workspace.SeverityWarning:     lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		workspace.SeverityInformation: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		workspace.SeverityHint:        lipgloss.NewStyle().Faint(true),
	}
)

func printDiagnostics(w io.Writer, file string, res *workspace.PullDiagnosticsResult) {
	for _, d := range res.Diagnostics {
		loc := file
		if span := d.Location.Span; span != nil {
			loc = fmt.Sprintf("%s:%d-%d", file, span[0], span[1])
		}
		sev := severityStyle[d.Severity].Render(string(d.Severity))
		if d.Category != "" {
			fmt.Fprintf(w, "%s %s %s: %s\n", locationStyle.Render(loc), sev, d.Category, d.Text())
		} else {
			fmt.Fprintf(w, "%s %s: %s\n", locationStyle.Render(loc), sev, d.Text())
		}
	}
	if res.SkippedDiagnostics > 0 {
		fmt.Fprintf(w, "%d more diagnostics skipped\n", res.SkippedDiagnostics)
	}
}
