package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dshills/pglt-supervisor/internal/lifecycle"
)

// envPrefix is prepended to every flag name to form its environment
// fallback, e.g. PGLT_CACHE_DIR for --cache-dir.
const envPrefix = "PGLT"

var envReplacer = strings.NewReplacer("-", "_")

// Flag names.
const (
	flagProject     = "project"
	flagSettings    = "settings"
	flagCacheDir    = "cache-dir"
	flagStateDB     = "state-db"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagLogFile     = "log-file"
	flagMetricsAddr = "metrics-addr"
	flagGracePeriod = "grace-period"
	flagDebounce    = "debounce"
)

// options are the resolved persistent flags.
type options struct {
	Project     string
	Settings    string
	CacheDir    string
	StateDB     string
	LogLevel    string
	LogFormat   string
	LogFile     string
	MetricsAddr string
	GracePeriod time.Duration
	Debounce    time.Duration
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "pglt-supervisor",
		Short:         "Find, stage and supervise the pglt worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	addPersistentFlags(root.PersistentFlags())
	if err := v.BindPFlags(root.PersistentFlags()); err != nil {
		panic(err)
	}

	load := func() (options, error) { return loadOptions(v) }
	root.AddCommand(
		newRunCommand(load),
		newFindCommand(load),
		newStageCommand(load),
		newDownloadCommand(load),
		newResetCommand(load),
		newVersionCommand(load),
		newDiagnosticsCommand(load),
		newCompleteCommand(load),
	)
	return root
}

func addPersistentFlags(fs *pflag.FlagSet) {
	fs.String(flagProject, "", "project directory (default: working directory)")
	fs.String(flagSettings, "", "user settings file (toml, json or yaml)")
	fs.String(flagCacheDir, "", "directory for staged and downloaded binaries")
	fs.String(flagStateDB, "", "state database path (default: <cache-dir>/state.db)")
	fs.String(flagLogLevel, "info", "log level: debug, info, warn, error")
	fs.String(flagLogFormat, "text", "log format: text, json, logfmt")
	fs.String(flagLogFile, "", "append logs to this file instead of stderr")
	fs.String(flagMetricsAddr, "", "serve Prometheus metrics on this address")
	fs.Duration(flagGracePeriod, lifecycle.DefaultGracePeriod, "wait before tearing down a session")
	fs.Duration(flagDebounce, lifecycle.DefaultDebounce, "coalesce settings changes within this window")
}

func loadOptions(v *viper.Viper) (options, error) {
	opts := options{
		Project:     v.GetString(flagProject),
		Settings:    v.GetString(flagSettings),
		CacheDir:    v.GetString(flagCacheDir),
		StateDB:     v.GetString(flagStateDB),
		LogLevel:    v.GetString(flagLogLevel),
		LogFormat:   v.GetString(flagLogFormat),
		LogFile:     v.GetString(flagLogFile),
		MetricsAddr: v.GetString(flagMetricsAddr),
		GracePeriod: v.GetDuration(flagGracePeriod),
		Debounce:    v.GetDuration(flagDebounce),
	}

	if opts.Project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return opts, fmt.Errorf("working directory: %w", err)
		}
		opts.Project = wd
	}
	abs, err := filepath.Abs(opts.Project)
	if err != nil {
		return opts, fmt.Errorf("project directory: %w", err)
	}
	opts.Project = abs

	if opts.CacheDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return opts, fmt.Errorf("cache directory: %w", err)
		}
		opts.CacheDir = filepath.Join(dir, "pglt-supervisor")
	}
	if opts.StateDB == "" {
		opts.StateDB = filepath.Join(opts.CacheDir, "state.db")
	}
	if opts.GracePeriod < 0 || opts.Debounce < 0 {
		return opts, errors.New("durations must not be negative")
	}
	return opts, nil
}
