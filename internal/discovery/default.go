package discovery

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/metrics"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/probe"
	"github.com/dshills/pglt-supervisor/internal/prompt"
)

// Deps are the collaborators of the default strategies.
type Deps struct {
	Fs       afero.Fs
	Env      probe.Env
	Platform platform.Platform
	Settings config.Source
	HomeDir  string

	// Installer enables the download strategy when set.
	Installer     Installer
	Prompter      prompt.Prompter
	Notifier      prompt.Notifier
	PromptTimeout time.Duration

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// DefaultChain returns the standard order: settings, node_modules, Yarn
// PnP, PATH, then download.
func DefaultChain(d Deps) *Chain {
	logger := logging.OrDiscard(d.Logger)
	p := probe.New(d.Fs)
	env := d.Env
	if env == nil {
		env = probe.OSEnv{}
	}

	entries := []Entry{
		{Strategy: &SettingsStrategy{Settings: d.Settings, Probe: p, Platform: d.Platform, Logger: logger}},
		{Strategy: &NodeModulesStrategy{Probe: p, Platform: d.Platform, HomeDir: d.HomeDir, Logger: logger}},
		{Strategy: &YarnPnPStrategy{Probe: p, Platform: d.Platform, Logger: logger}},
		{Strategy: &PathEnvStrategy{Probe: p, Env: env, Platform: d.Platform, Logger: logger}},
	}
	if d.Installer != nil {
		entries = append(entries, Entry{
			Strategy: &DownloadStrategy{
				Installer: d.Installer,
				Prompter:  d.Prompter,
				Notifier:  d.Notifier,
				Settings:  d.Settings,
				Timeout:   d.PromptTimeout,
				Logger:    logger,
			},
			Condition: NoPackageManifest(p.Fs),
		})
	}

	return NewChain(logger, d.Metrics, entries...)
}
