package discovery

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/probe"
)

// SettingsStrategy uses the pglt.bin setting. The value is either a path or
// a map from "<os>-<arch>" to a path. Relative paths resolve against the
// project root.
//
//	{"pglt": {"bin": {"linux-x64": "/path/to/pglt", "win32-x64": "C:\\pglt.exe"}}}
type SettingsStrategy struct {
	Settings config.Source
	Probe    *probe.Probe
	Platform platform.Platform
	Logger   *log.Logger
}

// Name implements Strategy.
func (s *SettingsStrategy) Name() string { return "Settings Strategy" }

// Find implements Strategy.
func (s *SettingsStrategy) Find(_ context.Context, root string) (string, error) {
	logger := logging.OrDiscard(s.Logger)

	if s.Settings == nil {
		return "", nil
	}
	raw := s.Settings.Get(config.KeyBin)
	if raw == nil {
		logger.Debug("binary path not set in settings")
		return "", nil
	}

	var bin string
	switch v := raw.(type) {
	case string:
		bin = v
	default:
		bins, ok := config.StringMap(v)
		if !ok {
			return "", fmt.Errorf("%s must be a string or a map, got %T", config.KeyBin, raw)
		}
		bin = bins[s.Platform.Identifier()]
		logger.Debug("binary setting is a map, using platform entry",
			"platform", s.Platform.Identifier(), "setting", bin)
	}

	if bin == "" {
		logger.Debug("no binary setting for this platform")
		return "", nil
	}

	if !filepath.IsAbs(bin) {
		if root == "" {
			logger.Debug("relative binary setting without a project root", "setting", bin)
			return "", nil
		}
		bin = filepath.Join(root, bin)
	}

	logger.Debug("looking for binary at path", "path", bin)
	if !s.Probe.FileExists(bin) {
		return "", nil
	}
	if !s.Probe.IsExecutable(bin) {
		logger.Warn("configured binary is not executable", "path", bin)
		return "", nil
	}
	return bin, nil
}
