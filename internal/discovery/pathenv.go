package discovery

import (
	"context"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/probe"
)

// PathEnvStrategy searches each PATH directory for the binary.
type PathEnvStrategy struct {
	Probe    *probe.Probe
	Env      probe.Env
	Platform platform.Platform
	Logger   *log.Logger
}

// Name implements Strategy.
func (s *PathEnvStrategy) Name() string { return "PATH Env Var Strategy" }

// Find implements Strategy.
func (s *PathEnvStrategy) Find(_ context.Context, _ string) (string, error) {
	logger := logging.OrDiscard(s.Logger)

	dirs := probe.SearchPath(s.Env)
	if len(dirs) == 0 {
		logger.Debug("PATH is empty")
		return "", nil
	}

	name := s.Platform.BinaryName()
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		logger.Debug("checking PATH entry", "dir", dir)
		if s.Probe.FileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}
