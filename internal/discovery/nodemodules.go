package discovery

import (
	"context"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/probe"
)

// NodeModulesStrategy finds the binary shipped in the platform sub-package
// of the npm distribution. The main package is resolved from the project
// root the way Node resolves modules, and the platform package is then
// resolved from the main package's directory.
type NodeModulesStrategy struct {
	Probe    *probe.Probe
	Platform platform.Platform

	// HomeDir enables the global ~/.node_modules and ~/.node_libraries
	// folders. Optional.
	HomeDir string

	Logger *log.Logger
}

// Name implements Strategy.
func (s *NodeModulesStrategy) Name() string { return "Node Modules Strategy" }

// Find implements Strategy.
func (s *NodeModulesStrategy) Find(_ context.Context, root string) (string, error) {
	logger := logging.OrDiscard(s.Logger)

	if root == "" {
		logger.Debug("no project root, skipping")
		return "", nil
	}

	mainDir := s.resolvePackage(root, platform.NpmPackageName)
	if mainDir == "" {
		logger.Debug("project does not use node_modules")
		return "", nil
	}
	logger.Info("found npm package", "dir", mainDir, "version", s.packageVersion(mainDir))

	pkg, ok := s.Platform.NodePackageName()
	if !ok {
		logger.Debug("no npm package for this platform", "os", s.Platform.OS, "arch", s.Platform.Arch)
		return "", nil
	}

	binDir := s.resolvePackage(mainDir, pkg)
	if binDir == "" {
		logger.Debug("platform package not installed", "package", pkg)
		return "", nil
	}

	bin := filepath.Join(binDir, s.Platform.BinaryName())
	if !s.Probe.FileExists(bin) {
		logger.Debug("platform package has no binary", "path", bin)
		return "", nil
	}
	return bin, nil
}

// resolvePackage returns the directory of pkg as seen from dir, or "".
func (s *NodeModulesStrategy) resolvePackage(dir, pkg string) string {
	for _, base := range nodeModulePaths(dir) {
		candidate := filepath.Join(base, filepath.FromSlash(pkg))
		if s.Probe.FileExists(filepath.Join(candidate, "package.json")) {
			return candidate
		}
	}
	if s.HomeDir != "" {
		for _, global := range []string{".node_modules", ".node_libraries"} {
			candidate := filepath.Join(s.HomeDir, global, filepath.FromSlash(pkg))
			if s.Probe.FileExists(filepath.Join(candidate, "package.json")) {
				return candidate
			}
		}
	}
	return ""
}

func (s *NodeModulesStrategy) packageVersion(dir string) string {
	data, err := afero.ReadFile(s.Probe.Fs, filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	return gjson.GetBytes(data, "version").String()
}

// nodeModulePaths lists the node_modules folders searched from dir, nearest
// first. Directories already named node_modules get no nested lookup.
func nodeModulePaths(dir string) []string {
	dir = filepath.Clean(dir)
	var paths []string
	for {
		if filepath.Base(dir) != "node_modules" {
			paths = append(paths, filepath.Join(dir, "node_modules"))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return paths
}
