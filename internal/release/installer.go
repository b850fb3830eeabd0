package release

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/store"
)

// Source lists and fetches releases. *Client implements it.
type Source interface {
	ListReleases(ctx context.Context, withPrereleases bool) ([]Release, error)
	Fetch(ctx context.Context, tag, asset string) ([]byte, error)
}

// Installer places downloaded releases in <cache>/global-bin and remembers
// the installed version.
type Installer struct {
	Fs       afero.Fs
	CacheDir string
	Store    store.Store
	Source   Source
	Platform platform.Platform
	Logger   *log.Logger
}

func (i *Installer) logger() *log.Logger {
	return logging.OrDiscard(i.Logger).With("component", "installer")
}

// Dir is the directory holding the downloaded binary.
func (i *Installer) Dir() string {
	return filepath.Join(i.CacheDir, platform.DownloadedDir)
}

// BinaryPath is where the downloaded binary lives.
func (i *Installer) BinaryPath() string {
	return filepath.Join(i.Dir(), i.Platform.BinaryName())
}

// Versions lists installable releases, newest first.
func (i *Installer) Versions(ctx context.Context, withPrereleases bool) ([]Release, error) {
	return i.Source.ListReleases(ctx, withPrereleases)
}

// Install downloads tag and makes it the current downloaded binary.
func (i *Installer) Install(ctx context.Context, tag string) (string, error) {
	asset := i.Platform.ReleaseAssetName()
	i.logger().Debug("downloading release asset", "tag", tag, "asset", asset)

	data, err := i.Source.Fetch(ctx, tag, asset)
	if err != nil {
		return "", err
	}

	path := i.BinaryPath()
	if err := i.Fs.MkdirAll(i.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", i.Dir(), err)
	}
	if err := afero.WriteFile(i.Fs, path, data, 0o755); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := i.Fs.Chmod(path, 0o755); err != nil {
		return "", fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := i.Store.Set(ctx, store.KeyDownloadedVersion, tag); err != nil {
		return "", fmt.Errorf("record downloaded version: %w", err)
	}

	i.logger().Info("downloaded pglt", "version", tag, "path", path)
	return path, nil
}

// Downloaded returns the remembered version and binary path. ok is false
// unless a version is recorded and the binary is present.
func (i *Installer) Downloaded(ctx context.Context) (version, path string, ok bool) {
	version, found, err := i.Store.Get(ctx, store.KeyDownloadedVersion)
	if err != nil {
		i.logger().Warn("reading downloaded version", "err", err)
		return "", "", false
	}
	if !found || version == "" {
		i.logger().Debug("no downloaded version recorded")
		return "", "", false
	}

	path = i.BinaryPath()
	info, err := i.Fs.Stat(path)
	if err != nil || info.IsDir() {
		i.logger().Info("downloaded version recorded but binary missing", "version", version, "path", path)
		return "", "", false
	}
	return version, path, true
}

// Clear removes the downloaded binary directory.
func (i *Installer) Clear() error {
	if err := i.Fs.RemoveAll(i.Dir()); err != nil {
		return fmt.Errorf("remove %s: %w", i.Dir(), err)
	}
	return nil
}

// Forget drops the remembered downloaded version.
func (i *Installer) Forget(ctx context.Context) error {
	return i.Store.Delete(ctx, store.KeyDownloadedVersion)
}
