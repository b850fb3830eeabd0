package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/release"
)

const (
	downloadMessage = "You've opened a supported file outside of a PGLT project, and no installed " +
		"PGLT binary could be found on your system. Would you like to download and install PGLT?"
	optionDownload = "Download and install"
	optionDecline  = "No"
	pickTitle      = "Select PGLT version to download"
)

// Installer manages the downloaded binary. *release.Installer implements it.
type Installer interface {
	Downloaded(ctx context.Context) (version, path string, ok bool)
	Versions(ctx context.Context, withPrereleases bool) ([]release.Release, error)
	Install(ctx context.Context, tag string) (string, error)
}

// DownloadStrategy reuses a previously downloaded binary, or offers to
// download one. It prompts the user and writes to the cache, so it is
// interactive.
type DownloadStrategy struct {
	Installer Installer
	Prompter  prompt.Prompter
	Notifier  prompt.Notifier
	Settings  config.Source

	// Timeout bounds the whole user interaction. Zero means no bound beyond
	// the prompter's own.
	Timeout time.Duration

	Logger *log.Logger
}

// Name implements Strategy.
func (s *DownloadStrategy) Name() string { return "Download Strategy" }

// Interactive implements InteractiveStrategy.
func (s *DownloadStrategy) Interactive() bool { return true }

// Find implements Strategy.
func (s *DownloadStrategy) Find(ctx context.Context, _ string) (string, error) {
	logger := logging.OrDiscard(s.Logger)

	if version, path, ok := s.Installer.Downloaded(ctx); ok {
		logger.Info("using previously downloaded version", "version", version, "path", path)
		return path, nil
	}

	if s.Prompter == nil {
		return "", nil
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	answer, err := s.Prompter.Confirm(ctx, downloadMessage, optionDownload, optionDecline)
	if errors.Is(err, prompt.ErrDismissed) || (err == nil && answer != optionDownload) {
		logger.Debug("decided not to download binary")
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return s.Download(ctx)
}

// Download asks the user for a release and installs it. It returns an
// empty path when the user picks nothing.
func (s *DownloadStrategy) Download(ctx context.Context) (string, error) {
	if s.Prompter == nil {
		return "", nil
	}

	tag, err := s.pickVersion(ctx)
	if err != nil || tag == "" {
		return "", err
	}

	path, err := s.Installer.Install(ctx, tag)
	if err != nil {
		s.notifyError(fmt.Sprintf("Failed to download binary version %s.\n\n%v", tag, err))
		return "", err
	}

	s.notifyInfo(fmt.Sprintf("Downloaded PGLT %s to %s", tag, path))
	return path, nil
}

func (s *DownloadStrategy) pickVersion(ctx context.Context) (string, error) {
	logger := logging.OrDiscard(s.Logger)

	withPrereleases := s.Settings != nil && s.Settings.GetBool(config.KeyAllowDownloadPrereleases)
	releases, err := s.Installer.Versions(ctx, withPrereleases)
	if errors.Is(err, release.ErrNoReleases) {
		s.notifyError(`No releases found on GitHub. Suggestion: Set "` +
			config.KeyAllowDownloadPrereleases + `" to true in your settings.`)
		return "", nil
	}
	if err != nil {
		s.notifyError(fmt.Sprintf("Could not fetch releases from GitHub: %v", err))
		return "", err
	}
	logger.Debug("found downloadable versions", "count", len(releases), "prereleases", withPrereleases)

	installed, _, _ := s.Installer.Downloaded(ctx)
	items := make([]prompt.Item, len(releases))
	for i, r := range releases {
		var desc []string
		if i == 0 {
			desc = append(desc, "latest")
		}
		if r.Prerelease {
			desc = append(desc, "prerelease")
		}
		item := prompt.Item{Label: r.TagName, Description: strings.Join(desc, ", ")}
		if installed == r.TagName {
			item.Detail = "(currently installed)"
		}
		items[i] = item
	}

	choice, err := s.Prompter.Pick(ctx, pickTitle, items)
	if errors.Is(err, prompt.ErrDismissed) {
		logger.Debug("no version to download selected")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return choice.Label, nil
}

func (s *DownloadStrategy) notifyError(msg string) {
	if s.Notifier != nil {
		s.Notifier.Error(msg)
	}
}

func (s *DownloadStrategy) notifyInfo(msg string) {
	if s.Notifier != nil {
		s.Notifier.Info(msg)
	}
}

var errManifestFound = errors.New("manifest found")

// NoPackageManifest is a Condition that holds when no package.json exists
// anywhere under the project root. Users with a package manifest can install
// pglt through their package manager instead of downloading it. An empty
// root always passes.
func NoPackageManifest(fs afero.Fs) Condition {
	return func(ctx context.Context, root string) (bool, error) {
		if root == "" {
			return true, nil
		}
		err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if info.IsDir() && info.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			if !info.IsDir() && info.Name() == "package.json" {
				return errManifestFound
			}
			return nil
		})
		if errors.Is(err, errManifestFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}
