// Package staging copies a discovered pglt binary into a private,
// version-qualified cache location before it is executed, so the original
// file is never held open by a running worker.
package staging

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/metrics"
	"github.com/dshills/pglt-supervisor/internal/platform"
)

// Runner runs a command and returns its standard output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

// Output implements Runner.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- name is a discovered pglt binary.
	return exec.CommandContext(ctx, name, args...).Output()
}

// Binary is the result of staging.
type Binary struct {
	OriginalPath string
	StagedPath   string
	Version      string
}

// Path returns the staged path, or the original when nothing was staged.
func (b Binary) Path() string {
	if b.StagedPath != "" {
		return b.StagedPath
	}
	return b.OriginalPath
}

// Stager copies binaries into <CacheDir>/tmp-bin.
type Stager struct {
	Fs       afero.Fs
	CacheDir string
	Platform platform.Platform
	Runner   Runner
	Logger   *log.Logger
	Metrics  *metrics.Metrics

	// mu keeps Clear from removing the directory under a running copy.
	mu sync.Mutex
}

// Dir is the staging directory.
func (s *Stager) Dir() string {
	return filepath.Join(s.CacheDir, platform.StagedDir)
}

func (s *Stager) fs() afero.Fs {
	if s.Fs == nil {
		return afero.NewOsFs()
	}
	return s.Fs
}

func (s *Stager) runner() Runner {
	if s.Runner == nil {
		return ExecRunner{}
	}
	return s.Runner
}

// Stage queries bin for its version and copies it to a versioned path. A
// version already staged is reused without writing. On error the returned
// Binary still carries OriginalPath, so callers can fall back to it.
func (s *Stager) Stage(ctx context.Context, bin string) (Binary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := logging.OrDiscard(s.Logger).With("component", "staging")
	result := Binary{OriginalPath: bin}

	out, err := s.runner().Output(ctx, bin, "--version")
	if err != nil {
		s.Metrics.Staging(metrics.StagingFailed)
		return result, &Error{Op: "version", Path: bin, Err: err}
	}
	version, err := ParseVersion(out)
	if err != nil {
		s.Metrics.Staging(metrics.StagingFailed)
		return result, &Error{Op: "version", Path: bin, Err: err}
	}
	result.Version = version

	fs := s.fs()
	dest := filepath.Join(s.Dir(), s.Platform.VersionedBinaryName(version))

	if _, err := fs.Stat(dest); err == nil {
		logger.Debug("binary already staged", "version", version, "path", dest)
		result.StagedPath = dest
		s.Metrics.Staging(metrics.StagingReused)
		return result, nil
	}

	if err := s.copy(fs, bin, dest); err != nil {
		s.Metrics.Staging(metrics.StagingFailed)
		return result, err
	}

	logger.Debug("staged binary", "version", version, "from", bin, "to", dest)
	result.StagedPath = dest
	s.Metrics.Staging(metrics.StagingStaged)
	return result, nil
}

// copy writes src to a temporary sibling of dest and renames it into place,
// so an interrupted copy never leaves a truncated binary at dest.
func (s *Stager) copy(fs afero.Fs, src, dest string) error {
	if err := fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &Error{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}

	in, err := fs.Open(src)
	if err != nil {
		return &Error{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	tmp := fmt.Sprintf("%s.%d.tmp", dest, os.Getpid())
	out, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return &Error{Op: "create", Path: tmp, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = fs.Remove(tmp)
		return &Error{Op: "copy", Path: tmp, Err: err}
	}
	if err := out.Close(); err != nil {
		_ = fs.Remove(tmp)
		return &Error{Op: "copy", Path: tmp, Err: err}
	}
	if err := fs.Chmod(tmp, 0o755); err != nil {
		_ = fs.Remove(tmp)
		return &Error{Op: "chmod", Path: tmp, Err: err}
	}
	if err := fs.Rename(tmp, dest); err != nil {
		_ = fs.Remove(tmp)
		return &Error{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

// Clear removes every staged binary. It waits for an in-flight Stage.
func (s *Stager) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs().RemoveAll(s.Dir()); err != nil {
		return &Error{Op: "clear", Path: s.Dir(), Err: err}
	}
	return nil
}

var versionPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._+-]*$`)

// ParseVersion extracts the version from `pglt --version` output. Both
// "Version: 0.2.0" and a bare "0.2.0" are accepted. The result must be safe
// to embed in a file name.
func ParseVersion(out []byte) (string, error) {
	var line string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line = strings.TrimSpace(scanner.Text()); line != "" {
			break
		}
	}
	if line == "" {
		return "", fmt.Errorf("%w: empty output", ErrBadVersion)
	}

	var version string
	if _, after, found := strings.Cut(line, ":"); found {
		version = strings.TrimSpace(after)
	} else {
		fields := strings.Fields(line)
		version = fields[len(fields)-1]
	}

	if !versionPattern.MatchString(version) {
		return "", fmt.Errorf("%w: %q", ErrBadVersion, version)
	}
	return version, nil
}
