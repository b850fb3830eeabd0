// Package probe answers filesystem and environment questions for binary
// discovery: does a path exist, is it a directory, can it be executed.
//
// All checks go through an afero.Fs so discovery can be exercised against an
// in-memory filesystem in tests.
package probe

import (
	"github.com/spf13/afero"
)

// Probe performs existence and executability checks against a filesystem.
type Probe struct {
	Fs afero.Fs
}

// New returns a Probe over fs. A nil fs means the OS filesystem.
func New(fs afero.Fs) *Probe {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Probe{Fs: fs}
}

// FileExists reports whether path names a regular file. Symlinks are followed,
// so a link pointing at a file counts. Any stat error is treated as absent.
func (p *Probe) FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := p.Fs.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// DirExists reports whether path names a directory.
func (p *Probe) DirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := p.Fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsExecutable reports whether path is a regular file the current process
// may execute.
func (p *Probe) IsExecutable(path string) bool {
	if !p.FileExists(path) {
		return false
	}
	if _, ok := p.Fs.(*afero.OsFs); ok {
		return osExecutable(path)
	}
	info, err := p.Fs.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
