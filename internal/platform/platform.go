// Package platform maps the host operating system and architecture onto the
// names used by pglt distributions: npm sub-packages, release assets, and the
// keys of OS/arch-specific settings.
package platform

import (
	"runtime"
)

const (
	// NpmPackageName is the package the pglt CLI is published under.
	NpmPackageName = "@pglt/pglt"

	// BinaryBaseName is the executable name without platform suffix.
	BinaryBaseName = "pglt"

	// StagedDir is the cache subdirectory holding version-qualified copies.
	StagedDir = "tmp-bin"

	// DownloadedDir is the cache subdirectory holding the downloaded release.
	DownloadedDir = "global-bin"
)

// Node-style platform identifiers. Settings and package names use these.
const (
	OSWindows = "win32"
	OSDarwin  = "darwin"
	OSLinux   = "linux"

	ArchX64   = "x64"
	ArchArm64 = "arm64"
)

var packageNames = map[string]map[string]string{
	OSWindows: {
		ArchX64:   "@pglt/cli-x86_64-windows-msvc",
		ArchArm64: "@pglt/cli-aarch64-windows-msvc",
	},
	OSDarwin: {
		ArchX64:   "@pglt/cli-x86_64-apple-darwin",
		ArchArm64: "@pglt/cli-aarch64-apple-darwin",
	},
	OSLinux: {
		ArchX64:   "@pglt/cli-x86_64-linux-gnu",
		ArchArm64: "@pglt/cli-aarch64-linux-gnu",
	},
}

var releasePlatforms = map[string]string{
	OSDarwin:  "apple-darwin",
	OSLinux:   "unknown-linux-gnu",
	OSWindows: "pc-windows-msvc",
}

var releaseArchs = map[string]string{
	ArchArm64: "aarch64",
	ArchX64:   "x86_64",
}

// Platform identifies an operating system and CPU architecture.
type Platform struct {
	OS   string
	Arch string
}

// Current returns the platform of the running process.
func Current() Platform {
	return FromGo(runtime.GOOS, runtime.GOARCH)
}

// FromGo converts Go's GOOS/GOARCH values into a Platform.
// Values without a Node equivalent are passed through unchanged.
func FromGo(goos, goarch string) Platform {
	p := Platform{OS: goos, Arch: goarch}
	if goos == "windows" {
		p.OS = OSWindows
	}
	if goarch == "amd64" {
		p.Arch = ArchX64
	}
	return p
}

// Identifier returns "<os>-<arch>", e.g. "linux-x64".
func (p Platform) Identifier() string {
	return p.OS + "-" + p.Arch
}

// IsWindows reports whether executables need an .exe suffix.
func (p Platform) IsWindows() bool {
	return p.OS == OSWindows
}

// BinaryName returns the executable file name for this platform.
func (p Platform) BinaryName() string {
	return p.VersionedBinaryName("")
}

// VersionedBinaryName returns the executable name qualified by version,
// e.g. "pglt-0.4.1" or "pglt-0.4.1.exe". An empty version yields BinaryName.
func (p Platform) VersionedBinaryName(version string) string {
	name := BinaryBaseName
	if version != "" {
		name += "-" + version
	}
	if p.IsWindows() {
		name += ".exe"
	}
	return name
}

// NodePackageName returns the npm sub-package that ships the binary for this
// platform. ok is false when no package is published for it.
func (p Platform) NodePackageName() (name string, ok bool) {
	name, ok = packageNames[p.OS][p.Arch]
	return name, ok
}

// ReleaseAssetName returns the name of the GitHub release asset for this
// platform, e.g. "pglt_x86_64-unknown-linux-gnu".
func (p Platform) ReleaseAssetName() string {
	name := BinaryBaseName
	if arch, ok := releaseArchs[p.Arch]; ok {
		name += "_" + arch
	}
	if plat, ok := releasePlatforms[p.OS]; ok {
		name += "-" + plat
	}
	return name
}

// Supported reports whether release assets exist for this platform.
func (p Platform) Supported() bool {
	_, osOK := releasePlatforms[p.OS]
	_, archOK := releaseArchs[p.Arch]
	return osOK && archOK
}
