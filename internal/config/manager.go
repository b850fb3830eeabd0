package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/dshills/pglt-supervisor/internal/logging"
)

// FolderSettingsDir is the directory under a workspace folder that may hold
// folder-scoped settings.
const FolderSettingsDir = ".pglt"

// folderSettingsNames are tried in order inside FolderSettingsDir.
var folderSettingsNames = []string{"settings.toml", "settings.json", "settings.yaml", "settings.yml"}

// Options configures a Manager.
type Options struct {
	// Fs is the filesystem settings are read from. Defaults to the OS.
	Fs afero.Fs

	// UserFile is the user-level settings file. Optional.
	UserFile string

	// FolderRoot is the workspace folder whose .pglt/settings.* overrides
	// user settings. Optional.
	FolderRoot string

	Logger *log.Logger
}

// Manager loads layered settings with viper and serves them as a Source.
type Manager struct {
	opts   Options
	logger *log.Logger

	mu       sync.RWMutex
	v        *viper.Viper
	settings map[string]any
}

// NewManager creates a Manager and performs the initial load.
func NewManager(opts Options) (*Manager, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	m := &Manager{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("component", "config"),
	}
	v, err := m.load()
	if err != nil {
		return nil, err
	}
	m.v = v
	m.settings = v.AllSettings()
	return m, nil
}

// Files returns the settings files that participate in loading, whether or
// not they currently exist.
func (m *Manager) Files() []string {
	var files []string
	if m.opts.UserFile != "" {
		files = append(files, m.opts.UserFile)
	}
	if m.opts.FolderRoot != "" {
		for _, name := range folderSettingsNames {
			files = append(files, filepath.Join(m.opts.FolderRoot, FolderSettingsDir, name))
		}
	}
	return files
}

func (m *Manager) load() (*viper.Viper, error) {
	v := viper.New()
	v.SetFs(m.opts.Fs)
	v.SetDefault(KeyEnabled, true)
	v.SetDefault(KeyAllowDownloadPrereleases, false)

	if path := m.opts.UserFile; path != "" && fileExists(m.opts.Fs, path) {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read user settings %s: %w", path, err)
		}
		m.logger.Debug("loaded user settings", "path", path)
	}

	if folder := m.folderFile(); folder != "" {
		v.SetConfigFile(folder)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read folder settings %s: %w", folder, err)
		}
		m.logger.Debug("loaded folder settings", "path", folder)
	}

	return v, nil
}

func (m *Manager) folderFile() string {
	if m.opts.FolderRoot == "" {
		return ""
	}
	for _, name := range folderSettingsNames {
		path := filepath.Join(m.opts.FolderRoot, FolderSettingsDir, name)
		if fileExists(m.opts.Fs, path) {
			return path
		}
	}
	return ""
}

// Reload rereads all layers and reports what changed. On error the previous
// settings stay in effect.
func (m *Manager) Reload() (ChangeEvent, error) {
	v, err := m.load()
	if err != nil {
		return ChangeEvent{}, err
	}
	after := v.AllSettings()

	m.mu.Lock()
	before := m.settings
	m.v = v
	m.settings = after
	m.mu.Unlock()

	return ChangeEvent{Before: before, After: after}, nil
}

// Get implements Source.
func (m *Manager) Get(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key)
}

// GetString implements Source.
func (m *Manager) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.GetString(key)
}

// GetBool implements Source.
func (m *Manager) GetBool(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.GetBool(key)
}

// Settings returns a snapshot of all merged settings.
func (m *Manager) Settings() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// ChangeEvent describes a settings reload.
type ChangeEvent struct {
	Before map[string]any
	After  map[string]any
}

// AffectsConfiguration reports whether the value at section differs between
// Before and After. section is a dotted key such as "pglt" or "pglt.bin".
func (e ChangeEvent) AffectsConfiguration(section string) bool {
	return !reflect.DeepEqual(lookup(e.Before, section), lookup(e.After, section))
}

func fileExists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}

var _ Source = (*Manager)(nil)
var _ Source = Map(nil)
