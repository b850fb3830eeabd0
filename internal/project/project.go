// Package project resolves the workspace folder a session runs against.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/logging"
)

// DefaultConfigFile is the worker config file looked up at the project root.
const DefaultConfigFile = "pglt.toml"

// ErrMultiRoot is returned when more than one folder is open.
var ErrMultiRoot = errors.New("pglt does not support multi-root workspaces")

// Folder is an open workspace folder.
type Folder struct {
	Name string
	Root string
}

// Project is a folder with a worker config file.
type Project struct {
	Root       string
	ConfigPath string
	Folder     *Folder
}

// Resolver picks the active project from the open folders.
type Resolver struct {
	Fs     afero.Fs
	Config config.Source
	Logger *log.Logger
}

// Resolve returns the active project. It returns nil without error when
// there is no folder (single-file mode) or the folder has no config file.
func (r *Resolver) Resolve(folders []Folder) (*Project, error) {
	logger := logging.OrDiscard(r.Logger).With("component", "project")

	switch {
	case len(folders) == 0:
		logger.Warn("no workspace folders, single-file mode")
		return nil, nil
	case len(folders) > 1:
		return nil, ErrMultiRoot
	}

	folder := folders[0]
	configPath := filepath.Join(folder.Root, DefaultConfigFile)
	if r.Config != nil {
		if p := r.Config.GetString(config.KeyConfigFile); p != "" {
			logger.Info("using configured config file", "path", p)
			if filepath.IsAbs(p) {
				configPath = p
			} else {
				configPath = filepath.Join(folder.Root, p)
			}
		}
	}

	fs := r.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	info, err := fs.Stat(configPath)
	if err != nil || info.IsDir() {
		logger.Info("config file does not exist", "path", configPath)
		return nil, nil
	}
	logger.Info("found config file", "path", configPath)

	return &Project{
		Root:       folder.Root,
		ConfigPath: configPath,
		Folder:     &folder,
	}, nil
}

// Enabled reports whether pglt is enabled for the project's folder.
func Enabled(src config.Source) bool {
	if src == nil {
		return true
	}
	if v := src.Get(config.KeyEnabled); v == nil {
		return true
	}
	return src.GetBool(config.KeyEnabled)
}

// LoadSettings reads a worker config file and returns it as JSON. TOML,
// JSON and JSONC files are supported.
func LoadSettings(fs afero.Fs, path string) (json.RawMessage, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		return out, nil
	case ".json", ".jsonc":
		out := jsonc.ToJSON(data)
		if !json.Valid(out) {
			return nil, fmt.Errorf("parse %s: invalid JSON", path)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
}
