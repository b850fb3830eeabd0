package probe

import (
	"os"
	"path/filepath"
	"strings"
)

// Env provides access to environment variables.
type Env interface {
	Getenv(key string) string
}

// OSEnv reads the real process environment.
type OSEnv struct{}

// Getenv implements Env.
func (OSEnv) Getenv(key string) string {
	return os.Getenv(key)
}

// MapEnv is a fixed environment, used for tests and sandboxed hosts.
type MapEnv map[string]string

// Getenv implements Env.
func (m MapEnv) Getenv(key string) string {
	return m[key]
}

// SearchPath splits a PATH-style value into its non-empty directories using
// the OS list separator.
func SearchPath(env Env) []string {
	value := env.Getenv("PATH")
	if value == "" {
		return nil
	}
	var dirs []string
	for _, dir := range strings.Split(value, string(filepath.ListSeparator)) {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
