// Package config exposes the pglt settings namespace to the supervisor.
//
// Settings are read per operation through Source. The viper-backed Manager
// layers a user settings file under a workspace-folder settings file and
// reports reloads as ChangeEvents.
package config

import (
	"fmt"
	"strings"
)

// Namespace is the settings section owned by the supervisor.
const Namespace = "pglt"

// Setting keys.
const (
	KeyBin                      = Namespace + ".bin"
	KeyConfigFile               = Namespace + ".configFile"
	KeyEnabled                  = Namespace + ".enabled"
	KeyAllowDownloadPrereleases = Namespace + ".allowDownloadPrereleases"
)

// Source is a read-only view of settings.
type Source interface {
	Get(key string) any
	GetString(key string) string
	GetBool(key string) bool
}

// Map is a fixed Source backed by nested maps. Keys are dotted paths and
// compare case-insensitively.
type Map map[string]any

// Get implements Source.
func (m Map) Get(key string) any {
	return lookup(map[string]any(m), key)
}

// GetString implements Source.
func (m Map) GetString(key string) string {
	switch v := m.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// GetBool implements Source.
func (m Map) GetBool(key string) bool {
	switch v := m.Get(key).(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// lookup walks a dotted key through nested maps.
func lookup(tree map[string]any, key string) any {
	var current any = tree
	for _, part := range strings.Split(key, ".") {
		node, ok := asMap(current)
		if !ok {
			return nil
		}
		current = childFold(node, part)
		if current == nil {
			return nil
		}
	}
	return current
}

func childFold(node map[string]any, key string) any {
	if v, ok := node[key]; ok {
		return v
	}
	for k, v := range node {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Map:
		return map[string]any(m), true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// StringMap converts a settings value to map[string]string when it is a map,
// as used by OS/arch keyed settings. ok is false for non-map values.
func StringMap(v any) (map[string]string, bool) {
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, isString := val.(string); isString {
			out[k] = s
		}
	}
	return out, true
}
