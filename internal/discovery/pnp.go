package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/probe"
)

// pnpManifests are checked at the project root in order.
var pnpManifests = []string{".pnp.data.json", ".pnp.cjs", ".pnp.js"}

// YarnPnPStrategy resolves the platform package through a Yarn Plug'n'Play
// manifest. The manifest's package registry is read directly rather than by
// loading the generated resolver.
type YarnPnPStrategy struct {
	Probe    *probe.Probe
	Platform platform.Platform
	Logger   *log.Logger
}

// Name implements Strategy.
func (s *YarnPnPStrategy) Name() string { return "Yarn PnP Strategy" }

// Find implements Strategy.
func (s *YarnPnPStrategy) Find(_ context.Context, root string) (string, error) {
	logger := logging.OrDiscard(s.Logger)

	if root == "" {
		logger.Debug("no project root, skipping")
		return "", nil
	}

	for _, name := range pnpManifests {
		manifest := filepath.Join(root, name)
		if !s.Probe.FileExists(manifest) {
			logger.Debug("no Plug'n'Play manifest", "file", name)
			continue
		}

		state, err := s.readState(manifest)
		if err != nil {
			return "", err
		}

		location, ok := s.resolve(state)
		if !ok {
			logger.Debug("package not resolvable via Plug'n'Play", "manifest", name)
			continue
		}

		bin := filepath.Join(root, filepath.FromSlash(location), s.Platform.BinaryName())
		if !s.Probe.FileExists(bin) {
			logger.Debug("resolved package has no unplugged binary", "path", bin)
			continue
		}
		return bin, nil
	}
	return "", nil
}

func (s *YarnPnPStrategy) readState(path string) (gjson.Result, error) {
	data, err := afero.ReadFile(s.Probe.Fs, path)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read %s: %w", path, err)
	}

	raw := string(data)
	if strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".cjs") {
		var ok bool
		raw, ok = extractRuntimeState(raw)
		if !ok {
			return gjson.Result{}, fmt.Errorf("%s: no inline runtime state", path)
		}
	}
	if !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("%s: invalid runtime state", path)
	}
	return gjson.Parse(raw), nil
}

// resolve walks root workspace -> main package -> platform package and
// returns the platform package's location relative to the project root.
func (s *YarnPnPStrategy) resolve(state gjson.Result) (string, bool) {
	registry := state.Get("packageRegistryData")

	top, ok := topLevelPackage(registry)
	if !ok {
		return "", false
	}

	mainRef, ok := dependencyReference(top, platform.NpmPackageName)
	if !ok {
		return "", false
	}
	mainName, mainTarget := aliasTarget(platform.NpmPackageName, mainRef)
	main, ok := lookupPackage(registry, mainName, mainTarget)
	if !ok {
		return "", false
	}

	pkg, ok := s.Platform.NodePackageName()
	if !ok {
		return "", false
	}
	binRef, ok := dependencyReference(main, pkg)
	if !ok {
		return "", false
	}
	binName, binTarget := aliasTarget(pkg, binRef)
	bin, ok := lookupPackage(registry, binName, binTarget)
	if !ok {
		return "", false
	}

	location := bin.Get("packageLocation").String()
	return location, location != ""
}

// topLevelPackage finds the workspace located at the project root.
func topLevelPackage(registry gjson.Result) (gjson.Result, bool) {
	var found gjson.Result
	registry.ForEach(func(_, entry gjson.Result) bool {
		entry.Get("1").ForEach(func(_, ref gjson.Result) bool {
			info := ref.Get("1")
			if info.Get("packageLocation").String() == "./" {
				found = info
				return false
			}
			return true
		})
		return !found.Exists()
	})
	return found, found.Exists()
}

// lookupPackage returns the information block for name@reference.
func lookupPackage(registry gjson.Result, name, reference string) (gjson.Result, bool) {
	var found gjson.Result
	registry.ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("0").String() != name {
			return true
		}
		entry.Get("1").ForEach(func(_, ref gjson.Result) bool {
			if ref.Get("0").String() == reference {
				found = ref.Get("1")
				return false
			}
			return true
		})
		return false
	})
	return found, found.Exists()
}

// dependencyReference returns the reference info declares for dep. The
// reference is either a string or an [alias, reference] pair.
func dependencyReference(info gjson.Result, dep string) (gjson.Result, bool) {
	var found gjson.Result
	info.Get("packageDependencies").ForEach(func(_, pair gjson.Result) bool {
		if pair.Get("0").String() == dep {
			found = pair.Get("1")
			return false
		}
		return true
	})
	return found, found.Exists() && found.Type != gjson.Null
}

func aliasTarget(name string, ref gjson.Result) (string, string) {
	if ref.IsArray() {
		return ref.Get("0").String(), ref.Get("1").String()
	}
	return name, ref.String()
}

// extractRuntimeState pulls the JSON blob assigned to RAW_RUNTIME_STATE out
// of a generated .pnp.cjs file. The blob is a single-quoted JS string with
// line continuations.
func extractRuntimeState(src string) (string, bool) {
	idx := strings.Index(src, "RAW_RUNTIME_STATE")
	if idx < 0 {
		return "", false
	}
	rest := src[idx:]
	start := strings.IndexByte(rest, '\'')
	if start < 0 {
		return "", false
	}
	rest = rest[start+1:]

	var b strings.Builder
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '\\' && i+1 < len(rest):
			i++
			switch next := rest[i]; next {
			case '\n':
			case '\r':
				if i+1 < len(rest) && rest[i+1] == '\n' {
					i++
				}
			default:
				b.WriteByte(next)
			}
		case c == '\'':
			return b.String(), true
		default:
			b.WriteByte(c)
		}
	}
	return "", false
}
