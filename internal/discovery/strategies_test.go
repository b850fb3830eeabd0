package discovery

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/probe"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/release"
)

var linux = platform.Platform{OS: platform.OSLinux, Arch: platform.ArchX64}

func touch(t *testing.T, fs afero.Fs, path string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte("data"), perm))
	require.NoError(t, fs.Chmod(path, perm))
}

type fakeInstaller struct {
	version    string
	path       string
	releases   []release.Release
	listErr    error
	installErr error
	installed  []string
}

func (f *fakeInstaller) Downloaded(context.Context) (string, string, bool) {
	return f.version, f.path, f.path != ""
}

func (f *fakeInstaller) Versions(context.Context, bool) ([]release.Release, error) {
	return f.releases, f.listErr
}

func (f *fakeInstaller) Install(_ context.Context, tag string) (string, error) {
	if f.installErr != nil {
		return "", f.installErr
	}
	f.installed = append(f.installed, tag)
	return "/cache/global-bin/pglt", nil
}

func TestSettingsStrategy(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/project/local/pglt", 0o755)
	touch(t, fs, "/opt/pglt", 0o755)
	touch(t, fs, "/opt/not-exec", 0o644)

	tests := []struct {
		name     string
		settings config.Map
		root     string
		want     string
		wantErr  bool
	}{
		{name: "unset", settings: config.Map{}, root: "/project"},
		{name: "relative", settings: config.Map{"pglt": map[string]any{"bin": "./local/pglt"}}, root: "/project", want: "/project/local/pglt"},
		{name: "relative without dot", settings: config.Map{"pglt": map[string]any{"bin": "local/pglt"}}, root: "/project", want: "/project/local/pglt"},
		{name: "relative no root", settings: config.Map{"pglt": map[string]any{"bin": "./local/pglt"}}},
		{name: "absolute", settings: config.Map{"pglt": map[string]any{"bin": "/opt/pglt"}}, root: "/project", want: "/opt/pglt"},
		{name: "missing", settings: config.Map{"pglt": map[string]any{"bin": "/nowhere/pglt"}}, root: "/project"},
		{name: "not executable", settings: config.Map{"pglt": map[string]any{"bin": "/opt/not-exec"}}, root: "/project"},
		{
			name: "platform map",
			settings: config.Map{"pglt": map[string]any{"bin": map[string]any{
				"linux-x64":    "/opt/pglt",
				"darwin-arm64": "/Users/me/pglt",
			}}},
			root: "/project",
			want: "/opt/pglt",
		},
		{
			name:     "platform map without entry",
			settings: config.Map{"pglt": map[string]any{"bin": map[string]any{"win32-x64": "C:/pglt.exe"}}},
			root:     "/project",
		},
		{name: "wrong type", settings: config.Map{"pglt": map[string]any{"bin": 42}}, root: "/project", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SettingsStrategy{Settings: tt.settings, Probe: probe.New(fs), Platform: linux}
			got, err := s.Find(context.Background(), tt.root)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNodeModulesStrategy(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/node_modules/@pglt/pglt/package.json", []byte(`{"name":"@pglt/pglt","version":"0.2.0"}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/node_modules/@pglt/cli-x86_64-linux-gnu/package.json", []byte(`{}`), 0o644))
	touch(t, fs, "/repo/node_modules/@pglt/cli-x86_64-linux-gnu/pglt", 0o755)
	require.NoError(t, fs.MkdirAll("/repo/packages/db", 0o755))

	s := &NodeModulesStrategy{Probe: probe.New(fs), Platform: linux}

	got, err := s.Find(context.Background(), "/repo/packages/db")
	require.NoError(t, err)
	assert.Equal(t, "/repo/node_modules/@pglt/cli-x86_64-linux-gnu/pglt", got, "resolved from an ancestor")

	got, err = s.Find(context.Background(), "/elsewhere")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Find(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got)

	unsupported := &NodeModulesStrategy{Probe: probe.New(fs), Platform: platform.Platform{OS: "plan9", Arch: "mips"}}
	got, err = unsupported.Find(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNodeModulesStrategy_NestedPlatformPackage(t *testing.T) {
	fs := afero.NewMemMapFs()
	main := "/repo/node_modules/@pglt/pglt"
	require.NoError(t, afero.WriteFile(fs, main+"/package.json", []byte(`{}`), 0o644))
	nested := main + "/node_modules/@pglt/cli-x86_64-linux-gnu"
	require.NoError(t, afero.WriteFile(fs, nested+"/package.json", []byte(`{}`), 0o644))
	touch(t, fs, nested+"/pglt", 0o755)

	got, err := (&NodeModulesStrategy{Probe: probe.New(fs), Platform: linux}).Find(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, nested+"/pglt", got)
}

func TestNodeModulesStrategy_Global(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/me/.node_modules/@pglt/pglt/package.json", []byte(`{}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/home/me/.node_modules/@pglt/cli-x86_64-linux-gnu/package.json", []byte(`{}`), 0o644))
	touch(t, fs, "/home/me/.node_modules/@pglt/cli-x86_64-linux-gnu/pglt", 0o755)
	require.NoError(t, fs.MkdirAll("/repo", 0o755))

	s := &NodeModulesStrategy{Probe: probe.New(fs), Platform: linux, HomeDir: "/home/me"}
	got, err := s.Find(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, "/home/me/.node_modules/@pglt/cli-x86_64-linux-gnu/pglt", got)
}

const pnpData = `{
  "__info": ["This file is automatically generated."],
  "dependencyTreeRoots": [{"name": "repo", "reference": "workspace:."}],
  "packageRegistryData": [
    [null, [[null, {
      "packageLocation": "./",
      "packageDependencies": [["@pglt/pglt", "npm:0.2.0"], ["left-pad", "npm:1.3.0"]],
      "linkType": "SOFT"
    }]]],
    ["@pglt/pglt", [["npm:0.2.0", {
      "packageLocation": "./.yarn/cache/@pglt-pglt-npm-0.2.0-abc.zip/node_modules/@pglt/pglt/",
      "packageDependencies": [["@pglt/pglt", "npm:0.2.0"], ["@pglt/cli-x86_64-linux-gnu", "npm:0.2.0"]],
      "linkType": "HARD"
    }]]],
    ["@pglt/cli-x86_64-linux-gnu", [["npm:0.2.0", {
      "packageLocation": "./.yarn/unplugged/@pglt-cli-x86_64-linux-gnu-npm-0.2.0-def/node_modules/@pglt/cli-x86_64-linux-gnu/",
      "packageDependencies": [],
      "linkType": "HARD"
    }]]]
  ]
}`

const unpluggedBin = "/repo/.yarn/unplugged/@pglt-cli-x86_64-linux-gnu-npm-0.2.0-def/node_modules/@pglt/cli-x86_64-linux-gnu/pglt"

func TestYarnPnPStrategy_DataJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/.pnp.data.json", []byte(pnpData), 0o644))
	touch(t, fs, unpluggedBin, 0o755)

	got, err := (&YarnPnPStrategy{Probe: probe.New(fs), Platform: linux}).Find(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, unpluggedBin, got)
}

func TestYarnPnPStrategy_InlineCJS(t *testing.T) {
	fs := afero.NewMemMapFs()
	cjs := "#!/usr/bin/env node\n/* eslint-disable */\n\"use strict\";\n\nconst RAW_RUNTIME_STATE =\n'" +
		escapeJS(pnpData) + "';\n\nfunction $$SETUP_STATE(hydrateRuntimeState, basePath) {}\n"
	require.NoError(t, afero.WriteFile(fs, "/repo/.pnp.cjs", []byte(cjs), 0o644))
	touch(t, fs, unpluggedBin, 0o755)

	got, err := (&YarnPnPStrategy{Probe: probe.New(fs), Platform: linux}).Find(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, unpluggedBin, got)
}

// escapeJS renders s the way Yarn embeds it: line continuations at each
// newline.
func escapeJS(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			out = append(out, '\\', '\n')
		case '\'':
			out = append(out, '\\', '\'')
		case '\\':
			out = append(out, '\\', '\\')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func TestYarnPnPStrategy_NotUsed(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/repo", 0o755))

	got, err := (&YarnPnPStrategy{Probe: probe.New(fs), Platform: linux}).Find(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestYarnPnPStrategy_NoDependency(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/.pnp.data.json", []byte(`{
  "packageRegistryData": [[null, [[null, {"packageLocation": "./", "packageDependencies": []}]]]]
}`), 0o644))

	got, err := (&YarnPnPStrategy{Probe: probe.New(fs), Platform: linux}).Find(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestYarnPnPStrategy_Corrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/.pnp.cjs", []byte("module.exports = {}"), 0o644))

	_, err := (&YarnPnPStrategy{Probe: probe.New(fs), Platform: linux}).Find(context.Background(), "/repo")
	assert.Error(t, err)
}

func TestExtractRuntimeState(t *testing.T) {
	state, ok := extractRuntimeState("const RAW_RUNTIME_STATE =\n'{\\\n  \"a\": \"it\\'s\"\\\n}';")
	require.True(t, ok)
	assert.Equal(t, "{  \"a\": \"it's\"}", state)

	_, ok = extractRuntimeState("const RAW_RUNTIME_STATE = '{unterminated")
	assert.False(t, ok)
}

func TestPathEnvStrategy(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/usr/local/bin/pglt", 0o755)
	require.NoError(t, fs.MkdirAll("/usr/bin", 0o755))

	s := &PathEnvStrategy{
		Probe:    probe.New(fs),
		Env:      probe.MapEnv{"PATH": "/usr/bin:/usr/local/bin:/opt/bin"},
		Platform: linux,
	}
	got, err := s.Find(context.Background(), "/project")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/pglt", got)

	s.Env = probe.MapEnv{}
	got, err = s.Find(context.Background(), "/project")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDownloadStrategy_ReusesDownloaded(t *testing.T) {
	prompter := &prompt.Static{Answer: optionDownload}
	s := &DownloadStrategy{
		Installer: &fakeInstaller{version: "0.1.0", path: "/cache/global-bin/pglt"},
		Prompter:  prompter,
	}
	got, err := s.Find(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/cache/global-bin/pglt", got)
	assert.Zero(t, prompter.Confirms())
}

func TestDownloadStrategy_Declined(t *testing.T) {
	for _, answer := range []string{"", optionDecline} {
		inst := &fakeInstaller{}
		s := &DownloadStrategy{Installer: inst, Prompter: &prompt.Static{Answer: answer}}
		got, err := s.Find(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Empty(t, inst.installed)
	}
}

func TestDownloadStrategy_Installs(t *testing.T) {
	inst := &fakeInstaller{releases: []release.Release{{TagName: "0.3.0"}, {TagName: "0.2.0"}}}
	notes := &prompt.Recorder{}
	prompter := &prompt.Static{Answer: optionDownload, Choice: "0.2.0"}
	s := &DownloadStrategy{Installer: inst, Prompter: prompter, Notifier: notes}

	got, err := s.Find(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/cache/global-bin/pglt", got)
	assert.Equal(t, []string{"0.2.0"}, inst.installed)
	require.Len(t, notes.Messages(), 1)
	assert.Contains(t, notes.Messages()[0].Text, "Downloaded PGLT 0.2.0")
}

func TestDownloadStrategy_FetchFailure(t *testing.T) {
	fetchErr := &release.FetchError{URL: "https://github.com/x/releases/download/0.3.0/pglt", StatusCode: 404}
	inst := &fakeInstaller{releases: []release.Release{{TagName: "0.3.0"}}, installErr: fetchErr}
	notes := &prompt.Recorder{}
	s := &DownloadStrategy{Installer: inst, Prompter: &prompt.Static{Answer: optionDownload}, Notifier: notes}

	_, err := s.Find(context.Background(), "")
	var target *release.FetchError
	require.True(t, errors.As(err, &target))

	msgs := notes.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, prompt.LevelError, msgs[0].Level)
	assert.Contains(t, msgs[0].Text, fetchErr.URL)
	assert.Contains(t, msgs[0].Text, "404")
}

func TestDownloadStrategy_DownloadSkipsConfirmation(t *testing.T) {
	inst := &fakeInstaller{
		version:  "0.2.0",
		path:     "/cache/global-bin/pglt",
		releases: []release.Release{{TagName: "0.3.0"}, {TagName: "0.2.0"}},
	}
	prompter := &prompt.Static{}
	s := &DownloadStrategy{Installer: inst, Prompter: prompter}

	got, err := s.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/cache/global-bin/pglt", got)
	assert.Equal(t, []string{"0.3.0"}, inst.installed)
	assert.Zero(t, prompter.Confirms())
	assert.Equal(t, 1, prompter.Picks())
}

func TestDownloadStrategy_NoReleases(t *testing.T) {
	notes := &prompt.Recorder{}
	s := &DownloadStrategy{
		Installer: &fakeInstaller{listErr: release.ErrNoReleases},
		Prompter:  &prompt.Static{Answer: optionDownload},
		Notifier:  notes,
	}
	got, err := s.Find(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
	require.Len(t, notes.Messages(), 1)
	assert.Contains(t, notes.Messages()[0].Text, config.KeyAllowDownloadPrereleases)
}

func TestNoPackageManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/plain/schema/tables.sql", []byte("select 1"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/plain/.git/package.json", []byte("{}"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/node/apps/web/package.json", []byte("{}"), 0o644))

	cond := NoPackageManifest(fs)

	ok, err := cond(context.Background(), "/plain")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond(context.Background(), "/node")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cond(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

// Scenario: relative bin setting wins and nothing after it runs.
func TestDefaultChain_SettingsShortCircuit(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/project/local/pglt", 0o755)
	touch(t, fs, "/usr/bin/pglt", 0o755)

	prompter := &prompt.Static{Answer: optionDownload}
	inst := &fakeInstaller{}
	chain := DefaultChain(Deps{
		Fs:        fs,
		Env:       probe.MapEnv{"PATH": "/usr/bin"},
		Platform:  linux,
		Settings:  config.Map{"pglt": map[string]any{"bin": "./local/pglt"}},
		Installer: inst,
		Prompter:  prompter,
	})

	res, ok := chain.Find(context.Background(), "/project")
	require.True(t, ok)
	assert.Equal(t, "/project/local/pglt", res.Path)
	assert.Equal(t, "Settings Strategy", res.Strategy)
	assert.Zero(t, prompter.Confirms())
}

// Scenario: only PATH has the binary, so download never prompts.
func TestDefaultChain_PathBeforeDownload(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/usr/local/bin/pglt", 0o755)
	require.NoError(t, fs.MkdirAll("/project", 0o755))

	prompter := &prompt.Static{Answer: optionDownload}
	chain := DefaultChain(Deps{
		Fs:        fs,
		Env:       probe.MapEnv{"PATH": "/usr/local/bin"},
		Platform:  linux,
		Settings:  config.Map{},
		Installer: &fakeInstaller{},
		Prompter:  prompter,
	})

	res, ok := chain.Find(context.Background(), "/project")
	require.True(t, ok)
	assert.Equal(t, "PATH Env Var Strategy", res.Strategy)
	assert.Zero(t, prompter.Confirms())
}

// Scenario: a package manifest in the project suppresses the download
// prompt and discovery fails.
func TestDefaultChain_ManifestSkipsDownload(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/package.json", []byte(`{"name":"app"}`), 0o644))

	prompter := &prompt.Static{Answer: optionDownload}
	inst := &fakeInstaller{releases: []release.Release{{TagName: "0.3.0"}}}
	chain := DefaultChain(Deps{
		Fs:        fs,
		Env:       probe.MapEnv{"PATH": "/usr/bin"},
		Platform:  linux,
		Settings:  config.Map{},
		Installer: inst,
		Prompter:  prompter,
	})

	_, ok := chain.Find(context.Background(), "/project")
	assert.False(t, ok)
	assert.Zero(t, prompter.Confirms())
	assert.Empty(t, inst.installed)
}
