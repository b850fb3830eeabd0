package release

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pglt-supervisor/internal/platform"
	"github.com/dshills/pglt-supervisor/internal/store"
)

func releaseJSON(tag string, published time.Time, draft, pre bool) string {
	return fmt.Sprintf(`{"tag_name":%q,"published_at":%q,"draft":%t,"prerelease":%t}`,
		tag, published.Format(time.RFC3339), draft, pre)
}

func newTestClient(srv *httptest.Server) *Client {
	return &Client{HTTP: srv.Client(), APIURL: srv.URL, DownloadURL: srv.URL, Repo: "owner/repo"}
}

func TestListReleases_FilterAndSort(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/releases", r.URL.Path)
		assert.Equal(t, APIVersion, r.Header.Get("X-GitHub-Api-Version"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		fmt.Fprintf(w, "[%s]", strings.Join([]string{
			releaseJSON("0.1.0", base, false, false),
			releaseJSON("0.3.0", base.Add(48*time.Hour), false, false),
			releaseJSON("0.4.0-rc", base.Add(72*time.Hour), false, true),
			releaseJSON("0.5.0", base.Add(96*time.Hour), true, false),
			releaseJSON("0.2.0", base.Add(24*time.Hour), false, false),
		}, ","))
	}))
	defer srv.Close()

	c := newTestClient(srv)

	releases, err := c.ListReleases(context.Background(), false)
	require.NoError(t, err)
	tags := make([]string, len(releases))
	for i, r := range releases {
		tags[i] = r.TagName
	}
	assert.Equal(t, []string{"0.3.0", "0.2.0", "0.1.0"}, tags)

	releases, err = c.ListReleases(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "0.4.0-rc", releases[0].TagName)
	assert.True(t, releases[0].Prerelease)
	assert.Len(t, releases, 4)
}

func TestListReleases_Paginates(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var pages []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, page)
		n := 100
		if page == 2 {
			n = 3
		}
		items := make([]string, n)
		for i := range items {
			idx := (page-1)*100 + i
			items[i] = releaseJSON(fmt.Sprintf("v%d", idx), base.Add(time.Duration(idx)*time.Hour), false, false)
		}
		fmt.Fprintf(w, "[%s]", strings.Join(items, ","))
	}))
	defer srv.Close()

	releases, err := newTestClient(srv).ListReleases(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pages)
	assert.Len(t, releases, 103)
	assert.Equal(t, "v102", releases[0].TagName)
}

func TestListReleases_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListReleases(context.Background(), false)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "403")
}

func TestListReleases_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListReleases(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoReleases)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Accept"))
		if r.URL.Path != "/owner/repo/releases/download/0.2.0/pglt_x86_64-unknown-linux-gnu" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "binary-bytes")
	}))
	defer srv.Close()

	c := newTestClient(srv)
	data, err := c.Fetch(context.Background(), "0.2.0", "pglt_x86_64-unknown-linux-gnu")
	require.NoError(t, err)
	assert.Equal(t, "binary-bytes", string(data))

	_, err = c.Fetch(context.Background(), "9.9.9", "pglt_x86_64-unknown-linux-gnu")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, c.AssetURL("9.9.9", "pglt_x86_64-unknown-linux-gnu"), fetchErr.URL)
}

type fakeSource struct {
	data    []byte
	err     error
	fetched []string
}

func (f *fakeSource) ListReleases(context.Context, bool) ([]Release, error) {
	return []Release{{TagName: "0.2.0"}}, nil
}

func (f *fakeSource) Fetch(_ context.Context, tag, asset string) ([]byte, error) {
	f.fetched = append(f.fetched, tag+"/"+asset)
	return f.data, f.err
}

func newInstaller(src Source) (*Installer, afero.Fs) {
	fs := afero.NewMemMapFs()
	return &Installer{
		Fs:       fs,
		CacheDir: "/cache",
		Store:    store.NewMemory(),
		Source:   src,
		Platform: platform.Platform{OS: platform.OSLinux, Arch: platform.ArchX64},
	}, fs
}

func TestInstaller_InstallAndDownloaded(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{data: []byte("ELF")}
	inst, fs := newInstaller(src)

	_, _, ok := inst.Downloaded(ctx)
	assert.False(t, ok)

	path, err := inst.Install(ctx, "0.2.0")
	require.NoError(t, err)
	assert.Equal(t, "/cache/global-bin/pglt", path)
	assert.Equal(t, []string{"0.2.0/pglt_x86_64-unknown-linux-gnu"}, src.fetched)

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, 0o755, int(info.Mode().Perm()))

	version, got, ok := inst.Downloaded(ctx)
	require.True(t, ok)
	assert.Equal(t, "0.2.0", version)
	assert.Equal(t, path, got)

	require.NoError(t, inst.Clear())
	_, _, ok = inst.Downloaded(ctx)
	assert.False(t, ok, "binary removed")

	require.NoError(t, inst.Forget(ctx))
	_, found, _ := inst.Store.Get(ctx, store.KeyDownloadedVersion)
	assert.False(t, found)
}

func TestInstaller_FetchFailure(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{err: &FetchError{URL: "https://example/x", StatusCode: 404}}
	inst, fs := newInstaller(src)

	_, err := inst.Install(ctx, "0.2.0")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)

	exists, _ := afero.Exists(fs, inst.BinaryPath())
	assert.False(t, exists)
	_, found, _ := inst.Store.Get(ctx, store.KeyDownloadedVersion)
	assert.False(t, found)
}
