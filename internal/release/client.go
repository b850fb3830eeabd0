// Package release lists pglt releases on GitHub and installs release assets
// into the supervisor's cache.
package release

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultAPIURL      = "https://api.github.com"
	DefaultDownloadURL = "https://github.com"
	DefaultRepo        = "supabase-community/postgres_lsp"

	// APIVersion is sent as X-GitHub-Api-Version.
	APIVersion = "2022-11-28"

	perPage  = 100
	maxPages = 30
)

// Release is one published release.
type Release struct {
	TagName     string
	PublishedAt time.Time
	Draft       bool
	Prerelease  bool
}

// Client talks to the GitHub REST API and release download host.
type Client struct {
	HTTP        *http.Client
	APIURL      string
	DownloadURL string
	Repo        string
}

// NewClient returns a Client for the public pglt repository.
func NewClient() *Client {
	return &Client{
		HTTP:        &http.Client{Timeout: 5 * time.Minute},
		APIURL:      DefaultAPIURL,
		DownloadURL: DefaultDownloadURL,
		Repo:        DefaultRepo,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// ListReleases returns published releases, newest first. Drafts are always
// dropped; prereleases are kept only when withPrereleases is set.
func (c *Client) ListReleases(ctx context.Context, withPrereleases bool) ([]Release, error) {
	var all []Release

	for page := 1; page <= maxPages; page++ {
		batch, err := c.listPage(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}

	releases := all[:0]
	for _, r := range all {
		if r.Draft || (r.Prerelease && !withPrereleases) {
			continue
		}
		releases = append(releases, r)
	}
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].PublishedAt.After(releases[j].PublishedAt)
	})

	if len(releases) == 0 {
		return nil, ErrNoReleases
	}
	return releases, nil
}

func (c *Client) listPage(ctx context.Context, page int) ([]Release, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	endpoint := fmt.Sprintf("%s/repos/%s/releases?%s", c.APIURL, c.Repo, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	req.Header.Set("Accept", "application/vnd.github+json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &FetchError{URL: endpoint, Err: fmt.Errorf("invalid JSON response")}
	}

	var releases []Release
	gjson.ParseBytes(body).ForEach(func(_, item gjson.Result) bool {
		published, _ := time.Parse(time.RFC3339, item.Get("published_at").String())
		releases = append(releases, Release{
			TagName:     item.Get("tag_name").String(),
			PublishedAt: published,
			Draft:       item.Get("draft").Bool(),
			Prerelease:  item.Get("prerelease").Bool(),
		})
		return true
	})
	return releases, nil
}

// AssetURL returns the download URL of asset in the release tagged tag.
func (c *Client) AssetURL(tag, asset string) string {
	return fmt.Sprintf("%s/%s/releases/download/%s/%s",
		c.DownloadURL, c.Repo, url.PathEscape(tag), url.PathEscape(asset))
}

// Fetch downloads a release asset.
func (c *Client) Fetch(ctx context.Context, tag, asset string) ([]byte, error) {
	endpoint := c.AssetURL(tag, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/octet-stream")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	endpoint := req.URL.String()

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	return body, nil
}
