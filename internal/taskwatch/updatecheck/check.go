// Package updatecheck reports when a newer taskwatch release is published.
package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/colonyops/taskwatch/internal/core/kv"
	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

const (
	// DefaultReleaseURL is the GitHub endpoint for the latest release.
	DefaultReleaseURL = "https://api.github.com/repos/colonyops/taskwatch/releases/latest"

	cacheTTL       = 24 * time.Hour
	cacheNamespace = "update-check"
	cacheKey       = "latest"
)

// Release is the subset of the GitHub release payload that is cached.
type Release struct {
	TagName     string `json:"tag_name"`
	PublishedAt string `json:"published_at"`
}

// Result is returned when a newer version is available.
type Result struct {
	Current string
	Latest  string
}

// Checker looks up the latest release, caching it in the KV store for a day
// so repeated starts do not hit the network.
type Checker struct {
	url   string
	http  *http.Client
	cache *kv.TypedKV[Release]
	log   zerolog.Logger
}

// New creates a checker that queries url, or DefaultReleaseURL when empty.
func New(store kv.KV, url string, log zerolog.Logger) *Checker {
	if url == "" {
		url = DefaultReleaseURL
	}
	return &Checker{
		url:   url,
		http:  &http.Client{Timeout: 5 * time.Second},
		cache: kv.Scoped[Release](store, cacheNamespace),
		log:   log.With().Str("component", "updatecheck").Logger(),
	}
}

// Check compares current to the latest release. It returns a nil Result
// when no update is available or the check could not be made; lookup
// failures are logged, never returned.
func (c *Checker) Check(ctx context.Context, current string) *Result {
	if current == "" || current == "dev" {
		return nil
	}

	cur, ok := normalize(current)
	if !ok {
		c.log.Debug().Str("version", current).Msg("invalid current version")
		return nil
	}

	rel, err := c.latest(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("failed to get latest release")
		return nil
	}

	latest, ok := normalize(rel.TagName)
	if !ok {
		c.log.Debug().Str("tag", rel.TagName).Msg("invalid release tag")
		return nil
	}

	if semver.Compare(cur, latest) >= 0 {
		return nil
	}
	return &Result{Current: cur, Latest: latest}
}

func (c *Checker) latest(ctx context.Context) (Release, error) {
	if cached, ok, err := c.cache.Lookup(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}

	rel, err := c.fetch(ctx)
	if err != nil {
		return Release{}, err
	}

	if err := c.cache.SetTTL(ctx, cacheKey, rel, cacheTTL); err != nil {
		c.log.Debug().Err(err).Msg("failed to cache release")
	}
	return rel, nil
}

func (c *Checker) fetch(ctx context.Context) (Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Release{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "taskwatch-update-checker")

	resp, err := c.http.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("request latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("request latest release: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Release{}, fmt.Errorf("read latest release body: %w", err)
	}

	var rel Release
	if err := json.Unmarshal(body, &rel); err != nil {
		return Release{}, fmt.Errorf("decode latest release: %w", err)
	}
	if rel.TagName == "" {
		return Release{}, fmt.Errorf("decode latest release: missing tag_name")
	}
	return rel, nil
}

func normalize(version string) (string, bool) {
	if semver.IsValid(version) {
		return version, true
	}
	if v := "v" + version; semver.IsValid(v) {
		return v, true
	}
	return "", false
}
