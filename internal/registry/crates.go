// Package registry resolves crate names to repository URLs via crates.io.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/osvlab/repairtrace/internal/cache"
	"github.com/osvlab/repairtrace/internal/logging"
	"github.com/osvlab/repairtrace/internal/ratelimit"
)

const defaultBaseURL = "https://crates.io"

// Client performs cached crate lookups at a fixed slow rate to respect the
// registry's courtesy limits. Explicit not-found results are cached too, so a
// missing crate is only asked for once.
type Client struct {
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
	baseURL    string
	log        logging.Logger
}

func New(c *cache.Cache, interval time.Duration, log logging.Logger) *Client {
	if interval <= 0 {
		interval = time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      c,
		limiter:    ratelimit.New(interval),
		baseURL:    defaultBaseURL,
		log:        log.WithName("registry"),
	}
}

// SetBaseURL points the client at an alternate registry endpoint for tests.
func (c *Client) SetBaseURL(raw string) { c.baseURL = raw }

type lookup struct {
	Repository string `json:"repository"`
}

// RepositoryURL returns the crate's repository URL, or "" when the crate is
// unknown or carries no repository field. Transient registry failures are
// absorbed as "" without caching, so a later run can ask again.
func (c *Client) RepositoryURL(ctx context.Context, crate string) (string, error) {
	if crate == "" {
		return "", nil
	}
	data, ok, err := c.cache.GetOrFetch("crates_io", crate, func() ([]byte, bool, error) {
		return c.fetch(ctx, crate)
	})
	if err != nil || !ok {
		return "", err
	}
	return gjson.GetBytes(data, "repository").String(), nil
}

func (c *Client) fetch(ctx context.Context, crate string) ([]byte, bool, error) {
	c.limiter.Wait()

	url := fmt.Sprintf("%s/api/v1/crates/%s", c.baseURL, crate)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", "repairtrace")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error(err, "crates.io request failed", "crate", crate)
		return nil, false, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		repo := gjson.GetBytes(body, "crate.repository").String()
		entry, err := json.Marshal(lookup{Repository: repo})
		return entry, true, err
	case http.StatusNotFound:
		entry, err := json.Marshal(lookup{})
		return entry, true, err
	default:
		c.log.Info("crates.io lookup failed", "crate", crate, "status", resp.StatusCode)
		return nil, false, nil
	}
}
