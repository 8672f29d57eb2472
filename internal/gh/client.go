// Package gh wraps the GitHub API behind on-disk memoization and per-budget
// rate limiting. A cache hit never touches a limiter or the network.
package gh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/osvlab/repairtrace/internal/cache"
	"github.com/osvlab/repairtrace/internal/logging"
	"github.com/osvlab/repairtrace/internal/ratelimit"
)

// ErrBadCredentials reports an unusable token. It is the only fatal remote
// condition: the whole batch halts on it.
var ErrBadCredentials = errors.New("github: bad credentials")

// Candidate is a pull request summary taken from a search result. MergedAt is
// provisional; the authoritative value comes from the detail endpoint.
type Candidate struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Author   string    `json:"author"`
	HTMLURL  string    `json:"html_url"`
	MergedAt time.Time `json:"merged_at,omitzero"`
}

// Detail is the full pull request record for a chosen candidate.
type Detail struct {
	Number   int       `json:"number"`
	MergedBy string    `json:"merged_by"`
	MergedAt time.Time `json:"merged_at,omitzero"`
}

// Options tunes the per-budget minimum call intervals.
type Options struct {
	CoreInterval   time.Duration
	SearchInterval time.Duration
}

// Client issues authenticated GitHub calls through the shared cache. All
// methods are safe to re-run: identical requests resolve to the same cached
// artifact until a forced refresh.
type Client struct {
	gh     *github.Client
	cache  *cache.Cache
	core   *ratelimit.Limiter
	search *ratelimit.Limiter
	log    logging.Logger
}

func New(token string, c *cache.Cache, opts Options, log logging.Logger) *Client {
	if opts.CoreInterval <= 0 {
		opts.CoreInterval = 800 * time.Millisecond
	}
	if opts.SearchInterval <= 0 {
		opts.SearchInterval = 2100 * time.Millisecond
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
		httpClient.Timeout = 30 * time.Second
	}
	return &Client{
		gh:     github.NewClient(httpClient),
		cache:  c,
		core:   ratelimit.New(opts.CoreInterval),
		search: ratelimit.New(opts.SearchInterval),
		log:    log.WithName("gh"),
	}
}

// SetBaseURL points the client at an alternate API endpoint. Tests use it to
// target an httptest server.
func (c *Client) SetBaseURL(raw string) error {
	u, err := c.gh.BaseURL.Parse(raw)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c.gh.BaseURL = u
	return nil
}

func searchTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// SearchMergedPRs returns the first page of pull requests merged on the
// repository within [start, end]. Failures other than rate limits resolve to
// an empty result, which is cached like any other search outcome.
func (c *Client) SearchMergedPRs(ctx context.Context, slug string, start, end time.Time) ([]Candidate, error) {
	key := fmt.Sprintf("%s_%d_%d", slug, start.Unix(), end.Unix())
	data, _, err := c.cache.GetOrFetch("search", key, func() ([]byte, bool, error) {
		cands, err := c.runSearch(ctx, slug, start, end)
		if err != nil {
			return nil, false, err
		}
		if cands == nil {
			cands = []Candidate{}
		}
		b, err := json.Marshal(cands)
		return b, true, err
	})
	if err != nil {
		return nil, err
	}
	var cands []Candidate
	if err := json.Unmarshal(data, &cands); err != nil {
		return nil, fmt.Errorf("decode cached search %s: %w", key, err)
	}
	return cands, nil
}

func (c *Client) runSearch(ctx context.Context, slug string, start, end time.Time) ([]Candidate, error) {
	q := fmt.Sprintf("repo:%s is:pr is:merged merged:%s..%s", slug, searchTime(start), searchTime(end))
	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		c.search.Wait()
		res, _, err := c.gh.Search.Issues(ctx, q, opts)
		if err == nil {
			var cands []Candidate
			for _, issue := range res.Issues {
				cands = append(cands, Candidate{
					Number:   issue.GetNumber(),
					Title:    issue.GetTitle(),
					Body:     issue.GetBody(),
					Author:   issue.GetUser().GetLogin(),
					HTMLURL:  issue.GetHTMLURL(),
					MergedAt: issue.GetPullRequestLinks().GetMergedAt().Time,
				})
			}
			return cands, nil
		}
		delay, retry, ferr := c.remoteFailure(err, "search "+slug)
		if ferr != nil {
			return nil, ferr
		}
		if !retry {
			return nil, nil
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// PRFiles returns the changed-file paths of a pull request. An unavailable
// file list resolves to an empty, cached result.
func (c *Client) PRFiles(ctx context.Context, slug string, number int) ([]string, error) {
	key := fmt.Sprintf("%s_%d", slug, number)
	data, _, err := c.cache.GetOrFetch("pr_files", key, func() ([]byte, bool, error) {
		files, err := c.runFiles(ctx, slug, number)
		if err != nil {
			return nil, false, err
		}
		if files == nil {
			files = []string{}
		}
		b, err := json.Marshal(files)
		return b, true, err
	})
	if err != nil {
		return nil, err
	}
	var files []string
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decode cached pr files %s: %w", key, err)
	}
	return files, nil
}

func (c *Client) runFiles(ctx context.Context, slug string, number int) ([]string, error) {
	owner, repo, err := splitSlug(slug)
	if err != nil {
		return nil, err
	}
	opts := &github.ListOptions{PerPage: 100}
	for {
		c.core.Wait()
		commitFiles, _, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err == nil {
			var files []string
			for _, f := range commitFiles {
				files = append(files, f.GetFilename())
			}
			return files, nil
		}
		delay, retry, ferr := c.remoteFailure(err, fmt.Sprintf("files %s#%d", slug, number))
		if ferr != nil {
			return nil, ferr
		}
		if !retry {
			return nil, nil
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// PRDetail returns the full record of a pull request, or nil when it cannot
// be fetched. Unlike search and file lists, absence is not cached.
func (c *Client) PRDetail(ctx context.Context, slug string, number int) (*Detail, error) {
	key := fmt.Sprintf("%s_%d", slug, number)
	data, ok, err := c.cache.GetOrFetch("pr_detail", key, func() ([]byte, bool, error) {
		detail, err := c.runDetail(ctx, slug, number)
		if err != nil {
			return nil, false, err
		}
		if detail == nil {
			return nil, false, nil
		}
		b, err := json.Marshal(detail)
		return b, true, err
	})
	if err != nil || !ok {
		return nil, err
	}
	var detail Detail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("decode cached pr detail %s: %w", key, err)
	}
	return &detail, nil
}

func (c *Client) runDetail(ctx context.Context, slug string, number int) (*Detail, error) {
	owner, repo, err := splitSlug(slug)
	if err != nil {
		return nil, err
	}
	for {
		c.core.Wait()
		pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
		if err == nil {
			return &Detail{
				Number:   pr.GetNumber(),
				MergedBy: pr.GetMergedBy().GetLogin(),
				MergedAt: pr.GetMergedAt().Time,
			}, nil
		}
		delay, retry, ferr := c.remoteFailure(err, fmt.Sprintf("detail %s#%d", slug, number))
		if ferr != nil {
			return nil, ferr
		}
		if !retry {
			return nil, nil
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// remoteFailure classifies a failed call. It returns a positive delay with
// retry=true for rate-limit conditions, ErrBadCredentials for auth failures,
// and (0, false, nil) when the failure is absorbed as an absent result.
// Network-level errors without an HTTP status fall in the absorbed class and
// are deliberately not retried. Cancellation is never absorbed: a cut-short
// call must not memoize an empty result the cache would then serve forever.
func (c *Client) remoteFailure(err error, what string) (time.Duration, bool, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false, err
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		d := time.Until(rle.Rate.Reset.Time)
		if d < time.Minute {
			d = time.Minute
		}
		c.log.Info("rate limit hit, waiting for reset", "op", what, "wait", (d + time.Second).String())
		return d + time.Second, true, nil
	}
	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		d := arle.GetRetryAfter()
		if d <= 0 {
			d = time.Minute
		}
		c.log.Info("secondary rate limit hit, backing off", "op", what, "wait", (d + time.Second).String())
		return d + time.Second, true, nil
	}
	var ghe *github.ErrorResponse
	if errors.As(err, &ghe) && ghe.Response != nil {
		switch ghe.Response.StatusCode {
		case http.StatusUnauthorized:
			return 0, false, fmt.Errorf("%w: %s", ErrBadCredentials, ghe.Message)
		case http.StatusForbidden, http.StatusTooManyRequests:
			d := time.Minute
			if reset := ghe.Response.Header.Get("X-RateLimit-Reset"); reset != "" {
				if epoch, perr := strconv.ParseInt(reset, 10, 64); perr == nil {
					if until := time.Until(time.Unix(epoch, 0)); until > d {
						d = until
					}
				}
			}
			c.log.Info("rate limit hit, waiting for reset", "op", what, "wait", (d + time.Second).String())
			return d + time.Second, true, nil
		case http.StatusNotFound:
			return 0, false, nil
		default:
			c.log.Info("request failed, treating as absent", "op", what, "status", ghe.Response.StatusCode)
			return 0, false, nil
		}
	}
	c.log.Error(err, "request error without status, treating as absent", "op", what)
	return 0, false, nil
}

func splitSlug(slug string) (string, string, error) {
	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid repo slug %q", slug)
	}
	return owner, repo, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
