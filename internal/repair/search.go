package repair

import (
	"context"
	"strings"
	"time"

	"github.com/osvlab/repairtrace/internal/gh"
	"github.com/osvlab/repairtrace/internal/logging"
)

// GitHubClient is the remote surface the engine needs.
type GitHubClient interface {
	SearchMergedPRs(ctx context.Context, slug string, start, end time.Time) ([]gh.Candidate, error)
	PRFiles(ctx context.Context, slug string, number int) ([]string, error)
	PRDetail(ctx context.Context, slug string, number int) (*gh.Detail, error)
}

// searchPad compensates for clock skew between the recorded downstream fix
// time and the actual merge event.
const searchPad = time.Hour

var manifestSuffixes = []string{"Cargo.toml", "Cargo.lock"}

// SearchEngine finds candidate repair pull requests in a merge-time window
// and filters them down to ones that touch a dependency manifest. Only the
// first page of search results is consulted; deeper coverage is an accepted
// limitation.
type SearchEngine struct {
	client GitHubClient
	log    logging.Logger
}

func NewSearchEngine(client GitHubClient, log logging.Logger) *SearchEngine {
	return &SearchEngine{client: client, log: log.WithName("search")}
}

// Window maps fix timestamps to the searched merge-time window.
func (e *SearchEngine) Window(upstreamFix, downstreamFix time.Time) (time.Time, time.Time) {
	return upstreamFix, downstreamFix.Add(searchPad)
}

// Search returns candidates merged within [start, end].
func (e *SearchEngine) Search(ctx context.Context, slug string, start, end time.Time) ([]gh.Candidate, error) {
	return e.client.SearchMergedPRs(ctx, slug, start, end)
}

// FilterManifest keeps candidates whose changed files include a dependency
// manifest. Candidates whose file list cannot be fetched are dropped without
// retry.
func (e *SearchEngine) FilterManifest(ctx context.Context, slug string, cands []gh.Candidate) ([]gh.Candidate, error) {
	var valid []gh.Candidate
	for _, c := range cands {
		if c.Number == 0 {
			continue
		}
		files, err := e.client.PRFiles(ctx, slug, c.Number)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			e.log.Debug("candidate dropped, no file list", "repo", slug, "pr", c.Number)
			continue
		}
		if !hasManifestChange(files) {
			e.log.Debug("candidate dropped, no manifest change", "repo", slug, "pr", c.Number)
			continue
		}
		valid = append(valid, c)
	}
	return valid, nil
}

func hasManifestChange(files []string) bool {
	for _, f := range files {
		for _, suffix := range manifestSuffixes {
			if strings.HasSuffix(f, suffix) {
				return true
			}
		}
	}
	return false
}
