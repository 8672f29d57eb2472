package repair

import (
	"context"
	"regexp"
	"strings"

	vcsurl "github.com/gitsight/go-vcsurl"

	"github.com/osvlab/repairtrace/internal/logging"
)

// Registry looks up a crate's repository URL.
type Registry interface {
	RepositoryURL(ctx context.Context, crate string) (string, error)
}

// RepoResolver derives an owner/name slug for an event. Priority: the event's
// own repository URL, then a caller-supplied default, then a registry lookup
// by downstream crate name.
type RepoResolver struct {
	registry   Registry
	defaultURL string
	log        logging.Logger
}

func NewRepoResolver(registry Registry, defaultURL string, log logging.Logger) *RepoResolver {
	return &RepoResolver{registry: registry, defaultURL: defaultURL, log: log.WithName("resolver")}
}

// Resolve returns the repository slug and the URL it came from, or ok=false
// when no repository can be determined for the event.
func (r *RepoResolver) Resolve(ctx context.Context, ev Event) (slug, repoURL string, ok bool) {
	repoURL = ev.RepoURL
	if repoURL == "" {
		repoURL = r.defaultURL
	}
	if repoURL == "" && r.registry != nil {
		url, err := r.registry.RepositoryURL(ctx, ev.DownstreamCrate)
		if err != nil {
			r.log.Error(err, "registry lookup failed", "crate", ev.DownstreamCrate)
			return "", "", false
		}
		repoURL = url
	}
	slug, ok = ParseRepoSlug(repoURL)
	if !ok {
		return "", "", false
	}
	return slug, repoURL, true
}

// Covers web and API hosts, ssh remotes, and a trailing ".git" suffix.
var githubPattern = regexp.MustCompile(`(?:api\.)?github\.com[:/](?:repos/)?([\w.-]+)/([\w.-]+)`)

// ParseRepoSlug extracts "owner/name" from a GitHub-style repository URL.
func ParseRepoSlug(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	if info, err := vcsurl.Parse(url); err == nil && info.Host == vcsurl.GitHub && info.FullName != "" {
		return info.FullName, true
	}
	m := githubPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1] + "/" + strings.TrimSuffix(m[2], ".git"), true
}
