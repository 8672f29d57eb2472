package repair

import (
	"strconv"
	"time"

	"github.com/osvlab/repairtrace/internal/gh"
)

// SearchStatus is the terminal outcome of processing one event.
type SearchStatus string

const (
	StatusFound       SearchStatus = "found"
	StatusNotFound    SearchStatus = "not_found_in_window"
	StatusFilteredOut SearchStatus = "candidates_filtered_out"
	StatusNoRepo      SearchStatus = "skipped_no_repo"
	StatusTimeError   SearchStatus = "error_time_parse"
)

// Complete reports whether a recorded status needs no re-run. Events that
// were skipped for a missing repository or a bad timestamp are retried.
func (s SearchStatus) Complete() bool {
	switch s {
	case StatusFound, StatusNotFound, StatusFilteredOut:
		return true
	}
	return false
}

// Result is one finished output row. It is assembled once through
// ResultBuilder and never mutated afterwards.
type Result struct {
	Event          Event
	RepoURL        string
	PRURL          string
	PRNumber       int
	PRTitle        string
	PRMergedAt     time.Time
	PRAuthor       string
	MergedBy       string
	AuthorIsBot    bool
	MergedByIsBot  bool
	Classification Classification
	CandidateCount int
	Status         SearchStatus
	MatchScore     int
	SnapshotPath   string
}

// ResultBuilder accumulates resolution stages into an immutable Result.
type ResultBuilder struct {
	r Result
}

func NewResultBuilder(ev Event) *ResultBuilder {
	return &ResultBuilder{r: Result{Event: ev, Classification: ClassUnknown}}
}

func (b *ResultBuilder) RepoURL(url string) *ResultBuilder {
	b.r.RepoURL = url
	return b
}

func (b *ResultBuilder) Candidates(n int) *ResultBuilder {
	b.r.CandidateCount = n
	return b
}

// Chosen records the selected candidate with its provisional merge time.
func (b *ResultBuilder) Chosen(c gh.Candidate, score int) *ResultBuilder {
	b.r.PRURL = c.HTMLURL
	b.r.PRNumber = c.Number
	b.r.PRTitle = c.Title
	b.r.PRAuthor = c.Author
	b.r.PRMergedAt = c.MergedAt
	b.r.MatchScore = score
	return b
}

// Merge overrides the merge facts with detail-fetched values.
func (b *ResultBuilder) Merge(mergedAt time.Time, mergedBy string) *ResultBuilder {
	b.r.PRMergedAt = mergedAt
	b.r.MergedBy = mergedBy
	return b
}

func (b *ResultBuilder) Classified(class Classification, authorBot, mergedBot bool) *ResultBuilder {
	b.r.Classification = class
	b.r.AuthorIsBot = authorBot
	b.r.MergedByIsBot = mergedBot
	return b
}

func (b *ResultBuilder) Snapshot(path string) *ResultBuilder {
	b.r.SnapshotPath = path
	return b
}

func (b *ResultBuilder) Build(status SearchStatus) Result {
	r := b.r
	r.Status = status
	return r
}

// OutputColumns is the fixed output table schema.
var OutputColumns = []string{
	"root_rustsec_id",
	"root_cve_id",
	"upstream_crate",
	"downstream_crate",
	"downstream_version",
	"upstream_fix_time",
	"downstream_fix_time",
	"repo_url",
	"pr_url",
	"pr_number",
	"pr_title",
	"pr_merged_at",
	"pr_author",
	"merged_by",
	"author_is_bot",
	"merged_by_is_bot",
	"classification",
	"candidate_count",
	"search_status",
	"match_score",
	"snapshot_path",
}

// Row renders the result in OutputColumns order. Fields that a status never
// produced are left empty rather than zero-filled.
func (r Result) Row() []string {
	row := []string{
		r.Event.RootID,
		r.Event.RootCVE,
		r.Event.UpstreamCrate,
		r.Event.DownstreamCrate,
		r.Event.DownstreamVersion,
		r.Event.UpstreamFixTime,
		r.Event.DownstreamFixTime,
		r.RepoURL,
	}
	if r.Status == StatusFound {
		mergedAt := ""
		if !r.PRMergedAt.IsZero() {
			mergedAt = r.PRMergedAt.UTC().Format(time.RFC3339)
		}
		row = append(row,
			r.PRURL,
			strconv.Itoa(r.PRNumber),
			r.PRTitle,
			mergedAt,
			r.PRAuthor,
			r.MergedBy,
			strconv.FormatBool(r.AuthorIsBot),
			strconv.FormatBool(r.MergedByIsBot),
		)
	} else {
		row = append(row, "", "", "", "", "", "", "", "")
	}
	row = append(row, string(r.Classification))
	if r.Status.Complete() {
		row = append(row, strconv.Itoa(r.CandidateCount))
	} else {
		row = append(row, "")
	}
	row = append(row, string(r.Status))
	if r.Status == StatusFound {
		row = append(row, strconv.Itoa(r.MatchScore))
	} else {
		row = append(row, "")
	}
	return append(row, r.SnapshotPath)
}
