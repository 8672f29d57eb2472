package repair

import (
	"strings"
	"time"

	"github.com/osvlab/repairtrace/internal/gh"
)

var bumpKeywords = []string{"bump", "upgrade", "update"}

// Score rates how likely a candidate is the repair for the upstream crate.
// The signal is purely additive and case-insensitive: crate name in the title
// (+10) or body (+5), a dependency-bump keyword in the title (+3), a CVE
// mention (+4), and a proximity bonus of up to 5 that decays by one per hour
// between the merge and the recorded downstream fix. Without a merge time the
// bonus is zero.
func Score(c gh.Candidate, upstreamCrate string, downstreamFix time.Time) int {
	title := strings.ToLower(c.Title)
	body := strings.ToLower(c.Body)
	crate := strings.ToLower(upstreamCrate)

	score := 0
	if strings.Contains(title, crate) {
		score += 10
	}
	if strings.Contains(body, crate) {
		score += 5
	}
	for _, kw := range bumpKeywords {
		if strings.Contains(title, kw) {
			score += 3
			break
		}
	}
	if strings.Contains(title, "cve") || strings.Contains(body, "cve") {
		score += 4
	}
	if !c.MergedAt.IsZero() {
		hours := int(downstreamFix.Sub(c.MergedAt).Abs().Hours())
		if bonus := 5 - hours; bonus > 0 {
			score += bonus
		}
	}
	return score
}

// SelectBest returns the highest-scoring candidate. Ties keep the first
// candidate in input order; there is no secondary tie-break.
func SelectBest(cands []gh.Candidate, upstreamCrate string, downstreamFix time.Time) (gh.Candidate, int) {
	best := cands[0]
	bestScore := Score(best, upstreamCrate, downstreamFix)
	for _, c := range cands[1:] {
		if s := Score(c, upstreamCrate, downstreamFix); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}
