package repair

import (
	"testing"
	"time"

	"github.com/osvlab/repairtrace/internal/gh"
)

var fixTime = time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScoreTitleBeatsBody(t *testing.T) {
	inTitle := gh.Candidate{Number: 1, Title: "Bump serde to 1.0.100"}
	inBody := gh.Candidate{Number: 2, Title: "Bump deps", Body: "serde advisory"}

	st := Score(inTitle, "serde", fixTime)
	sb := Score(inBody, "serde", fixTime)
	if st <= sb {
		t.Fatalf("title match (%d) must score strictly higher than body match (%d)", st, sb)
	}
}

func TestScoreSignals(t *testing.T) {
	tests := []struct {
		name string
		c    gh.Candidate
		want int
	}{
		{"crate in title plus bump keyword", gh.Candidate{Title: "Bump serde"}, 13},
		{"crate in body only", gh.Candidate{Title: "deps", Body: "updates serde"}, 5},
		{"cve mention", gh.Candidate{Title: "fix CVE-2020-1234"}, 4},
		{"upgrade keyword only", gh.Candidate{Title: "upgrade tokio"}, 3},
		{"everything", gh.Candidate{Title: "Bump serde for CVE", Body: "serde fix"}, 22},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.c, "serde", fixTime); got != tt.want {
				t.Fatalf("Score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreProximityBonus(t *testing.T) {
	base := gh.Candidate{Title: "no signals here"}

	near := base
	near.MergedAt = fixTime.Add(-30 * time.Minute)
	if got := Score(near, "zzz", fixTime); got != 5 {
		t.Fatalf("merge within the hour should earn 5, got %d", got)
	}

	threeHours := base
	threeHours.MergedAt = fixTime.Add(3*time.Hour + 10*time.Minute)
	if got := Score(threeHours, "zzz", fixTime); got != 2 {
		t.Fatalf("merge three hours out should earn 2, got %d", got)
	}

	far := base
	far.MergedAt = fixTime.Add(-48 * time.Hour)
	if got := Score(far, "zzz", fixTime); got != 0 {
		t.Fatalf("distant merge earns nothing, got %d", got)
	}

	if got := Score(base, "zzz", fixTime); got != 0 {
		t.Fatalf("missing merge time earns nothing, got %d", got)
	}
}

func TestSelectBestStableOnTies(t *testing.T) {
	a := gh.Candidate{Number: 1, Title: "Bump serde"}
	b := gh.Candidate{Number: 2, Title: "Bump serde"}

	best, score := SelectBest([]gh.Candidate{a, b}, "serde", fixTime)
	if best.Number != 1 {
		t.Fatalf("tie must keep first candidate, got #%d", best.Number)
	}
	if score != Score(a, "serde", fixTime) {
		t.Fatalf("unexpected score %d", score)
	}
}

func TestSelectBestPicksHighest(t *testing.T) {
	weak := gh.Candidate{Number: 1, Title: "docs"}
	strong := gh.Candidate{Number: 2, Title: "Bump serde to fix CVE"}

	best, _ := SelectBest([]gh.Candidate{weak, strong}, "serde", fixTime)
	if best.Number != 2 {
		t.Fatalf("expected strongest candidate, got #%d", best.Number)
	}
}
