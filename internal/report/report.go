// Package report summarizes a finished resolution run. It consumes only the
// persisted output table and never participates in resolution itself.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/osvlab/repairtrace/internal/repair"
)

// AdvisoryStats aggregates the found repairs of one root advisory.
type AdvisoryStats struct {
	RootID string
	CVE    string
	Crate  string
	Fixed  int
	LagMin float64
	LagP50 float64
	LagAvg float64
	LagMax float64
}

// Aggregate is the whole-run summary.
type Aggregate struct {
	Rows            int
	Classifications map[string]int
	Statuses        map[string]int
	Advisories      []AdvisoryStats
}

type advisoryAccum struct {
	cve   string
	crate string
	lags  []float64
}

// Load reads the output table and computes the summary. Remediation lag is
// measured in days from the upstream fix to the merged repair PR; rows
// without a usable merge time still count toward the breakdowns.
func Load(path string) (*Aggregate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open output table: %w", err)
	}
	defer f.Close()
	return load(f)
}

func load(r io.Reader) (*Aggregate, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	field := func(record []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	agg := &Aggregate{
		Classifications: map[string]int{},
		Statuses:        map[string]int{},
	}
	accum := map[string]*advisoryAccum{}
	var order []string

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		agg.Rows++
		agg.Classifications[field(record, "classification")]++
		agg.Statuses[field(record, "search_status")]++

		if field(record, "search_status") != string(repair.StatusFound) {
			continue
		}
		rootID := field(record, "root_rustsec_id")
		a, ok := accum[rootID]
		if !ok {
			a = &advisoryAccum{
				cve:   field(record, "root_cve_id"),
				crate: field(record, "upstream_crate"),
			}
			accum[rootID] = a
			order = append(order, rootID)
		}

		upstream, errUp := repair.ParseTime(field(record, "upstream_fix_time"))
		merged, errMerged := repair.ParseTime(field(record, "pr_merged_at"))
		if errUp != nil || errMerged != nil {
			a.lags = append(a.lags, -1) // counted as fixed, excluded from lag stats
			continue
		}
		a.lags = append(a.lags, merged.Sub(upstream).Hours()/24)
	}

	for _, rootID := range order {
		a := accum[rootID]
		stats := AdvisoryStats{RootID: rootID, CVE: a.cve, Crate: a.crate, Fixed: len(a.lags)}
		var usable []float64
		for _, lag := range a.lags {
			if lag >= 0 {
				usable = append(usable, lag)
			}
		}
		if len(usable) > 0 {
			sort.Float64s(usable)
			stats.LagMin = usable[0]
			stats.LagMax = usable[len(usable)-1]
			stats.LagP50 = median(usable)
			stats.LagAvg = mean(usable)
		}
		agg.Advisories = append(agg.Advisories, stats)
	}
	return agg, nil
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Top returns up to n advisories ordered by median lag, slowest first.
func (a *Aggregate) Top(n int) []AdvisoryStats {
	advisories := make([]AdvisoryStats, len(a.Advisories))
	copy(advisories, a.Advisories)
	sort.SliceStable(advisories, func(i, j int) bool {
		return advisories[i].LagP50 > advisories[j].LagP50
	})
	if n > 0 && len(advisories) > n {
		advisories = advisories[:n]
	}
	return advisories
}

// Render prints the breakdown and per-advisory tables.
func Render(w io.Writer, agg *Aggregate, top int) error {
	fmt.Fprintf(w, "Processed rows: %d\n\n", agg.Rows)

	breakdown := tablewriter.NewWriter(w)
	breakdown.Header([]string{"Classification", "Count", "Status", "Count"})
	classes := sortedKeys(agg.Classifications)
	statuses := sortedKeys(agg.Statuses)
	var data [][]string
	for i := 0; i < len(classes) || i < len(statuses); i++ {
		row := []string{"", "", "", ""}
		if i < len(classes) {
			row[0] = classes[i]
			row[1] = strconv.Itoa(agg.Classifications[classes[i]])
		}
		if i < len(statuses) {
			row[2] = statuses[i]
			row[3] = strconv.Itoa(agg.Statuses[statuses[i]])
		}
		data = append(data, row)
	}
	if err := breakdown.Bulk(data); err != nil {
		return err
	}
	if err := breakdown.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	advisories := tablewriter.NewWriter(w)
	advisories.Header([]string{"RustSec", "CVE", "Crate", "Fixed", "Lag Min", "Lag P50", "Lag Avg", "Lag Max"})
	var advData [][]string
	for _, s := range agg.Top(top) {
		advData = append(advData, []string{
			s.RootID,
			s.CVE,
			s.Crate,
			strconv.Itoa(s.Fixed),
			fmt.Sprintf("%.1f", s.LagMin),
			fmt.Sprintf("%.1f", s.LagP50),
			fmt.Sprintf("%.1f", s.LagAvg),
			fmt.Sprintf("%.1f", s.LagMax),
		})
	}
	if err := advisories.Bulk(advData); err != nil {
		return err
	}
	return advisories.Render()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
