// Package repair resolves upstream vulnerability-fix events to the downstream
// pull requests that repaired them and classifies how each repair was made.
package repair

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Event is one hop=1 repair event read from the input table. Timestamps stay
// raw here; parsing failures surface later as a terminal status instead of
// rejecting the whole input.
type Event struct {
	RootID            string
	RootCVE           string
	UpstreamCrate     string
	DownstreamCrate   string
	DownstreamVersion string
	UpstreamFixTime   string
	DownstreamFixTime string
	RepoURL           string
	HopDistance       string
}

// Key uniquely identifies an event within a batch.
func (e Event) Key() string {
	return e.RootID + "|" + e.DownstreamCrate + "|" + e.DownstreamVersion
}

var requiredInputColumns = []string{
	"root_rustsec_id",
	"root_cve_id",
	"upstream_crate",
	"downstream_crate",
	"downstream_version",
	"upstream_fix_time",
}

// LoadEvents reads the input CSV. The downstream fix time may appear under
// either "downstream_fix_time" or the older "downstream_time" header.
func LoadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return readEvents(f)
}

func readEvents(r io.Reader) ([]Event, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read input header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, name := range requiredInputColumns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("input missing required column %q", name)
		}
	}
	if _, ok := idx["downstream_fix_time"]; !ok {
		if _, ok := idx["downstream_time"]; !ok {
			return nil, fmt.Errorf("input missing required column %q", "downstream_fix_time")
		}
	}

	field := func(record []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var events []Event
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input row: %w", err)
		}
		downstream := field(record, "downstream_fix_time")
		if downstream == "" {
			downstream = field(record, "downstream_time")
		}
		events = append(events, Event{
			RootID:            field(record, "root_rustsec_id"),
			RootCVE:           field(record, "root_cve_id"),
			UpstreamCrate:     field(record, "upstream_crate"),
			DownstreamCrate:   field(record, "downstream_crate"),
			DownstreamVersion: field(record, "downstream_version"),
			UpstreamFixTime:   field(record, "upstream_fix_time"),
			DownstreamFixTime: downstream,
			RepoURL:           field(record, "repo_url"),
			HopDistance:       field(record, "hop_distance"),
		})
	}
	return events, nil
}
