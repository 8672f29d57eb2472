package repair

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/osvlab/repairtrace/internal/cache"
	"github.com/osvlab/repairtrace/internal/gh"
	"github.com/osvlab/repairtrace/internal/logging"
)

// ProcessorConfig carries the batch-level knobs.
type ProcessorConfig struct {
	OutputPath  string
	SnapshotDir string
	// Limit stops after N processed events; zero means no limit.
	Limit int
	// Force ignores any prior output and rewrites it from scratch.
	Force bool
}

// Processor drives the per-event state machine and persists one output row
// per event, flushed immediately so an interrupted run loses at most the row
// in flight. Re-runs skip events whose recorded status is complete.
type Processor struct {
	client     GitHubClient
	resolver   *RepoResolver
	engine     *SearchEngine
	classifier Classifier
	cfg        ProcessorConfig
	log        logging.Logger
}

func NewProcessor(client GitHubClient, resolver *RepoResolver, classifier Classifier, cfg ProcessorConfig, log logging.Logger) *Processor {
	return &Processor{
		client:     client,
		resolver:   resolver,
		engine:     NewSearchEngine(client, log),
		classifier: classifier,
		cfg:        cfg,
		log:        log.WithName("processor"),
	}
}

// Run processes the events sequentially. It returns an error only for fatal
// conditions (bad credentials, local I/O failure, cancellation); every other
// outcome is recorded as a terminal row and the batch continues.
func (p *Processor) Run(ctx context.Context, events []Event) error {
	completed := map[string]bool{}
	if !p.cfg.Force {
		var keep int64
		var err error
		completed, keep, err = readCompletedKeys(p.cfg.OutputPath)
		if err != nil {
			return err
		}
		if keep >= 0 {
			// A crash mid-write left a torn trailing row; cut it off so the
			// append below starts at the last complete row and the torn
			// event gets processed again.
			if err := os.Truncate(p.cfg.OutputPath, keep); err != nil {
				return fmt.Errorf("drop torn output row: %w", err)
			}
			p.log.Info("dropped torn trailing row", "output", p.cfg.OutputPath)
		}
		if len(completed) > 0 {
			p.log.Info("resuming prior run", "completed", len(completed))
		}
	}

	f, writeHeader, err := openOutput(p.cfg.OutputPath, p.cfg.Force)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(OutputColumns); err != nil {
			return fmt.Errorf("write output header: %w", err)
		}
		w.Flush()
	}

	count := 0
	for _, ev := range events {
		if ev.HopDistance != "" && ev.HopDistance != "1" {
			continue
		}
		if completed[ev.Key()] {
			continue
		}
		if p.cfg.Limit > 0 && count >= p.cfg.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := p.processEvent(ctx, ev)
		if err != nil {
			return err
		}
		if err := w.Write(res.Row()); err != nil {
			return fmt.Errorf("write output row: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}
		count++
		p.log.Info("event processed",
			"done", count, "total", len(events),
			"event", ev.Key(),
			"status", res.Status, "classification", res.Classification)
	}

	p.log.Info("batch complete", "processed", count)
	return nil
}

func (p *Processor) processEvent(ctx context.Context, ev Event) (Result, error) {
	b := NewResultBuilder(ev)

	slug, repoURL, ok := p.resolver.Resolve(ctx, ev)
	if !ok {
		p.log.Info("no repository resolved", "event", ev.Key())
		return b.Build(StatusNoRepo), nil
	}
	b.RepoURL(repoURL)

	upstreamFix, errUp := ParseTime(ev.UpstreamFixTime)
	downstreamFix, errDown := ParseTime(ev.DownstreamFixTime)
	if errUp != nil || errDown != nil {
		p.log.Info("unparseable fix time", "event", ev.Key())
		return b.Build(StatusTimeError), nil
	}

	start, end := p.engine.Window(upstreamFix, downstreamFix)
	cands, err := p.engine.Search(ctx, slug, start, end)
	if err != nil {
		return Result{}, err
	}
	p.log.Info("window searched", "repo", slug, "candidates", len(cands))
	if len(cands) == 0 {
		return b.Candidates(0).Classified(ClassDirect, false, false).Build(StatusNotFound), nil
	}

	valid, err := p.engine.FilterManifest(ctx, slug, cands)
	if err != nil {
		return Result{}, err
	}
	p.log.Info("candidates filtered", "repo", slug, "valid", len(valid))
	if len(valid) == 0 {
		return b.Candidates(0).Classified(ClassDirect, false, false).Build(StatusFilteredOut), nil
	}

	best, score := SelectBest(valid, ev.UpstreamCrate, downstreamFix)
	detail, err := p.client.PRDetail(ctx, slug, best.Number)
	if err != nil {
		return Result{}, err
	}

	// Prefer the authoritative merge time from the detail fetch; fall back to
	// the provisional search-result value.
	mergedAt := best.MergedAt
	mergedBy := ""
	if detail != nil {
		mergedBy = detail.MergedBy
		if !detail.MergedAt.IsZero() {
			mergedAt = detail.MergedAt
		}
	}

	class, authorBot, mergedBot := p.classifier.Classify(best.Author, mergedBy)
	snapPath, err := p.writeSnapshot(ev, slug, start, end, valid, best, detail)
	if err != nil {
		return Result{}, err
	}
	p.log.Info("repair pr classified",
		"repo", slug, "pr", best.Number, "score", score, "classification", class)

	return b.Candidates(len(valid)).
		Chosen(best, score).
		Merge(mergedAt, mergedBy).
		Classified(class, authorBot, mergedBot).
		Snapshot(snapPath).
		Build(StatusFound), nil
}

// snapshot is the evidentiary record behind one found result.
type snapshot struct {
	Window       [2]string      `json:"window"`
	RepoSlug     string         `json:"repo_slug"`
	Candidates   []gh.Candidate `json:"candidates"`
	ChosenPR     gh.Candidate   `json:"chosen_pr"`
	ChosenDetail *gh.Detail     `json:"chosen_detail"`
}

func (p *Processor) writeSnapshot(ev Event, slug string, start, end time.Time, valid []gh.Candidate, best gh.Candidate, detail *gh.Detail) (string, error) {
	snap := snapshot{
		Window:       [2]string{start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)},
		RepoSlug:     slug,
		Candidates:   valid,
		ChosenPR:     best,
		ChosenDetail: detail,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	path := filepath.Join(p.cfg.SnapshotDir, cache.SanitizeKey(ev.Key())+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

func openOutput(path string, force bool) (*os.File, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create output dir: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("stat output: %w", err)
	}
	return f, info.Size() == 0, nil
}

// readCompletedKeys collects the keys of events whose recorded status is
// complete. A missing output file means a fresh run. When the file ends in a
// torn row from an interrupted write, the second return value is the byte
// offset of the valid prefix to truncate to; -1 means the file is intact.
func readCompletedKeys(path string) (map[string]bool, int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]bool{}, -1, nil
	}
	if err != nil {
		return nil, -1, fmt.Errorf("open prior output: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return map[string]bool{}, -1, nil
	}
	if err != nil {
		return nil, -1, fmt.Errorf("read prior output header: %w", err)
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

	completed := map[string]bool{}
	good := reader.InputOffset()
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			// Only a torn final row is tolerated; a malformed row with
			// complete rows after it is real corruption.
			if _, nerr := reader.Read(); nerr == io.EOF {
				return completed, good, nil
			}
			return nil, -1, fmt.Errorf("read prior output row: %w", err)
		}
		if err != nil {
			return nil, -1, fmt.Errorf("read prior output row: %w", err)
		}
		good = reader.InputOffset()
		if !SearchStatus(field(record, "search_status")).Complete() {
			continue
		}
		key := field(record, "root_rustsec_id") + "|" +
			field(record, "downstream_crate") + "|" +
			field(record, "downstream_version")
		completed[key] = true
	}
	return completed, -1, nil
}
