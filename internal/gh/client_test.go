package gh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/osvlab/repairtrace/internal/cache"
	"github.com/osvlab/repairtrace/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("", cache.New(cache.NewMemStore(), false), Options{
		CoreInterval:   time.Millisecond,
		SearchInterval: time.Millisecond,
	}, logging.New(logr.Discard()))
	if err := c.SetBaseURL(srv.URL + "/"); err != nil {
		t.Fatalf("set base url: %v", err)
	}
	return c, srv
}

func TestSearchHitsCacheOnSecondCall(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"total_count":1,"items":[
			{"number":12,"title":"Bump serde to 1.0.100","body":"fixes advisory",
			 "html_url":"https://github.com/o/r/pull/12",
			 "user":{"login":"dependabot[bot]"},
			 "pull_request":{"merged_at":"2020-03-01T10:00:00Z"}}]}`)
	}))

	start := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC)

	ctx := t.Context()
	first, err := c.SearchMergedPRs(ctx, "o/r", start, end)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	second, err := c.SearchMergedPRs(ctx, "o/r", start, end)
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}

	if hits.Load() != 1 {
		t.Fatalf("expected one remote call, got %d", hits.Load())
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("unexpected candidate counts %d/%d", len(first), len(second))
	}
	got := second[0]
	if got.Number != 12 || got.Author != "dependabot[bot]" {
		t.Fatalf("unexpected candidate %+v", got)
	}
	if got.MergedAt.IsZero() {
		t.Fatal("provisional merge time missing")
	}
}

func TestCancelledSearchIsNotCached(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"total_count":1,"items":[{"number":12,"title":"Bump serde"}]}`)
	}))

	start := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := c.SearchMergedPRs(ctx, "o/r", start, end); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The interrupted call must not have memoized an empty window.
	cands, err := c.SearchMergedPRs(t.Context(), "o/r", start, end)
	if err != nil {
		t.Fatalf("search after cancel: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate after resume, got %d", len(cands))
	}
	if hits.Load() == 0 {
		t.Fatal("resumed search never reached the server")
	}
}

func TestCancelledFileListIsNotCached(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `[{"filename":"Cargo.lock"}]`)
	}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := c.PRFiles(ctx, "o/r", 7); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	files, err := c.PRFiles(t.Context(), "o/r", 7)
	if err != nil {
		t.Fatalf("files after cancel: %v", err)
	}
	if len(files) != 1 || files[0] != "Cargo.lock" {
		t.Fatalf("expected real file list after resume, got %v", files)
	}
}

func TestBadCredentialsIsFatal(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	}))

	_, err := c.SearchMergedPRs(t.Context(), "o/r", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestMissingFileListIsEmptyAndCached(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}))

	for i := 0; i < 2; i++ {
		files, err := c.PRFiles(t.Context(), "o/r", 7)
		if err != nil {
			t.Fatalf("files: %v", err)
		}
		if len(files) != 0 {
			t.Fatalf("expected empty file list, got %v", files)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("empty file list should be cached, got %d remote calls", hits.Load())
	}
}

func TestMissingDetailIsNotCached(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}))

	for i := 0; i < 2; i++ {
		detail, err := c.PRDetail(t.Context(), "o/r", 7)
		if err != nil {
			t.Fatalf("detail: %v", err)
		}
		if detail != nil {
			t.Fatalf("expected absent detail, got %+v", detail)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("absent detail must not be cached, got %d remote calls", hits.Load())
	}
}

func TestDetailRoundtrip(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":12,"merged_at":"2020-03-01T10:05:00Z","merged_by":{"login":"alice"}}`)
	}))

	detail, err := c.PRDetail(t.Context(), "o/r", 12)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail == nil || detail.MergedBy != "alice" || detail.MergedAt.IsZero() {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestSplitSlug(t *testing.T) {
	if _, _, err := splitSlug("no-slash"); err == nil {
		t.Fatal("expected error for malformed slug")
	}
	owner, repo, err := splitSlug("tokio-rs/tokio")
	if err != nil || owner != "tokio-rs" || repo != "tokio" {
		t.Fatalf("unexpected split %s/%s err=%v", owner, repo, err)
	}
}
