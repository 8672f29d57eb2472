package registry

import (
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

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(cache.New(cache.NewMemStore(), false), time.Millisecond, logging.New(logr.Discard()))
	c.SetBaseURL(srv.URL)
	return c
}

func TestRepositoryURLCached(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"crate":{"name":"serde","repository":"https://github.com/serde-rs/serde"}}`)
	}))

	for i := 0; i < 3; i++ {
		url, err := c.RepositoryURL(t.Context(), "serde")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if url != "https://github.com/serde-rs/serde" {
			t.Fatalf("unexpected url %q", url)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one remote lookup, got %d", hits.Load())
	}
}

func TestNotFoundIsCached(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	for i := 0; i < 2; i++ {
		url, err := c.RepositoryURL(t.Context(), "no-such-crate")
		if err != nil || url != "" {
			t.Fatalf("expected empty url, got %q err=%v", url, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("not-found must be cached, got %d remote lookups", hits.Load())
	}
}

func TestServerErrorNotCached(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 2; i++ {
		url, err := c.RepositoryURL(t.Context(), "serde")
		if err != nil || url != "" {
			t.Fatalf("expected absorbed failure, got %q err=%v", url, err)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("transient failures must not be cached, got %d lookups", hits.Load())
	}
}

func TestEmptyCrateShortCircuits(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	if url, err := c.RepositoryURL(t.Context(), ""); err != nil || url != "" {
		t.Fatalf("expected empty result, got %q err=%v", url, err)
	}
}
