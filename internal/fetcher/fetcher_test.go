package fetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		RetryBackoff:   5 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}
}

func TestFetch_CachesBytes(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("bundle-bytes"))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	url := srv.URL + "/HelloRemote.container.js.bundle"

	first, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("cache returned different bytes")
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("expected 1 network request, got %d", got)
	}
	if !f.Cached(url) {
		t.Fatalf("expected cache entry for %s", url)
	}
}

func TestFetch_ConcurrentCallersCoalesce(t *testing.T) {
	var requests atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	url := srv.URL + "/chunk.index.bundle"

	const callers = 16
	results := make([][]byte, callers)
	errs := make([]error, callers)

	var started, finished sync.WaitGroup
	started.Add(callers)
	finished.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer finished.Done()
			started.Done()
			results[i], errs[i] = f.Fetch(context.Background(), url)
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond) // let all callers reach the pending map
	close(release)
	finished.Wait()

	if got := requests.Load(); got != 1 {
		t.Fatalf("expected exactly 1 network request, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], []byte("shared")) {
			t.Fatalf("caller %d received %q", i, results[i])
		}
	}
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	url := srv.URL + "/flaky.index.bundle"

	data, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "eventually" {
		t.Fatalf("data = %q", data)
	}
	if got := requests.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	// Success after retries is indistinguishable from immediate success: the
	// cache holds exactly one entry and no further requests happen.
	again, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if string(again) != "eventually" {
		t.Fatalf("cached data = %q", again)
	}
	if got := requests.Load(); got != 3 {
		t.Fatalf("cached fetch issued network request (total %d)", got)
	}
}

func TestFetch_TerminalFailureAllowsFreshRetry(t *testing.T) {
	var requests atomic.Int64
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	url := srv.URL + "/down.index.bundle"

	_, err := f.Fetch(context.Background(), url)
	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("err = %v, want fetch failure", err)
	}
	if got := requests.Load(); got != 3 {
		t.Fatalf("expected 3 attempts before terminal failure, got %d", got)
	}
	if f.Cached(url) {
		t.Fatalf("failed fetch must not populate the cache")
	}

	// The pending entry is gone, so a future call starts fresh.
	healthy.Store(true)
	data, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("fresh retry: %v", err)
	}
	if string(data) != "recovered" {
		t.Fatalf("data = %q", data)
	}
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.index.bundle")
	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("err = %v, want fetch failure", err)
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", got)
	}
}

func TestInvalidate(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("v" + r.URL.Query().Get("n")))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	url := srv.URL + "/app.index.bundle"

	if _, err := f.Fetch(context.Background(), url); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	f.Invalidate(url)
	if f.Cached(url) {
		t.Fatalf("entry survived invalidation")
	}
	if _, err := f.Fetch(context.Background(), url); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("expected refetch after invalidation, got %d requests", got)
	}
}

func TestPrefetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("warm"))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	url := srv.URL + "/warm.container.js.bundle"
	if err := f.Prefetch(context.Background(), url); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if !f.Cached(url) {
		t.Fatalf("prefetch did not warm the cache")
	}
}
