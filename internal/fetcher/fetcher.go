// Package fetcher retrieves and caches compiled bundle artifacts.
//
// The cache is immutable for the process lifetime: remote artifacts are
// explicitly versioned, so entries are never evicted implicitly. Concurrent
// callers for the same URL coalesce onto a single in-flight request.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/federation_layer/internal/app/metrics"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

// ErrFetchFailure is the terminal error after the retry budget is exhausted.
var ErrFetchFailure = errors.New("fetch failure")

// maxArtifactSize caps how much of a response body is read. Bundles beyond
// this size indicate a broken build, not a bigger app.
const maxArtifactSize = 64 << 20

// Config configures a Fetcher.
type Config struct {
	MaxAttempts    int           // network attempts per fetch, default 3
	RetryBackoff   time.Duration // base backoff, doubled per attempt, default 250ms
	RequestTimeout time.Duration // per-attempt timeout, default 15s
	RatePerSecond  float64       // outbound request rate cap, 0 = unlimited
}

// Fetcher downloads artifacts over HTTP(S) with bounded retries and caches
// the bytes by resolved URL.
type Fetcher struct {
	client      *http.Client
	log         *logger.Logger
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	mu      chanMutex
	cache   map[string][]byte
	pending map[string]*inflight
}

// chanMutex is a channel-based mutex so cache lookups can honor context
// cancellation while a fetch is pending.
type chanMutex chan struct{}

func (m chanMutex) lock()   { m <- struct{}{} }
func (m chanMutex) unlock() { <-m }

// inflight tracks one pending network request. data and err are written
// exactly once, before done is closed.
type inflight struct {
	done chan struct{}
	data []byte
	err  error
}

// New constructs a Fetcher. A nil logger falls back to a component default.
func New(cfg Config, log *logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NewDefault("fetcher")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Fetcher{
		client:      &http.Client{Timeout: cfg.RequestTimeout},
		log:         log,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		timeout:     cfg.RequestTimeout,
		mu:          make(chanMutex, 1),
		cache:       make(map[string][]byte),
		pending:     make(map[string]*inflight),
	}
}

// Prefetch warms the cache for a resolved URL, discarding the bytes.
func (f *Fetcher) Prefetch(ctx context.Context, url string) error {
	_, err := f.Fetch(ctx, url)
	return err
}

// Fetch returns the artifact bytes for a resolved URL.
//
// The first caller for a URL issues one network request; callers arriving
// before it settles attach to the same in-flight request and receive
// identical bytes. A terminal failure removes the pending entry so a later
// call retries fresh.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.lock()
	if data, ok := f.cache[url]; ok {
		f.mu.unlock()
		metrics.CacheHit()
		return data, nil
	}
	if fl, ok := f.pending[url]; ok {
		f.mu.unlock()
		select {
		case <-fl.done:
			return fl.data, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	metrics.CacheMiss()
	fl := &inflight{done: make(chan struct{})}
	f.pending[url] = fl
	f.mu.unlock()

	metrics.FetchStarted()
	start := time.Now()
	data, err := f.download(ctx, url)
	metrics.FetchSettled()

	f.mu.lock()
	if err == nil {
		f.cache[url] = data
		metrics.ObserveFetch(time.Since(start))
	}
	delete(f.pending, url)
	f.mu.unlock()

	fl.data, fl.err = data, err
	close(fl.done)

	return data, err
}

// Cached reports whether the URL already has an immutable cache entry.
func (f *Fetcher) Cached(url string) bool {
	f.mu.lock()
	defer f.mu.unlock()
	_, ok := f.cache[url]
	return ok
}

// Invalidate drops the cache entry for a URL. Invalidation is explicit;
// nothing in the fetcher ever evicts on its own.
func (f *Fetcher) Invalidate(url string) {
	f.mu.lock()
	defer f.mu.unlock()
	delete(f.cache, url)
}

// download runs the bounded retry loop for one URL.
func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := f.backoff << (attempt - 2)
			f.log.WithField("url", url).
				Debugf("retrying fetch in %s (attempt %d/%d)", wait, attempt, f.maxAttempts)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, retryable, err := f.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		metrics.FetchAttempt("error")
		if !retryable {
			break
		}
		f.log.WithError(err).WithField("url", url).
			Warnf("fetch attempt %d/%d failed", attempt, f.maxAttempts)
	}

	return nil, fmt.Errorf("fetch %s after %d attempts: %w: %v", url, f.maxAttempts, ErrFetchFailure, lastErr)
}

// attempt issues a single GET. The second return value reports whether the
// failure is worth retrying: transport errors and 5xx are, 4xx is not.
func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck
		return nil, retryable, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxArtifactSize {
		return nil, false, fmt.Errorf("artifact exceeds %d bytes", maxArtifactSize)
	}

	metrics.FetchAttempt("ok")
	return data, false, nil
}
