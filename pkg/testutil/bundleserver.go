// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// BundleServer is a static bundle host for tests. It serves a fixed set of
// bundles by path and counts requests per path.
type BundleServer struct {
	*httptest.Server

	mu      sync.Mutex
	bundles map[string][]byte
	counts  map[string]int
}

// NewBundleServer serves the given bundles, keyed by request path
// (e.g. "/HelloRemote.container.js.bundle").
func NewBundleServer(bundles map[string][]byte) *BundleServer {
	s := &BundleServer{
		bundles: bundles,
		counts:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *BundleServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counts[r.URL.Path]++
	data, ok := s.bundles[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Write(data)
}

// SetBundle adds or replaces a served bundle.
func (s *BundleServer) SetBundle(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[path] = data
}

// Requests returns how many times a path was requested.
func (s *BundleServer) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

// TotalRequests returns the total request count across all paths.
func (s *BundleServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}
