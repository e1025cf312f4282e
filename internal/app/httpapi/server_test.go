package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/R3E-Network/federation_layer/internal/config"
	"github.com/R3E-Network/federation_layer/internal/fetcher"
	"github.com/R3E-Network/federation_layer/internal/runtime"
)

func newTestServer(t *testing.T, cfg config.HTTPConfig) *Server {
	t.Helper()
	f := fetcher.New(fetcher.Config{MaxAttempts: 1, RequestTimeout: time.Second}, nil)
	rt, err := runtime.New(runtime.NewEngine(time.Second, nil), f, nil)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	return NewServer(cfg, rt, nil)
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return rec, string(body)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, config.HTTPConfig{Addr: ":0"})
	rec, body := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body != "ok" {
		t.Fatalf("body = %q, want ok", body)
	}
}

func TestServer_ContainerState(t *testing.T) {
	s := newTestServer(t, config.HTTPConfig{Addr: ":0"})
	rec, body := get(t, s.Handler(), "/containers/HelloRemote/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body != string(runtime.StateUnregistered) {
		t.Fatalf("body = %q, want %q", body, runtime.StateUnregistered)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, config.HTTPConfig{Addr: ":0"})
	rec, _ := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServer_ServesBundleDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "HelloRemote.container.js.bundle"), []byte("bundle-bytes"), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	s := newTestServer(t, config.HTTPConfig{Addr: ":0", BundleDir: dir})
	rec, body := get(t, s.Handler(), "/bundles/HelloRemote.container.js.bundle")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body != "bundle-bytes" {
		t.Fatalf("body = %q", body)
	}
}

func TestServer_NoBundleDirNoRoute(t *testing.T) {
	s := newTestServer(t, config.HTTPConfig{Addr: ":0"})
	rec, _ := get(t, s.Handler(), "/bundles/anything")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
