package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/federation_layer/internal/config"
	"github.com/R3E-Network/federation_layer/internal/runtime"
	"github.com/R3E-Network/federation_layer/pkg/testutil"
)

const remoteBundle = `
__federation.register("HelloRemote", {
	"./App": function() { return { name: "App" }; },
});
`

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.HTTP.Addr = ""
	cfg.Fetch.MaxAttempts = 1
	cfg.Fetch.RetryBackoff = config.Duration(time.Millisecond)
	cfg.Remotes = []config.RemoteConfig{
		{Name: "HelloRemote", BaseURL: baseURL},
	}
	return cfg
}

func TestApplication_BootstrapThenImport(t *testing.T) {
	srv := testutil.NewBundleServer(map[string][]byte{
		"/HelloRemote.container.js.bundle": []byte(remoteBundle),
	})
	defer srv.Close()

	a, err := New(testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := a.Runtime.ImportModule(ctx, "HelloRemote", "./App", ""); !errors.Is(err, runtime.ErrImportBeforeSeal) {
		t.Fatalf("import before bootstrap: err = %v, want ErrImportBeforeSeal", err)
	}

	platform := runtime.PlatformImplementation{OS: "ios", Version: "17.0"}
	if err := a.Bootstrap(ctx, platform); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	handle, err := a.Runtime.ImportModule(ctx, "HelloRemote", "./App", "")
	if err != nil {
		t.Fatalf("ImportModule: %v", err)
	}
	if handle.Value == nil {
		t.Fatal("handle has no value")
	}
}

func TestApplication_BootstrapRegistersSharedFromConfig(t *testing.T) {
	cfg := testConfig("https://cdn.example")
	cfg.Shared = []config.SharedConfig{
		{Name: "react", Version: "18.2.0", Singleton: true},
	}

	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Bootstrap(context.Background(), runtime.PlatformImplementation{OS: "ios", Version: "17.0"}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if _, err := a.Runtime.Shared().Resolve("react", "18.0.0"); err != nil {
		t.Fatalf("Resolve shared: %v", err)
	}
	if !a.Runtime.Shared().Sealed() {
		t.Fatal("shared scope not sealed after bootstrap")
	}
}

func TestApplication_StartStop(t *testing.T) {
	a, err := New(testConfig("https://cdn.example"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("https://cdn.example")
	cfg.Remotes = append(cfg.Remotes, config.RemoteConfig{Name: "HelloRemote", BaseURL: "https://other.example"})

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected duplicate remote names to be rejected")
	}
}
