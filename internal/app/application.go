// Package app is the composition root. It wires the fetcher, the script
// engine, the federation runtime, and the lifecycle-managed services from a
// loaded configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/R3E-Network/federation_layer/internal/app/httpapi"
	"github.com/R3E-Network/federation_layer/internal/app/prefetch"
	"github.com/R3E-Network/federation_layer/internal/app/system"
	"github.com/R3E-Network/federation_layer/internal/config"
	"github.com/R3E-Network/federation_layer/internal/fetcher"
	"github.com/R3E-Network/federation_layer/internal/resolver"
	"github.com/R3E-Network/federation_layer/internal/runtime"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

// Application ties the federation runtime and its services together and
// manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	cfg     *config.Config

	Fetcher *fetcher.Fetcher
	Runtime *runtime.Runtime
}

// New builds a fully initialised application from the configuration. The
// runtime is not sealed; callers finish bootstrap with Bootstrap or by
// registering shared dependencies and sealing themselves.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	f := fetcher.New(fetcher.Config{
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		RetryBackoff:   time.Duration(cfg.Fetch.RetryBackoff),
		RequestTimeout: time.Duration(cfg.Fetch.RequestTimeout),
		RatePerSecond:  cfg.Fetch.RatePerSecond,
	}, log.WithField("component", "fetcher"))

	engine := runtime.NewEngine(time.Duration(cfg.Engine.EvalTimeout), log.WithField("component", "engine"))
	rt, err := runtime.New(engine, f, log.WithField("component", "runtime"))
	if err != nil {
		return nil, fmt.Errorf("build runtime: %w", err)
	}

	for _, remote := range cfg.Remotes {
		rt.AddResolver(resolver.New(remote.BaseURL, remote.Name).Resolve)
	}

	manager := system.NewManager()

	var warm []string
	for _, remote := range cfg.Remotes {
		if remote.Prefetch {
			warm = append(warm, remote.Name)
		}
	}
	if err := manager.Register(prefetch.NewWarmer(rt, warm, log.WithField("component", "prefetch"))); err != nil {
		return nil, fmt.Errorf("register prefetch warmer: %w", err)
	}

	if cfg.HTTP.Addr != "" {
		srv := httpapi.NewServer(cfg.HTTP, rt, log.WithField("component", "httpapi"))
		if err := manager.Register(srv); err != nil {
			return nil, fmt.Errorf("register http server: %w", err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		cfg:     cfg,
		Fetcher: f,
		Runtime: rt,
	}, nil
}

// Bootstrap completes host startup: it registers the configured shared
// dependencies, evaluates the host's own bundle if one is configured,
// upgrades the platform binding, and seals the shared scope. Remote imports
// are rejected until this has run.
func (a *Application) Bootstrap(ctx context.Context, platform runtime.PlatformImplementation) error {
	for _, dep := range a.cfg.Shared {
		err := a.Runtime.Shared().Register(runtime.SharedDependency{
			Name:      dep.Name,
			Version:   dep.Version,
			Singleton: dep.Singleton,
		})
		if err != nil {
			return fmt.Errorf("register shared %s: %w", dep.Name, err)
		}
	}

	if path := a.cfg.Host.BundlePath; path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read host bundle: %w", err)
		}
		if err := a.Runtime.EvaluateBundle(ctx, a.cfg.Host.Name, src); err != nil {
			return fmt.Errorf("evaluate host bundle: %w", err)
		}
	}

	if err := a.Runtime.Engine().UpgradePlatform(platform); err != nil {
		return fmt.Errorf("upgrade platform binding: %w", err)
	}

	a.Runtime.Seal()
	a.log.WithField("host", a.cfg.Host.Name).Info("host bootstrap complete")
	return nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
