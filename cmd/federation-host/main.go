// Command federation-host runs the host shell: it loads configuration,
// bootstraps the federation runtime, and serves the development HTTP surface
// until interrupted.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/federation_layer/internal/app"
	"github.com/R3E-Network/federation_layer/internal/config"
	"github.com/R3E-Network/federation_layer/internal/runtime"
	"github.com/R3E-Network/federation_layer/internal/transformer"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

func main() {
	// A missing .env file is fine; explicit env vars win either way.
	_ = godotenv.Load()

	env, err := config.EnvFromProcess()
	if err != nil {
		log.Fatalf("read environment: %v", err)
	}
	if env.EnvFile != "" {
		if err := godotenv.Load(env.EnvFile); err != nil {
			log.Fatalf("load env file %s: %v", env.EnvFile, err)
		}
	}

	cfg, err := config.LoadOrDefault(env.ConfigPath)
	if err != nil {
		log.Fatalf("load config %s: %v", env.ConfigPath, err)
	}
	cfg.ApplyEnv(env)

	logg := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("component", "federation-host")

	application, err := app.New(cfg, logg)
	if err != nil {
		logg.Fatalf("build application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	platform := transformer.Platform(env.Platform)
	impl := runtime.PlatformImplementation{
		OS:           platform.OSName(),
		Version:      platform.OSVersion(),
		DevServerURL: platform.DevServerURL(),
	}
	if err := application.Bootstrap(ctx, impl); err != nil {
		logg.Fatalf("bootstrap: %v", err)
	}

	if err := application.Start(ctx); err != nil {
		logg.Fatalf("start services: %v", err)
	}
	logg.Infof("federation host %s running", cfg.Host.Name)

	<-ctx.Done()
	stop()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logg.WithError(err).Error("shutdown incomplete")
	}
}
