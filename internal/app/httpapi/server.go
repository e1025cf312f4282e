// Package httpapi hosts the development HTTP surface: health, metrics, and
// an optional static bundle directory for running against local remotes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/R3E-Network/federation_layer/internal/app/metrics"
	"github.com/R3E-Network/federation_layer/internal/app/system"
	"github.com/R3E-Network/federation_layer/internal/config"
	"github.com/R3E-Network/federation_layer/internal/runtime"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

var _ system.Service = (*Server)(nil)

// Server is the lifecycle-managed HTTP service.
type Server struct {
	cfg     config.HTTPConfig
	log     *logger.Logger
	runtime *runtime.Runtime
	srv     *http.Server
}

// NewServer wires the router. The runtime is consulted for container state
// on the status endpoint; it may be nil in tests that only exercise health.
func NewServer(cfg config.HTTPConfig, rt *runtime.Runtime, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	s := &Server{
		cfg:     cfg,
		log:     log,
		runtime: rt,
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Name() string { return "http-api" }

// Handler exposes the router for httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/containers/{name}/state", s.handleContainerState)

	r.Mount("/metrics", metrics.Handler())
	if s.cfg.BundleDir != "" {
		fs := http.StripPrefix("/bundles/", http.FileServer(http.Dir(s.cfg.BundleDir)))
		r.Handle("/bundles/*", fs)
	}
	return r
}

func (s *Server) handleContainerState(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		http.Error(w, "runtime not attached", http.StatusServiceUnavailable)
		return
	}
	name := chi.URLParam(r, "name")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(string(s.runtime.ContainerState(name))))
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Infof("http server listening on %s", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server terminated")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
