// Package prefetch warms the artifact cache for configured remotes in the
// background, so the first ImportModule on a warm path pays no network cost.
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/federation_layer/internal/app/system"
	"github.com/R3E-Network/federation_layer/internal/runtime"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

var _ system.Service = (*Warmer)(nil)

// Warmer periodically prefetches the entry bundles of its configured
// containers. The cache is immutable, so repeat ticks after a successful
// warm are no-ops.
type Warmer struct {
	runtime  *runtime.Runtime
	log      *logger.Logger
	interval time.Duration
	names    []string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewWarmer constructs a lifecycle-managed cache warmer.
func NewWarmer(rt *runtime.Runtime, names []string, log *logger.Logger) *Warmer {
	if log == nil {
		log = logger.NewDefault("prefetch")
	}
	return &Warmer{
		runtime:  rt,
		log:      log,
		interval: 30 * time.Second,
		names:    names,
	}
}

// WithInterval overrides the tick interval.
func (w *Warmer) WithInterval(interval time.Duration) *Warmer {
	w.interval = interval
	return w
}

func (w *Warmer) Name() string { return "prefetch-warmer" }

func (w *Warmer) Start(ctx context.Context) error {
	w.mu.Lock()
	if len(w.names) == 0 {
		w.mu.Unlock()
		w.log.Warn("no remotes configured for prefetch; warmer disabled")
		return nil
	}
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.tick(runCtx)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.tick(runCtx)
			}
		}
	}()

	w.log.Infof("prefetch warmer started for %d remotes", len(w.names))
	return nil
}

func (w *Warmer) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.running = false
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.log.Info("prefetch warmer stopped")
	return nil
}

func (w *Warmer) tick(ctx context.Context) {
	for _, name := range w.names {
		if err := w.runtime.Prefetch(ctx, name); err != nil {
			w.log.WithError(err).Warnf("prefetch %s failed", name)
		}
	}
}
