package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/R3E-Network/federation_layer/internal/app/metrics"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

// DefaultEvalTimeout bounds how long a single bundle evaluation may hold the
// engine before it is interrupted.
const DefaultEvalTimeout = 30 * time.Second

// PlatformImplementation is the real platform-introspection backing installed
// by host bootstrap. Until it is installed, shimmed bundles see build-time
// placeholder values.
type PlatformImplementation struct {
	OS           string
	Version      string
	TestMode     bool
	DevServerURL string
}

// Engine confines a goja runtime to one evaluation at a time. Module
// evaluation is synchronous and blocks the engine for its duration; network
// I/O never runs under the engine lock.
type Engine struct {
	mu          sync.Mutex
	vm          *goja.Runtime
	log         *logger.Logger
	evalTimeout time.Duration
	upgraded    bool

	// depth counts nested evaluations on the evaluation goroutine. Chunk
	// loads evaluate re-entrantly, and only the outermost frame may clear
	// the interrupt flag: an inner frame clearing it would disarm an outer
	// watchdog that already fired.
	depth int
}

// NewEngine creates a script engine with a fresh goja runtime.
func NewEngine(evalTimeout time.Duration, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	if evalTimeout <= 0 {
		evalTimeout = DefaultEvalTimeout
	}
	return &Engine{
		vm:          goja.New(),
		log:         log,
		evalTimeout: evalTimeout,
	}
}

// Evaluate runs a bundle's top-level code. The evaluation is interrupted if
// the context is cancelled or the configured timeout elapses.
func (e *Engine) Evaluate(ctx context.Context, name string, src []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runLocked(ctx, name, src)
}

// runLocked evaluates with the engine lock already held. Bridge callbacks
// running on the evaluation goroutine use it to load dependent chunks.
func (e *Engine) runLocked(ctx context.Context, name string, src []byte) error {
	timeout := e.evalTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	e.depth++
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			e.vm.Interrupt("evaluation timeout")
		case <-ctx.Done():
			e.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()
	defer func() {
		close(done)
		e.depth--
		if e.depth == 0 {
			e.vm.ClearInterrupt()
		}
	}()

	start := time.Now()
	_, err := e.vm.RunScript(name, string(src))
	metrics.ObserveEvaluation(time.Since(start))
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", name, err)
	}
	e.log.WithField("bundle", name).Debugf("evaluated in %s", time.Since(start))
	return nil
}

// Do runs fn with exclusive access to the goja runtime.
func (e *Engine) Do(fn func(vm *goja.Runtime) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.vm)
}

// UpgradePlatform installs the real platform implementation behind the
// introspection shim. The shims embedded in every artifact check this
// backing reference first, so every access before and after the upgrade
// resolves through the same indirection. The upgrade happens exactly once.
func (e *Engine) UpgradePlatform(impl PlatformImplementation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.upgraded {
		return fmt.Errorf("platform implementation already installed")
	}

	backing := e.vm.NewObject()
	if err := backing.Set("OS", impl.OS); err != nil {
		return fmt.Errorf("install platform backing: %w", err)
	}
	if err := backing.Set("Version", impl.Version); err != nil {
		return fmt.Errorf("install platform backing: %w", err)
	}
	if err := backing.Set("isTesting", impl.TestMode); err != nil {
		return fmt.Errorf("install platform backing: %w", err)
	}
	if err := backing.Set("devServer", impl.DevServerURL); err != nil {
		return fmt.Errorf("install platform backing: %w", err)
	}
	if err := e.vm.GlobalObject().Set("__platformImpl", backing); err != nil {
		return fmt.Errorf("install platform backing: %w", err)
	}

	e.upgraded = true
	e.log.WithField("os", impl.OS).Info("platform introspection upgraded")
	return nil
}
