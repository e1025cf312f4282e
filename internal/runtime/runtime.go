// Package runtime implements the federation runtime: the container registry,
// the shared-dependency scope, and the import API the host composition layer
// consumes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/R3E-Network/federation_layer/internal/app/metrics"
	"github.com/R3E-Network/federation_layer/internal/fetcher"
	"github.com/R3E-Network/federation_layer/internal/resolver"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

var (
	// ErrContainerInitFailure marks a container that failed its first attempt
	// and its one permitted retry. All further imports fail immediately with
	// no network activity.
	ErrContainerInitFailure = errors.New("container init failure")

	// ErrImportBeforeSeal is raised when ImportModule is called before the
	// host finished registering its singleton shared dependencies. A remote's
	// entry code must never evaluate before that registration completes.
	ErrImportBeforeSeal = errors.New("import before host shared-dependency registration completed")

	// ErrUnknownExposedPath is raised for a path the container never exposed.
	ErrUnknownExposedPath = errors.New("unknown exposed path")

	// ErrUnknownExport is raised for a missing named export.
	ErrUnknownExport = errors.New("unknown export")
)

// ResolveFunc maps an identifier plus caller context to a location. A func
// declines an identifier by returning resolver.ErrUnresolvedIdentifier, which
// passes resolution to the next func in the chain.
type ResolveFunc func(identifier, caller string) (resolver.Location, error)

// Runtime owns the container registry and the shared-dependency scope. It is
// constructed once by the composition root; there are no package globals.
type Runtime struct {
	log     *logger.Logger
	engine  *Engine
	fetcher *fetcher.Fetcher
	shared  *SharedScope

	mu         sync.Mutex
	resolvers  []ResolveFunc
	containers map[string]*Container
	sealed     bool
}

// New constructs a runtime and installs the federation bridge into the
// engine's global scope.
func New(engine *Engine, f *fetcher.Fetcher, log *logger.Logger) (*Runtime, error) {
	if log == nil {
		log = logger.NewDefault("federation")
	}
	rt := &Runtime{
		log:        log,
		engine:     engine,
		fetcher:    f,
		shared:     NewSharedScope(),
		containers: make(map[string]*Container),
	}
	if err := rt.installBridge(); err != nil {
		return nil, fmt.Errorf("install federation bridge: %w", err)
	}
	return rt, nil
}

// installBridge exposes the registration and shared-dependency API to
// evaluated bundles under the __federation global.
func (r *Runtime) installBridge() error {
	return r.engine.Do(func(vm *goja.Runtime) error {
		bridge := vm.NewObject()
		if err := bridge.Set("register", r.jsRegister); err != nil {
			return err
		}
		if err := bridge.Set("registerShared", r.jsRegisterShared); err != nil {
			return err
		}
		if err := bridge.Set("shared", r.jsShared); err != nil {
			return err
		}
		if err := bridge.Set("loadChunk", r.jsLoadChunk); err != nil {
			return err
		}
		return vm.GlobalObject().Set("__federation", bridge)
	})
}

// Shared returns the shared-dependency scope for host-side registration.
func (r *Runtime) Shared() *SharedScope {
	return r.shared
}

// Engine returns the script engine, primarily for host bootstrap (platform
// upgrade) and tests.
func (r *Runtime) Engine() *Engine {
	return r.engine
}

// AddResolver appends a resolver to the resolution chain. Resolvers are
// consulted in registration order.
func (r *Runtime) AddResolver(fn ResolveFunc) {
	r.mu.Lock()
	r.resolvers = append(r.resolvers, fn)
	r.mu.Unlock()
}

// Seal marks host-side shared-dependency registration complete. ImportModule
// refuses to run until the runtime is sealed.
func (r *Runtime) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
	r.shared.seal()
}

// EvaluateBundle evaluates a bundle the host already holds, typically the
// host's own entry bundle during bootstrap, before sealing.
func (r *Runtime) EvaluateBundle(ctx context.Context, name string, src []byte) error {
	return r.engine.Evaluate(ctx, name, src)
}

// Prefetch resolves an identifier and warms the artifact cache without
// evaluating anything.
func (r *Runtime) Prefetch(ctx context.Context, identifier string) error {
	loc, err := r.resolve(identifier, "")
	if err != nil {
		return err
	}
	if !loc.ShouldFetch {
		return nil
	}
	return r.fetcher.Prefetch(ctx, loc.URL)
}

// InvalidateArtifact drops the cached bytes behind a resolved URL.
func (r *Runtime) InvalidateArtifact(url string) {
	r.fetcher.Invalidate(url)
}

// ContainerState reports the registry state for a container name.
func (r *Runtime) ContainerState(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[name]; ok {
		return c.state
	}
	return StateUnregistered
}

// ImportModule returns a handle for an exposed module of a remote container,
// initializing the container on first use.
//
// A Ready container serves handles from memoization with zero network
// activity. A failed container is granted exactly one retry; a second
// consecutive failure is permanent. One container's permanent failure never
// affects any other registry entry.
func (r *Runtime) ImportModule(ctx context.Context, container, path, exportName string) (Handle, error) {
	log := r.log.WithFields(map[string]any{
		"request_id": uuid.NewString(),
		"container":  container,
		"path":       path,
	})

	r.mu.Lock()
	if !r.sealed {
		r.mu.Unlock()
		return Handle{}, fmt.Errorf("import %s/%s: %w", container, path, ErrImportBeforeSeal)
	}
	c, ok := r.containers[container]
	if !ok {
		c = newContainer(container)
		r.containers[container] = c
	}

	for {
		switch c.state {
		case StateReady:
			key := handleKey(path, exportName)
			if h, ok := c.handles[key]; ok {
				r.mu.Unlock()
				return h, nil
			}
			factory, ok := c.exposes[path]
			r.mu.Unlock()
			if !ok {
				return Handle{}, fmt.Errorf("container %s: %q: %w", container, path, ErrUnknownExposedPath)
			}
			value, err := r.instantiate(factory, exportName)
			if err != nil {
				return Handle{}, fmt.Errorf("container %s: instantiate %q: %w", container, path, err)
			}
			h := Handle{Container: container, Path: path, Export: exportName, Value: value}
			r.mu.Lock()
			c.handles[key] = h
			r.mu.Unlock()
			return h, nil

		case StateFailedPermanent:
			r.mu.Unlock()
			return Handle{}, fmt.Errorf("container %s: %w", container, ErrContainerInitFailure)

		case StateInitializing:
			done := c.initDone
			r.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return Handle{}, ctx.Err()
			}
			r.mu.Lock()

		default: // Unregistered or Failed (retry permitted)
			c.state = StateInitializing
			c.initDone = make(chan struct{})
			r.mu.Unlock()

			err := r.initialize(ctx, c, log)

			r.mu.Lock()
			if err != nil {
				c.failures++
				if c.failures >= maxInitFailures {
					c.state = StateFailedPermanent
					metrics.ContainerInit("failed_permanent")
					close(c.initDone)
					r.mu.Unlock()
					log.WithError(err).Error("container failed permanently")
					return Handle{}, fmt.Errorf("container %s: %w: %v", container, ErrContainerInitFailure, err)
				}
				c.state = StateFailed
				metrics.ContainerInit("failed")
				close(c.initDone)
				r.mu.Unlock()
				log.WithError(err).Warn("container init failed; one retry permitted")
				return Handle{}, fmt.Errorf("initialize container %s: %w", container, err)
			}
			c.state = StateReady
			c.failures = 0
			metrics.ContainerInit("ready")
			close(c.initDone)
			log.Infof("container %s ready", container)
		}
	}
}

// initialize resolves, fetches and evaluates a container's entry bundle and
// verifies the container registered itself.
func (r *Runtime) initialize(ctx context.Context, c *Container, log *logger.Logger) error {
	loc, err := r.resolve(c.Name, "")
	if err != nil {
		return err
	}

	if loc.ShouldFetch {
		data, err := r.fetcher.Fetch(ctx, loc.URL)
		if err != nil {
			return err
		}
		if err := r.engine.Evaluate(ctx, c.Name+".container.js.bundle", data); err != nil {
			return err
		}
	}

	r.mu.Lock()
	registered := c.exposes != nil
	r.mu.Unlock()
	if !registered {
		return fmt.Errorf("container %s evaluated but never registered", c.Name)
	}
	log.Debugf("container entry evaluated from %s", loc.URL)
	return nil
}

// resolve validates an identifier and walks the resolver chain.
func (r *Runtime) resolve(identifier, caller string) (resolver.Location, error) {
	if err := resolver.Validate(identifier); err != nil {
		return resolver.Location{}, err
	}

	r.mu.Lock()
	chain := make([]ResolveFunc, len(r.resolvers))
	copy(chain, r.resolvers)
	r.mu.Unlock()

	for _, fn := range chain {
		loc, err := fn(identifier, caller)
		if err == nil {
			return loc, nil
		}
		if errors.Is(err, resolver.ErrUnresolvedIdentifier) {
			continue
		}
		return resolver.Location{}, err
	}
	return resolver.Location{}, fmt.Errorf("identifier %q: %w", identifier, resolver.ErrUnresolvedIdentifier)
}

// instantiate calls an exposed module's factory under the engine lock and
// optionally projects a named export.
func (r *Runtime) instantiate(factory goja.Callable, exportName string) (goja.Value, error) {
	var value goja.Value
	err := r.engine.Do(func(vm *goja.Runtime) error {
		v, err := factory(goja.Undefined())
		if err != nil {
			return fmt.Errorf("module factory: %w", err)
		}
		if exportName != "" {
			if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
				return fmt.Errorf("%q: %w", exportName, ErrUnknownExport)
			}
			ev := v.ToObject(vm).Get(exportName)
			if ev == nil || goja.IsUndefined(ev) {
				return fmt.Errorf("%q: %w", exportName, ErrUnknownExport)
			}
			v = ev
		}
		value = v
		return nil
	})
	return value, err
}

// jsRegister is the bridge call a container's entry bundle makes to expose
// its modules: __federation.register(name, { "./App": factory, ... }).
func (r *Runtime) jsRegister(name string, exposes *goja.Object) error {
	if name == "" {
		return fmt.Errorf("container registration requires a name")
	}
	if exposes == nil {
		return fmt.Errorf("container %s registration requires an exposes table", name)
	}

	factories := make(map[string]goja.Callable)
	for _, key := range exposes.Keys() {
		fn, ok := goja.AssertFunction(exposes.Get(key))
		if !ok {
			return fmt.Errorf("container %s: exposed module %q is not a factory function", name, key)
		}
		factories[key] = fn
	}

	r.mu.Lock()
	c, ok := r.containers[name]
	if !ok {
		c = newContainer(name)
		r.containers[name] = c
	}
	c.exposes = factories
	r.mu.Unlock()

	r.log.WithField("container", name).Infof("registered %d exposed modules", len(factories))
	return nil
}

// jsRegisterShared lets bundles contribute shared-dependency instances:
// __federation.registerShared(name, version, singleton, instance).
func (r *Runtime) jsRegisterShared(name, version string, singleton bool, instance goja.Value) error {
	return r.shared.Register(SharedDependency{
		Name:      name,
		Version:   version,
		Singleton: singleton,
		Instance:  instance,
	})
}

// jsShared resolves a shared-dependency request from a bundle:
// __federation.shared(name, requiredVersion).
func (r *Runtime) jsShared(name, required string) (goja.Value, error) {
	instance, err := r.shared.Resolve(name, required)
	if err != nil {
		return nil, err
	}
	if v, ok := instance.(goja.Value); ok {
		return v, nil
	}
	// Callbacks run on the evaluation goroutine, which already holds the
	// engine lock, so direct vm access is safe here.
	return r.engine.vm.ToValue(instance), nil
}

// jsLoadChunk loads a dependent chunk on demand from evaluating bundle code:
// __federation.loadChunk(identifier, callerIdentifier). The caller value may
// be a symbolic name or a numeric string depending on the build mode.
func (r *Runtime) jsLoadChunk(identifier, caller string) error {
	loc, err := r.resolve(identifier, caller)
	if err != nil {
		return err
	}
	if !loc.ShouldFetch {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	data, err := r.fetcher.Fetch(ctx, loc.URL)
	if err != nil {
		return err
	}
	// Already on the evaluation goroutine under the engine lock.
	return r.engine.runLocked(ctx, identifier+".index.bundle", data)
}
