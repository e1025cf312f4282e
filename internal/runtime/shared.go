package runtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

var (
	// ErrVersionConflict is raised when a singleton dependency request cannot
	// be satisfied by a version-compatible instance. Never silently
	// substituted.
	ErrVersionConflict = errors.New("shared dependency version conflict")

	// ErrSharedNotFound is raised when no entry exists for a requested name.
	ErrSharedNotFound = errors.New("shared dependency not found")
)

// SharedDependency is one entry in the shared-dependency scope. If Singleton
// is true, exactly one loaded instance exists across host and all remotes.
type SharedDependency struct {
	Name      string
	Version   string
	Singleton bool
	Instance  any
}

// SharedScope holds shared-dependency entries for one federation namespace.
// The host registers its singletons eagerly; the scope is sealed before any
// remote entry code runs.
type SharedScope struct {
	mu     sync.RWMutex
	deps   map[string][]SharedDependency
	sealed bool
}

// NewSharedScope creates an empty scope.
func NewSharedScope() *SharedScope {
	return &SharedScope{deps: make(map[string][]SharedDependency)}
}

func (s *SharedScope) seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Sealed reports whether host-side registration has completed.
func (s *SharedScope) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Register adds a dependency instance to the scope.
//
// Before sealing, registrations come from the host and are stored as-is.
// After sealing, registrations come from remotes: a singleton that the host
// already provides is dropped in favor of the host instance when the
// versions are compatible, and rejected with a version conflict otherwise.
func (s *SharedScope) Register(dep SharedDependency) error {
	version, err := canonicalVersion(dep.Version)
	if err != nil {
		return fmt.Errorf("register %s: %w", dep.Name, err)
	}
	dep.Version = version

	s.mu.Lock()
	defer s.mu.Unlock()

	if dep.Singleton && s.sealed {
		existing := s.deps[dep.Name]
		if len(existing) > 0 {
			if _, err := pick(existing, dep.Version); err != nil {
				return fmt.Errorf("singleton %s@%s incompatible with host: %w",
					dep.Name, dep.Version, ErrVersionConflict)
			}
			// Host instance wins; the remote copy is never loaded.
			return nil
		}
	}

	s.deps[dep.Name] = append(s.deps[dep.Name], dep)
	return nil
}

// Resolve returns the instance satisfying a dependency request: an exact
// version match first, else the highest compatible version.
func (s *SharedScope) Resolve(name, required string) (any, error) {
	version, err := canonicalVersion(required)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.deps[name]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s@%s: %w", name, required, ErrSharedNotFound)
	}

	dep, err := pick(entries, version)
	if err != nil {
		return nil, fmt.Errorf("%s@%s: %w", name, required, err)
	}
	return dep.Instance, nil
}

// pick selects the entry satisfying required: exact match wins, otherwise
// the highest version sharing the required major and not older than it.
func pick(entries []SharedDependency, required string) (SharedDependency, error) {
	for _, dep := range entries {
		if dep.Version == required {
			return dep, nil
		}
	}

	var best SharedDependency
	found := false
	for _, dep := range entries {
		if semver.Major(dep.Version) != semver.Major(required) {
			continue
		}
		if semver.Compare(dep.Version, required) < 0 {
			continue
		}
		if !found || semver.Compare(dep.Version, best.Version) > 0 {
			best = dep
			found = true
		}
	}
	if !found {
		return SharedDependency{}, ErrVersionConflict
	}
	return best, nil
}

// canonicalVersion normalizes a package-manager style version ("18.2.0")
// into the "v"-prefixed form semver operates on.
func canonicalVersion(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("empty version")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid version %q", v)
	}
	return v, nil
}
