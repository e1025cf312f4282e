// Package resolver maps opaque module identifiers to bundle locations.
//
// Resolution is a pure function of the identifier and the caller context;
// it performs no I/O. Hardening against path and protocol injection happens
// here, before any URL is ever handed to the fetch layer.
package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSecurityViolation is returned for identifiers carrying a
	// parent-directory sequence, a scheme separator, or a leading path
	// separator. Never retried.
	ErrSecurityViolation = errors.New("security violation")

	// ErrUnresolvedIdentifier is returned when no resolution rule applies.
	ErrUnresolvedIdentifier = errors.New("unresolved identifier")
)

// ExposedChunkPrefix marks chunks backing an exposed module of a container.
// The build emits exposed chunks under this fixed prefix so the runtime can
// route them by naming convention instead of a manifest lookup.
const ExposedChunkPrefix = "__federation_expose_"

const (
	containerBundleSuffix = ".container.js.bundle"
	chunkBundleSuffix     = ".index.bundle"
)

// Location describes where a resolved artifact lives. Immutable once produced.
type Location struct {
	URL         string
	ShouldFetch bool
}

// Resolver resolves identifiers against a single remote's base URL using the
// platform naming convention.
type Resolver struct {
	baseURL   string
	container string
}

// New creates a convention resolver for one remote container.
func New(baseURL, container string) *Resolver {
	return &Resolver{
		baseURL:   strings.TrimRight(baseURL, "/"),
		container: container,
	}
}

// Validate rejects identifiers that could escape the remote's URL namespace.
func Validate(identifier string) error {
	switch {
	case strings.Contains(identifier, ".."):
		return fmt.Errorf("identifier %q contains a parent-directory sequence: %w", identifier, ErrSecurityViolation)
	case strings.Contains(identifier, "://"):
		return fmt.Errorf("identifier %q contains a scheme separator: %w", identifier, ErrSecurityViolation)
	case strings.HasPrefix(identifier, "/"), strings.HasPrefix(identifier, "\\"):
		return fmt.Errorf("identifier %q starts with a path separator: %w", identifier, ErrSecurityViolation)
	}
	return nil
}

// Resolve maps an identifier plus caller context to a bundle location.
//
// Rules are evaluated in order and are mutually exclusive:
//  1. malformed identifier: security violation
//  2. the container name itself: entry bundle
//  3. exposed-module chunk (fixed prefix): chunk bundle
//  4. any identifier with a caller present: dependent chunk of that caller
//  5. otherwise: unresolved
//
// Rule 4 deliberately tests only caller presence, never caller value.
// Size-optimized builds replace symbolic caller names with dense numeric
// identifiers, so an equality test against the symbolic name would silently
// stop matching after an optimization pass.
func (r *Resolver) Resolve(identifier, caller string) (Location, error) {
	if err := Validate(identifier); err != nil {
		return Location{}, err
	}

	if identifier == r.container {
		return Location{
			URL:         r.baseURL + "/" + r.container + containerBundleSuffix,
			ShouldFetch: true,
		}, nil
	}

	if strings.HasPrefix(identifier, ExposedChunkPrefix) {
		return Location{
			URL:         r.baseURL + "/" + identifier + chunkBundleSuffix,
			ShouldFetch: true,
		}, nil
	}

	if caller != "" {
		return Location{
			URL:         r.baseURL + "/" + identifier + chunkBundleSuffix,
			ShouldFetch: true,
		}, nil
	}

	return Location{}, fmt.Errorf("identifier %q has no applicable rule: %w", identifier, ErrUnresolvedIdentifier)
}
