// Package manifest defines the build metadata manifest emitted alongside
// each remote's artifacts.
//
// The manifest lists exposed paths and their backing chunk identifiers for
// developer tooling. The runtime resolver deliberately does not consume it:
// resolution works by naming convention, which avoids a network round-trip
// before the first fetch.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Manifest describes one remote's build output.
type Manifest struct {
	Container   string    `json:"container" yaml:"container"`
	Platform    string    `json:"platform" yaml:"platform"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Entry       string    `json:"entry" yaml:"entry"`
	Exposes     []Exposed `json:"exposes" yaml:"exposes"`
	Chunks      []string  `json:"chunks,omitempty" yaml:"chunks,omitempty"`
}

// Exposed maps one exposed path to the chunk identifier backing it.
type Exposed struct {
	Path  string `json:"path" yaml:"path"`
	Chunk string `json:"chunk" yaml:"chunk"`
}

// FromBundlerMetadata builds a manifest from the bundler's metadata JSON.
// The bundler schema is vendor-defined and loosely structured, so fields are
// picked out by path rather than bound to a struct.
func FromBundlerMetadata(container, platform string, data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("bundler metadata for %s is not valid JSON", container)
	}

	m := &Manifest{
		Container:   container,
		Platform:    platform,
		GeneratedAt: time.Now().UTC(),
		Entry:       container + ".container.js.bundle",
	}

	for _, exposed := range gjson.GetBytes(data, "exposes").Array() {
		path := exposed.Get("path").String()
		chunk := exposed.Get("chunk").String()
		if path == "" || chunk == "" {
			return nil, fmt.Errorf("bundler metadata for %s: exposed entry missing path or chunk", container)
		}
		m.Exposes = append(m.Exposes, Exposed{Path: path, Chunk: chunk})
	}

	for _, chunk := range gjson.GetBytes(data, "chunks.#.id").Array() {
		m.Chunks = append(m.Chunks, chunk.String())
	}

	return m, nil
}

// Load reads a manifest from a file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes manifest data, choosing the codec by file extension.
func Parse(data []byte, filename string) (*Manifest, error) {
	var m Manifest
	if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}
	return &m, nil
}

// Save writes the manifest, choosing the codec by file extension.
func (m *Manifest) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(m)
	} else {
		data, err = json.MarshalIndent(m, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Validate checks internal consistency.
func (m *Manifest) Validate() error {
	var errs []string

	if m.Container == "" {
		errs = append(errs, "container name is required")
	}
	seen := make(map[string]bool)
	for _, e := range m.Exposes {
		if e.Path == "" || e.Chunk == "" {
			errs = append(errs, fmt.Sprintf("exposed entry %q -> %q incomplete", e.Path, e.Chunk))
			continue
		}
		if seen[e.Path] {
			errs = append(errs, fmt.Sprintf("exposed path %q duplicated", e.Path))
		}
		seen[e.Path] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
