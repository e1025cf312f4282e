// Package config loads the federation host configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the host shell.
type Config struct {
	Host    HostConfig     `yaml:"host"`
	Remotes []RemoteConfig `yaml:"remotes"`
	Shared  []SharedConfig `yaml:"shared"`
	Fetch   FetchConfig    `yaml:"fetch"`
	Engine  EngineConfig   `yaml:"engine"`
	HTTP    HTTPConfig     `yaml:"http"`
	Logging LoggingConfig  `yaml:"logging"`
}

// HostConfig describes the host application itself.
type HostConfig struct {
	Name string `yaml:"name"`
	// BundlePath optionally points at the host's own entry bundle, evaluated
	// during bootstrap before the shared scope is sealed.
	BundlePath string `yaml:"bundle_path"`
	// RequireHTTPS rejects plain-HTTP remote locations. Production
	// deployments keep this on; development against a local bundler turns
	// it off.
	RequireHTTPS bool `yaml:"require_https"`
}

// RemoteConfig describes one remote container.
type RemoteConfig struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	Prefetch bool   `yaml:"prefetch"`
}

// SharedConfig declares a host-provided shared dependency.
type SharedConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Singleton bool   `yaml:"singleton"`
}

// Duration wraps time.Duration so YAML values can use human-readable forms
// like "250ms" or "15s".
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// FetchConfig tunes the artifact fetcher.
type FetchConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	RetryBackoff   Duration `yaml:"retry_backoff"`
	RequestTimeout Duration `yaml:"request_timeout"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
}

// EngineConfig tunes the script engine.
type EngineConfig struct {
	EvalTimeout Duration `yaml:"eval_timeout"`
}

// HTTPConfig configures the development HTTP server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// BundleDir, when set, is served statically under /bundles/ so local
	// remotes can be loaded without a CDN.
	BundleDir string `yaml:"bundle_dir"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Env carries environment overrides applied on top of the file config.
type Env struct {
	ConfigPath string `env:"FEDERATION_CONFIG,default=config/federation.yaml"`
	EnvFile    string `env:"FEDERATION_ENV_FILE,default="`
	Platform   string `env:"FEDERATION_PLATFORM,default=ios"`
	HTTPAddr   string `env:"FEDERATION_HTTP_ADDR,default="`
	LogLevel   string `env:"FEDERATION_LOG_LEVEL,default="`
}

// EnvFromProcess decodes environment overrides.
func EnvFromProcess() (Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil {
		return Env{}, fmt.Errorf("decode environment: %w", err)
	}
	return e, nil
}

// Default returns a development-friendly configuration.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Name:         "host",
			RequireHTTPS: false,
		},
		Fetch: FetchConfig{
			MaxAttempts:    3,
			RetryBackoff:   Duration(250 * time.Millisecond),
			RequestTimeout: Duration(15 * time.Second),
		},
		Engine: EngineConfig{
			EvalTimeout: Duration(30 * time.Second),
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFromPath reads a YAML config file.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads the config file, falling back to defaults only when
// the file does not exist. A file that exists but fails to parse or
// validate is an error: degrading a misconfigured host to defaults would
// drop its remotes and its HTTPS policy without a trace.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadFromPath(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment overrides.
func (c *Config) ApplyEnv(e Env) {
	if e.HTTPAddr != "" {
		c.HTTP.Addr = e.HTTPAddr
	}
	if e.LogLevel != "" {
		c.Logging.Level = e.LogLevel
	}
}

// Validate checks remote declarations and enforces the HTTPS policy at host
// bootstrap, before any fetch can happen.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, remote := range c.Remotes {
		if remote.Name == "" {
			return fmt.Errorf("remote with empty name")
		}
		if seen[remote.Name] {
			return fmt.Errorf("remote %q declared twice", remote.Name)
		}
		seen[remote.Name] = true

		u, err := url.Parse(remote.BaseURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("remote %q: invalid base_url %q", remote.Name, remote.BaseURL)
		}
		switch u.Scheme {
		case "https":
		case "http":
			if c.Host.RequireHTTPS {
				return fmt.Errorf("remote %q: plain HTTP rejected, HTTPS is required", remote.Name)
			}
		default:
			return fmt.Errorf("remote %q: unsupported scheme %q", remote.Name, u.Scheme)
		}
	}
	return nil
}
