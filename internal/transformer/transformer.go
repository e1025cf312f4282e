// Package transformer post-processes compiled bundle artifacts at build
// time, prepending safety shims ahead of each artifact's own code.
//
// The transform is textual by design: the contract only requires that shim
// code executes before any other code in the artifact, and a string prepend
// guarantees that at minimal build-time cost. Shipping an unpatched artifact
// is treated as worse than failing the build, so any read or write error
// aborts with a non-zero exit.
package transformer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/R3E-Network/federation_layer/pkg/logger"
)

// ErrTransformerFailure aborts the build when an artifact cannot be patched.
var ErrTransformerFailure = errors.New("transformer failure")

// BundleExtension matches the platform's executable-bundle artifacts.
const BundleExtension = ".jsbundle"

// Platform selects which placeholder values the shims carry.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// PlatformFromEnv reads the build-time platform switch.
func PlatformFromEnv() Platform {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("FEDERATION_PLATFORM"))) {
	case "android", "b":
		return PlatformAndroid
	default:
		return PlatformIOS
	}
}

// OSName is the home-platform placeholder the shim reports before upgrade.
func (p Platform) OSName() string {
	return string(p)
}

// OSVersion is the placeholder OS version for the target platform.
func (p Platform) OSVersion() string {
	if p == PlatformAndroid {
		return "14"
	}
	return "17.0"
}

// DevServerURL is the default dependent-chunk host for the target platform.
// Android emulators reach the development machine through the NAT gateway
// address instead of localhost.
func (p Platform) DevServerURL() string {
	if p == PlatformAndroid {
		return "http://10.0.2.2:8081"
	}
	return "http://localhost:8081"
}

// Report summarizes one transformer run.
type Report struct {
	Transformed []string
	Skipped     []string
	BytesAdded  int64
}

// Transformer patches compiled artifacts for one target platform.
type Transformer struct {
	platform Platform
	log      *logger.Logger
}

// New constructs a transformer. A nil logger falls back to a component
// default.
func New(platform Platform, log *logger.Logger) *Transformer {
	if log == nil {
		log = logger.NewDefault("transformer")
	}
	return &Transformer{platform: platform, log: log}
}

// TransformDir patches every bundle artifact under dir, recursively. The
// first failing artifact aborts the run.
func (t *Transformer) TransformDir(dir string) (*Report, error) {
	report := &Report{}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w: %v", path, ErrTransformerFailure, err)
		}
		if !strings.HasSuffix(d.Name(), BundleExtension) {
			return nil
		}
		if d.IsDir() {
			return fmt.Errorf("artifact %s is a directory: %w", path, ErrTransformerFailure)
		}

		added, err := t.transform(path)
		if err != nil {
			return err
		}
		if added == 0 {
			report.Skipped = append(report.Skipped, path)
			return nil
		}
		report.Transformed = append(report.Transformed, path)
		report.BytesAdded += added
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.log.Infof("patched %d artifacts (%d bytes of shims), %d already patched",
		len(report.Transformed), report.BytesAdded, len(report.Skipped))
	return report, nil
}

// TransformFile patches a single artifact.
func (t *Transformer) TransformFile(path string) error {
	_, err := t.transform(path)
	return err
}

// transform prepends the shims and rewrites direct platform-accessor
// references. Returns the number of bytes added, 0 if already patched.
func (t *Transformer) transform(path string) (int64, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read artifact %s: %w: %v", path, ErrTransformerFailure, err)
	}

	text := string(src)
	if strings.HasPrefix(text, shimMarker) {
		return 0, nil
	}

	patched := shims(t.platform) + strings.ReplaceAll(text, platformAccessor, shimSymbol)

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat artifact %s: %w: %v", path, ErrTransformerFailure, err)
	}
	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("write artifact %s: %w: %v", path, ErrTransformerFailure, err)
	}

	added := int64(len(patched) - len(text))
	t.log.WithField("artifact", path).Debugf("prepended %d bytes of shims", added)
	return added, nil
}
