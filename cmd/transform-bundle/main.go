// Command transform-bundle patches a bundler output directory for the
// federation runtime. It prepends the logging and platform shims to every
// bundle, rewrites native platform accessors, and optionally emits a
// container manifest from bundler metadata.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/R3E-Network/federation_layer/internal/manifest"
	"github.com/R3E-Network/federation_layer/internal/transformer"
	"github.com/R3E-Network/federation_layer/pkg/logger"
)

func main() {
	dir := flag.String("dir", "", "Bundle output directory to transform")
	platformFlag := flag.String("platform", "", "Target platform: ios or android (default: FEDERATION_PLATFORM or ios)")
	metadataPath := flag.String("metadata", "", "Optional bundler metadata JSON to derive a manifest from")
	manifestPath := flag.String("manifest", "", "Where to write the derived manifest (requires -metadata)")
	container := flag.String("container", "", "Container name recorded in the manifest")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	platform := transformer.PlatformFromEnv()
	if *platformFlag != "" {
		switch transformer.Platform(*platformFlag) {
		case transformer.PlatformIOS, transformer.PlatformAndroid:
			platform = transformer.Platform(*platformFlag)
		default:
			log.Fatalf("unknown platform %q", *platformFlag)
		}
	}

	tr := transformer.New(platform, logger.NewDefault("transform-bundle"))
	report, err := tr.TransformDir(*dir)
	if err != nil {
		log.Fatalf("transform %s: %v", *dir, err)
	}
	fmt.Printf("Transformed %d bundles (%d already patched, %d bytes added) for %s\n",
		len(report.Transformed), len(report.Skipped), report.BytesAdded, platform)

	if *metadataPath == "" {
		return
	}
	if *manifestPath == "" || *container == "" {
		log.Fatalf("-metadata requires -manifest and -container")
	}

	data, err := os.ReadFile(*metadataPath)
	if err != nil {
		log.Fatalf("read metadata: %v", err)
	}
	m, err := manifest.FromBundlerMetadata(*container, string(platform), data)
	if err != nil {
		log.Fatalf("derive manifest: %v", err)
	}
	if err := m.Validate(); err != nil {
		log.Fatalf("invalid manifest: %v", err)
	}
	if err := m.Save(*manifestPath); err != nil {
		log.Fatalf("write manifest: %v", err)
	}
	fmt.Printf("Manifest written to %s\n", *manifestPath)
}
