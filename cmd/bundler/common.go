package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/KDRohit/Aruze10-sub023/internal/config"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// loadConfig layers defaults, an optional YAML file, and the environment.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadManifest reads a manifest document and binds it to the variant the
// config selects. Returns the manifest and the selected variant name.
func loadManifest(path string, cfg config.Config) (*manifest.Manifest, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read manifest: %w", err)
	}
	doc, err := manifest.Parse(data)
	if err != nil {
		return nil, "", err
	}
	variant := manifest.SelectVariant(doc, manifest.VariantCriteria{
		Whitelist:     cfg.VariantWhitelist,
		QueryOverride: cfg.VariantOverride,
		Reference:     cfg.ReferenceVariant,
		Device:        manifest.DeviceProfile{Platform: cfg.Platform},
	})
	man, err := manifest.Build(doc, variant)
	if err != nil {
		return nil, "", err
	}
	return man, variant, nil
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		if log, err := zap.NewDevelopment(); err == nil {
			return log
		}
	}
	return zap.NewNop()
}
