package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KDRohit/Aruze10-sub023/internal/progress"
)

// Config defines configuration for the bundle delivery session.
type Config struct {
	// Hosts is the ordered list of CDN base URLs, rotated on failure.
	Hosts []string `yaml:"hosts"`

	// Platform selects the platform-specific bundle namespace.
	Platform string `yaml:"platform"`

	// CacheBucket is the blob URL of the persistent bundle store.
	CacheBucket string `yaml:"cache_bucket"`

	// LocalBucket is the blob URL of the local/offline asset source used
	// for fallback loads. Empty disables the fallback path.
	LocalBucket string `yaml:"local_bucket"`

	// LocalRoot is the key prefix inside LocalBucket.
	LocalRoot string `yaml:"local_root"`

	// Concurrency caps simultaneous bundle fetches. Floor 1.
	Concurrency int `yaml:"concurrency"`

	// MaxRetries is the retry budget per bundle before failure is terminal.
	MaxRetries int `yaml:"max_retries"`

	// TickInterval drives the scheduler tick.
	TickInterval time.Duration `yaml:"tick_interval"`

	// StallFloor, StallCeiling, and StallStep shape the escalating stall
	// threshold: it starts at the floor and grows by one step per
	// confirmed stall, never past the ceiling and never back down.
	StallFloor   time.Duration `yaml:"stall_floor"`
	StallCeiling time.Duration `yaml:"stall_ceiling"`
	StallStep    time.Duration `yaml:"stall_step"`

	// SweepInterval is how often the eviction sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// LazyMemoryFloor drops queued lazy downloads when free system memory
	// falls below this many bytes. Zero disables the check.
	LazyMemoryFloor int64 `yaml:"lazy_memory_floor"`

	// DisableDownloads forces every request down the local fallback path.
	DisableDownloads bool `yaml:"disable_downloads"`

	// VariantOverride forces a manifest variant (query-string override).
	VariantOverride string `yaml:"variant_override"`

	// VariantWhitelist is the server-delivered per-user variant override.
	VariantWhitelist []string `yaml:"variant_whitelist"`

	// ReferenceVariant is the default variant fallback.
	ReferenceVariant string `yaml:"reference_variant"`

	// InitBundle names the bundle reserved for core initialization assets;
	// it is refused by every unload path.
	InitBundle string `yaml:"init_bundle"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Platform:         "standalone",
		Concurrency:      4,
		MaxRetries:       3,
		TickInterval:     100 * time.Millisecond,
		StallFloor:       15 * time.Second,
		StallCeiling:     35 * time.Second,
		StallStep:        10 * time.Second,
		SweepInterval:    30 * time.Second,
		ReferenceVariant: "reference",
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable sizes and
// durations as strings.
type yamlConfig struct {
	Hosts            []string `yaml:"hosts"`
	Platform         string   `yaml:"platform"`
	CacheBucket      string   `yaml:"cache_bucket"`
	LocalBucket      string   `yaml:"local_bucket"`
	LocalRoot        string   `yaml:"local_root"`
	Concurrency      int      `yaml:"concurrency"`
	MaxRetries       int      `yaml:"max_retries"`
	TickInterval     string   `yaml:"tick_interval"`
	StallFloor       string   `yaml:"stall_floor"`
	StallCeiling     string   `yaml:"stall_ceiling"`
	StallStep        string   `yaml:"stall_step"`
	SweepInterval    string   `yaml:"sweep_interval"`
	LazyMemoryFloor  string   `yaml:"lazy_memory_floor"`
	DisableDownloads bool     `yaml:"disable_downloads"`
	VariantOverride  string   `yaml:"variant_override"`
	VariantWhitelist []string `yaml:"variant_whitelist"`
	ReferenceVariant string   `yaml:"reference_variant"`
	InitBundle       string   `yaml:"init_bundle"`
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if len(yc.Hosts) > 0 {
		cfg.Hosts = yc.Hosts
	}
	if yc.Platform != "" {
		cfg.Platform = yc.Platform
	}
	if yc.CacheBucket != "" {
		cfg.CacheBucket = yc.CacheBucket
	}
	if yc.LocalBucket != "" {
		cfg.LocalBucket = yc.LocalBucket
	}
	if yc.LocalRoot != "" {
		cfg.LocalRoot = yc.LocalRoot
	}
	if yc.Concurrency != 0 {
		cfg.Concurrency = yc.Concurrency
	}
	if yc.MaxRetries != 0 {
		cfg.MaxRetries = yc.MaxRetries
	}
	if err := setDuration(&cfg.TickInterval, yc.TickInterval, "tick_interval"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.StallFloor, yc.StallFloor, "stall_floor"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.StallCeiling, yc.StallCeiling, "stall_ceiling"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.StallStep, yc.StallStep, "stall_step"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.SweepInterval, yc.SweepInterval, "sweep_interval"); err != nil {
		return Config{}, err
	}
	if yc.LazyMemoryFloor != "" {
		size, err := progress.ParseBytes(yc.LazyMemoryFloor)
		if err != nil {
			return Config{}, fmt.Errorf("parse lazy_memory_floor: %w", err)
		}
		cfg.LazyMemoryFloor = size
	}
	cfg.DisableDownloads = yc.DisableDownloads
	if yc.VariantOverride != "" {
		cfg.VariantOverride = yc.VariantOverride
	}
	if len(yc.VariantWhitelist) > 0 {
		cfg.VariantWhitelist = yc.VariantWhitelist
	}
	if yc.ReferenceVariant != "" {
		cfg.ReferenceVariant = yc.ReferenceVariant
	}
	if yc.InitBundle != "" {
		cfg.InitBundle = yc.InitBundle
	}

	return cfg, nil
}

func setDuration(dst *time.Duration, value, name string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BUNDLER_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("BUNDLER_HOSTS"); v != "" {
		c.Hosts = strings.Split(v, ",")
	}
	if v := os.Getenv("BUNDLER_PLATFORM"); v != "" {
		c.Platform = v
	}
	if v := os.Getenv("BUNDLER_CACHE_BUCKET"); v != "" {
		c.CacheBucket = v
	}
	if v := os.Getenv("BUNDLER_LOCAL_BUCKET"); v != "" {
		c.LocalBucket = v
	}
	if v := os.Getenv("BUNDLER_LOCAL_ROOT"); v != "" {
		c.LocalRoot = v
	}
	if v := os.Getenv("BUNDLER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse BUNDLER_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("BUNDLER_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse BUNDLER_MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	if v := os.Getenv("BUNDLER_LAZY_MEMORY_FLOOR"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse BUNDLER_LAZY_MEMORY_FLOOR: %w", err)
		}
		c.LazyMemoryFloor = size
	}
	if v := os.Getenv("BUNDLER_DISABLE_DOWNLOADS"); v != "" {
		c.DisableDownloads = v == "true" || v == "1"
	}
	if v := os.Getenv("BUNDLER_VARIANT"); v != "" {
		c.VariantOverride = v
	}
	if v := os.Getenv("BUNDLER_INIT_BUNDLE"); v != "" {
		c.InitBundle = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 && !c.DisableDownloads && c.LocalBucket == "" {
		return errors.New("config: hosts are required unless downloads are disabled or a local bucket is set")
	}
	if c.Concurrency < 1 {
		return errors.New("config: concurrency floor is 1")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: max_retries must not be negative")
	}
	if c.StallFloor <= 0 || c.StallCeiling < c.StallFloor {
		return errors.New("config: stall ceiling must be at or above a positive floor")
	}
	if c.StallStep <= 0 {
		return errors.New("config: stall_step must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("config: tick_interval must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: sweep_interval must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if len(override.Hosts) > 0 {
		c.Hosts = override.Hosts
	}
	if override.Platform != "" {
		c.Platform = override.Platform
	}
	if override.CacheBucket != "" {
		c.CacheBucket = override.CacheBucket
	}
	if override.LocalBucket != "" {
		c.LocalBucket = override.LocalBucket
	}
	if override.LocalRoot != "" {
		c.LocalRoot = override.LocalRoot
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.MaxRetries != 0 {
		c.MaxRetries = override.MaxRetries
	}
	if override.TickInterval != 0 {
		c.TickInterval = override.TickInterval
	}
	if override.StallFloor != 0 {
		c.StallFloor = override.StallFloor
	}
	if override.StallCeiling != 0 {
		c.StallCeiling = override.StallCeiling
	}
	if override.StallStep != 0 {
		c.StallStep = override.StallStep
	}
	if override.SweepInterval != 0 {
		c.SweepInterval = override.SweepInterval
	}
	if override.LazyMemoryFloor != 0 {
		c.LazyMemoryFloor = override.LazyMemoryFloor
	}
	if override.DisableDownloads {
		c.DisableDownloads = true
	}
	if override.VariantOverride != "" {
		c.VariantOverride = override.VariantOverride
	}
	if len(override.VariantWhitelist) > 0 {
		c.VariantWhitelist = override.VariantWhitelist
	}
	if override.ReferenceVariant != "" {
		c.ReferenceVariant = override.ReferenceVariant
	}
	if override.InitBundle != "" {
		c.InitBundle = override.InitBundle
	}
	return c
}
