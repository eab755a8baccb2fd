// Package config loads the controller's YAML configuration file as a
// small typed struct decoded by a real YAML library (gopkg.in/yaml.v3)
// rather than hand-rolled flag parsing, following the structured-config
// daemons elsewhere in the pack (the teacher, a library, has no config
// file of its own).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the controller's full runtime configuration (spec.md §6
// Environment).
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	HostMapPath       string `yaml:"host_map_path"`
	ClassificationCSV string `yaml:"classification_csv"`
	SnapshotDir       string `yaml:"snapshot_dir"`
	ModelPath         string `yaml:"model_path"`

	SamplingIntervalSeconds   float64 `yaml:"sampling_interval_seconds"`
	CongestionThreshold       float64 `yaml:"congestion_threshold"`
	DefaultLinkCapacityMbps   float64 `yaml:"default_link_capacity_mbps"`
	ClassificationReloadEvery time.Duration `yaml:"classification_reload_every"`

	CaptureMaxSize    int           `yaml:"capture_max_size"`
	CaptureFlushEvery time.Duration `yaml:"capture_flush_every"`

	OperationBudget time.Duration `yaml:"operation_budget"`

	ObservabilityAddr string `yaml:"observability_addr"`
}

// Default returns the configuration defaults named throughout spec.md.
func Default() Config {
	return Config{
		ListenAddr:                ":6653",
		SamplingIntervalSeconds:   1.0,
		CongestionThreshold:       0.9,
		DefaultLinkCapacityMbps:   100,
		ClassificationReloadEvery: 10 * time.Second,
		CaptureMaxSize:            10_000,
		CaptureFlushEvery:         30 * time.Second,
		OperationBudget:           250 * time.Millisecond,
		ObservabilityAddr:         ":9090",
	}
}

// Load reads and validates a YAML configuration file at path, filling
// in any unset field with Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that can never produce a usable
// controller (spec.md §8 boundary: a zero-capacity link must be
// rejected at load time rather than divide-by-zero later).
func (c Config) Validate() error {
	if c.HostMapPath == "" {
		return fmt.Errorf("config: host_map_path is required")
	}
	if c.DefaultLinkCapacityMbps <= 0 {
		return fmt.Errorf("config: default_link_capacity_mbps must be > 0")
	}
	if c.CongestionThreshold <= 0 || c.CongestionThreshold > 1 {
		return fmt.Errorf("config: congestion_threshold must be in (0,1]")
	}
	if c.SamplingIntervalSeconds <= 0 {
		return fmt.Errorf("config: sampling_interval_seconds must be > 0")
	}
	return nil
}
