// Package config provides configuration loading and management for cellcrops.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cellcrops/pkg/composite"
	"cellcrops/pkg/extraction"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Scan input parameters
	Scan struct {
		// InputDir holds the raw single-channel scans
		InputDir string `yaml:"inputDir"`

		// FOVCount is the number of fields of view in the input directory.
		// Zero derives it from the scan count.
		FOVCount int `yaml:"fovCount"`

		// ChannelOrder names the channel groups in acquisition order
		ChannelOrder []string `yaml:"channelOrder"`
	} `yaml:"scan"`

	// Composite synthesis parameters
	Composite struct {
		// Reference is added into every composite plane
		Reference string `yaml:"reference"`

		// Planes are the markers for composite planes 0, 1 and 2
		Planes []string `yaml:"planes"`
	} `yaml:"composite"`

	// Crop geometry
	Crop struct {
		EdgeLength int `yaml:"edgeLength"`
		HalfLow    int `yaml:"halfLow"`
		HalfHigh   int `yaml:"halfHigh"`
		Margin     int `yaml:"margin"`
	} `yaml:"crop"`

	// Extraction engine parameters
	Extraction struct {
		// ScanMode is "fast" (contiguity early exit) or "full"
		ScanMode string `yaml:"scanMode"`

		// SkipUncroppable drops instances whose bounding box fails the
		// edge-distance check
		SkipUncroppable bool `yaml:"skipUncroppable"`

		// Verify enables alignment and contiguity cross-checks
		Verify bool `yaml:"verify"`

		// NumWorkers bounds FOV-level parallelism (0 = all CPUs)
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"extraction"`

	// Segmentation parameters
	Segmentation struct {
		// Method is "masks" (precomputed by an external model) or "threshold"
		Method string `yaml:"method"`

		// MaskDir holds mask_<i>.png files for the masks method
		MaskDir string `yaml:"maskDir"`

		// Sigma and MinArea tune the threshold method
		Sigma   float64 `yaml:"sigma"`
		MinArea int     `yaml:"minArea"`
	} `yaml:"segmentation"`

	// Embedding parameters
	Embedding struct {
		// BatchSize is the number of crops per encoder call
		BatchSize int `yaml:"batchSize"`

		// SlideID is written into every embedding row
		SlideID int `yaml:"slideId"`
	} `yaml:"embedding"`

	// Output parameters
	Output struct {
		Dir            string `yaml:"dir"`
		SaveMasks      bool   `yaml:"saveMasks"`
		SaveComposites bool   `yaml:"saveComposites"`
		SaveCrops      bool   `yaml:"saveCrops"`
		SaveMontage    bool   `yaml:"saveMontage"`
		MontageColumns int    `yaml:"montageColumns"`
		MontageScale   int    `yaml:"montageScale"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a zerolog level name
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	layout := composite.DefaultLayout()
	cfg.Scan.ChannelOrder = layout.ChannelOrder
	cfg.Composite.Reference = layout.Reference
	cfg.Composite.Planes = layout.Planes[:]

	params := extraction.DefaultParams()
	cfg.Crop.EdgeLength = params.EdgeLength
	cfg.Crop.HalfLow = params.HalfLow
	cfg.Crop.HalfHigh = params.HalfHigh
	cfg.Crop.Margin = params.Margin

	cfg.Extraction.ScanMode = params.ScanMode.String()
	cfg.Extraction.SkipUncroppable = params.SkipUncroppable
	cfg.Extraction.NumWorkers = params.NumWorkers

	cfg.Segmentation.Method = "masks"
	cfg.Segmentation.MaskDir = "masks"
	cfg.Segmentation.Sigma = 1.0
	cfg.Segmentation.MinArea = 20

	cfg.Embedding.BatchSize = 64

	cfg.Output.Dir = "output"
	cfg.Output.MontageColumns = 16
	cfg.Output.MontageScale = 1

	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Layout converts the scan and composite sections into a composite.Layout
func (c *Config) Layout() (composite.Layout, error) {
	if len(c.Composite.Planes) != 3 {
		return composite.Layout{}, fmt.Errorf("composite needs exactly 3 planes, got %d", len(c.Composite.Planes))
	}
	layout := composite.Layout{
		FOVCount:     c.Scan.FOVCount,
		ChannelOrder: c.Scan.ChannelOrder,
		Reference:    c.Composite.Reference,
	}
	copy(layout.Planes[:], c.Composite.Planes)
	if err := layout.Validate(); err != nil {
		return composite.Layout{}, err
	}
	return layout, nil
}

// ExtractionParams converts the crop and extraction sections into engine
// parameters. A zero margin is derived from the edge length.
func (c *Config) ExtractionParams() (extraction.Params, error) {
	mode, err := extraction.ParseScanMode(c.Extraction.ScanMode)
	if err != nil {
		return extraction.Params{}, err
	}
	p := extraction.Params{
		EdgeLength:      c.Crop.EdgeLength,
		HalfLow:         c.Crop.HalfLow,
		HalfHigh:        c.Crop.HalfHigh,
		Margin:          c.Crop.Margin,
		ScanMode:        mode,
		SkipUncroppable: c.Extraction.SkipUncroppable,
		Verify:          c.Extraction.Verify,
		NumWorkers:      c.Extraction.NumWorkers,
	}
	if p.Margin == 0 {
		p.Margin = extraction.MarginFor(p.EdgeLength)
	}
	if err := p.Validate(); err != nil {
		return extraction.Params{}, err
	}
	return p, nil
}

// Validate checks every section that can be checked without touching disk
func (c *Config) Validate() error {
	if _, err := c.Layout(); err != nil {
		return fmt.Errorf("scan/composite: %w", err)
	}
	if _, err := c.ExtractionParams(); err != nil {
		return fmt.Errorf("crop/extraction: %w", err)
	}
	switch c.Segmentation.Method {
	case "masks", "threshold":
	default:
		return fmt.Errorf("segmentation: unknown method %q (must be masks or threshold)", c.Segmentation.Method)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding: batch size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Output.SaveMontage && (c.Output.MontageColumns <= 0 || c.Output.MontageScale <= 0) {
		return fmt.Errorf("output: montage columns and scale must be positive")
	}
	return nil
}
