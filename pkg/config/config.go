// Package config provides configuration loading and management for volwarp.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"volwarp/pkg/ffd"
	"volwarp/pkg/kernel"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Resampling parameters
	Resampling struct {
		// NumWorkers is the number of goroutines per frame, 0 uses every CPU
		NumWorkers int `yaml:"numWorkers"`

		// Padding is the intensity marking background voxels
		Padding float64 `yaml:"padding"`

		// Spacing is the output voxel spacing in mm, empty keeps the input spacing
		Spacing []float64 `yaml:"spacing,omitempty"`

		// Size is the output size in voxels, empty keeps the input size
		Size []int `yaml:"size,omitempty"`

		// Interpolation names the interpolation kernel
		Interpolation string `yaml:"interpolation"`
	} `yaml:"resampling"`

	// Free-form deformation parameters
	FFD struct {
		// ControlPointSpacing is the approximate control point distance in mm
		ControlPointSpacing float64 `yaml:"controlPointSpacing"`

		// MaxDisplacement is the amplitude of the synthetic deformation in mm
		MaxDisplacement float64 `yaml:"maxDisplacement"`

		// Extrapolation is one of none, nearest or mirror
		Extrapolation string `yaml:"extrapolation"`

		// BendingMode is second-difference or first-difference
		BendingMode string `yaml:"bendingMode"`

		// BendingWorldUnits measures the bending energy per mm
		BendingWorldUnits bool `yaml:"bendingWorldUnits"`
	} `yaml:"ffd"`

	// Synthetic phantom parameters
	Phantom struct {
		// Dimensions is the phantom size in voxels
		Dimensions []int `yaml:"dimensions"`

		// Spacing is the phantom voxel spacing in mm
		Spacing []float64 `yaml:"spacing"`

		// Radius is the radius of the sphere in mm
		Radius float64 `yaml:"radius"`
	} `yaml:"phantom"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SlicesDir is where central slice previews are written, empty disables them
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default resampling parameters
	cfg.Resampling.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Resampling.Padding = -1
	cfg.Resampling.Interpolation = kernel.Linear.String()

	// Set default deformation parameters
	cfg.FFD.ControlPointSpacing = 10
	cfg.FFD.MaxDisplacement = 3
	cfg.FFD.Extrapolation = ffd.ExtrapolateNone.String()
	cfg.FFD.BendingMode = ffd.SecondDifference.String()
	cfg.FFD.BendingWorldUnits = true

	// Set default phantom parameters
	cfg.Phantom.Dimensions = []int{64, 64, 48}
	cfg.Phantom.Spacing = []float64{1, 1, 1.5}
	cfg.Phantom.Radius = 24

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.SlicesDir = ""

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
		return nil, err
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

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if c.Resampling.NumWorkers < 0 {
		return fmt.Errorf("%w: resampling.numWorkers must not be negative", ErrInvalidConfig)
	}
	if err := checkTriple("resampling.spacing", c.Resampling.Spacing, true); err != nil {
		return err
	}
	if err := checkSize("resampling.size", c.Resampling.Size, true); err != nil {
		return err
	}
	if _, err := c.Kernel(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if !(c.FFD.ControlPointSpacing > 0) {
		return fmt.Errorf("%w: ffd.controlPointSpacing must be positive", ErrInvalidConfig)
	}
	if c.FFD.MaxDisplacement < 0 {
		return fmt.Errorf("%w: ffd.maxDisplacement must not be negative", ErrInvalidConfig)
	}
	if _, err := c.Extrapolation(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.BendingOptions(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := checkSize("phantom.dimensions", c.Phantom.Dimensions, false); err != nil {
		return err
	}
	if err := checkTriple("phantom.spacing", c.Phantom.Spacing, false); err != nil {
		return err
	}
	if !(c.Phantom.Radius > 0) {
		return fmt.Errorf("%w: phantom.radius must be positive", ErrInvalidConfig)
	}
	return nil
}

// Kernel returns the parsed resampling.interpolation setting.
func (c *Config) Kernel() (kernel.Kind, error) {
	return kernel.ParseKind(c.Resampling.Interpolation)
}

// Extrapolation returns the parsed ffd.extrapolation setting.
func (c *Config) Extrapolation() (ffd.Extrapolation, error) {
	return ffd.ParseExtrapolation(c.FFD.Extrapolation)
}

// BendingOptions returns the bending energy options described by the ffd
// section. The energy is always normalised by the number of control points.
func (c *Config) BendingOptions() (ffd.BendingOptions, error) {
	mode, err := ffd.ParseBendingMode(c.FFD.BendingMode)
	if err != nil {
		return ffd.BendingOptions{}, err
	}
	return ffd.BendingOptions{Mode: mode, WorldUnits: c.FFD.BendingWorldUnits, Normalize: true}, nil
}

func checkTriple(name string, v []float64, optional bool) error {
	if len(v) == 0 && optional {
		return nil
	}
	if len(v) != 3 {
		return fmt.Errorf("%w: %s needs 3 values, got %d", ErrInvalidConfig, name, len(v))
	}
	for _, x := range v {
		if !(x > 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, name, v)
		}
	}
	return nil
}

func checkSize(name string, v []int, optional bool) error {
	if len(v) == 0 && optional {
		return nil
	}
	if len(v) != 3 {
		return fmt.Errorf("%w: %s needs 3 values, got %d", ErrInvalidConfig, name, len(v))
	}
	for _, x := range v {
		if x <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, name, v)
		}
	}
	return nil
}
