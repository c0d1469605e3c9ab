package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volwarp/pkg/ffd"
	"volwarp/pkg/kernel"
)

// TestDefaultConfigIsValid checks the built-in defaults
func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	e, err := cfg.Extrapolation()
	require.NoError(t, err)
	assert.Equal(t, ffd.ExtrapolateNone, e)

	k, err := cfg.Kernel()
	require.NoError(t, err)
	assert.Equal(t, kernel.Linear, k)

	opts, err := cfg.BendingOptions()
	require.NoError(t, err)
	assert.Equal(t, ffd.DefaultBendingOptions(), opts)
}

// TestLoadConfigMissingFile returns defaults when no file exists
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "volwarp.yaml")

	cfg := DefaultConfig()
	cfg.Resampling.NumWorkers = 3
	cfg.Resampling.Spacing = []float64{2, 2, 2}
	cfg.FFD.Extrapolation = "mirror"
	cfg.FFD.BendingMode = "first-difference"
	cfg.Output.Verbose = true
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip changed the config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := "ffd:\n  controlPointSpacing: 5\n  extrapolation: nearest\nphantom:\n  radius: 12\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.FFD.ControlPointSpacing)
	assert.Equal(t, 12.0, cfg.Phantom.Radius)
	// Unset keys keep their defaults
	assert.Equal(t, DefaultConfig().Phantom.Dimensions, cfg.Phantom.Dimensions)
	e, err := cfg.Extrapolation()
	require.NoError(t, err)
	assert.Equal(t, ffd.ExtrapolateNearest, e)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("resampling: [1, 2"), 0644))
	_, err := LoadConfig(broken)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("ffd:\n  bendingMode: thin-plate\n"), 0644))
	_, err = LoadConfig(invalid)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
	}{
		{"negative workers", func(c *Config) { c.Resampling.NumWorkers = -1 }},
		{"short spacing", func(c *Config) { c.Resampling.Spacing = []float64{1, 1} }},
		{"zero size", func(c *Config) { c.Resampling.Size = []int{4, 0, 4} }},
		{"zero control point spacing", func(c *Config) { c.FFD.ControlPointSpacing = 0 }},
		{"negative displacement", func(c *Config) { c.FFD.MaxDisplacement = -1 }},
		{"unknown extrapolation", func(c *Config) { c.FFD.Extrapolation = "periodic" }},
		{"unknown interpolation", func(c *Config) { c.Resampling.Interpolation = "sinc" }},
		{"missing phantom dimensions", func(c *Config) { c.Phantom.Dimensions = nil }},
		{"negative phantom spacing", func(c *Config) { c.Phantom.Spacing = []float64{1, -1, 1} }},
		{"zero radius", func(c *Config) { c.Phantom.Radius = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "controlPointSpacing: 10")
	assert.Contains(t, string(data), "extrapolation: none")
	assert.Contains(t, string(data), "interpolation: linear")
}
