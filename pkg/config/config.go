// Package config provides configuration loading and management for ctsim.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"ctsim/internal/models"
	"ctsim/pkg/calibrate"
	"ctsim/pkg/material"
	"ctsim/pkg/phantom"
	"ctsim/pkg/pipeline"
	"ctsim/pkg/postfilter"
	"ctsim/pkg/rampfilter"
	"ctsim/pkg/spectrum"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// filterMaterial is the material a tube's filtration is made of.
const filterMaterial = "Aluminium"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Scan parameters
	Scan struct {
		// Size is the phantom and image width in pixels
		Size int `yaml:"size"`

		// Angles is the number of projections over 180 degrees
		Angles int `yaml:"angles"`

		// PixelScale is the pixel size in cm
		PixelScale float64 `yaml:"pixelScale"`

		// Phantom selects the phantom: disk, impulse or head
		Phantom string `yaml:"phantom"`

		// Material is the disk or impulse material, or the head implant
		Material string `yaml:"material"`

		// MAs is the tube current-time product
		MAs float64 `yaml:"mAs"`

		// Noise adds Poisson photon noise to the detector readings
		Noise bool `yaml:"noise"`

		// Seed seeds the noise generator
		Seed uint64 `yaml:"seed"`
	} `yaml:"scan"`

	// Source parameters. File takes precedence over Energy, which takes
	// precedence over KVp.
	Source struct {
		// File is a YAML spectrum in photons per mAs
		File string `yaml:"file,omitempty"`

		// Energy selects an ideal source at this energy in MeV
		Energy float64 `yaml:"energy,omitempty"`

		// KVp selects a bremsstrahlung source with this peak voltage
		KVp float64 `yaml:"kvp,omitempty"`

		// FilterMM is the aluminium filtration of the bremsstrahlung source in mm
		FilterMM float64 `yaml:"filterMM,omitempty"`

		// Photons is the photon count per mAs of a generated source
		Photons float64 `yaml:"photons"`
	} `yaml:"source"`

	// Reconstruction parameters
	Reconstruction struct {
		// Window names the ramp filter window
		Window string `yaml:"window"`

		// Alpha overrides the window's default parameter when set
		Alpha *float64 `yaml:"alpha,omitempty"`

		// BeamHardening enables the water-equivalent calibration
		BeamHardening bool `yaml:"beamHardening"`

		// HU converts the output to Hounsfield Units
		HU bool `yaml:"hu"`

		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"reconstruction"`

	// Processing parameters
	Processing struct {
		// PostFilters is a filter name, a comma-separated list or a YAML list
		PostFilters any `yaml:"postFilters,omitempty"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Dir receives the exported images
		Dir string `yaml:"dir"`

		// PNG writes 8-bit captioned previews
		PNG bool `yaml:"png"`

		// TIFF writes 16-bit images
		TIFF bool `yaml:"tiff"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Materials is an optional path to a YAML material table
	Materials string `yaml:"materials,omitempty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default scan parameters
	cfg.Scan.Size = 256
	cfg.Scan.Angles = 256
	cfg.Scan.PixelScale = 0.01
	cfg.Scan.Phantom = "disk"
	cfg.Scan.Material = phantom.DefaultTissue
	cfg.Scan.MAs = pipeline.DefaultMAs
	cfg.Scan.Seed = 1

	// Set default source parameters
	cfg.Source.Energy = 0.1
	cfg.Source.Photons = 1e4

	// Set default reconstruction parameters
	cfg.Reconstruction.Window = rampfilter.Cosine.String()
	cfg.Reconstruction.BeamHardening = true
	cfg.Reconstruction.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.Dir = "output"
	cfg.Output.PNG = true
	cfg.Output.TIFF = true
	cfg.Output.Verbose = true

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

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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

// Validate checks every setting that can be checked without touching the disk.
// The returned error wraps ErrInvalidConfig and every individual problem.
func (c *Config) Validate() error {
	var problems []error
	if c.Scan.Size <= 0 {
		problems = append(problems, fmt.Errorf("scan.size must be positive, got %d", c.Scan.Size))
	}
	if c.Scan.Angles <= 0 {
		problems = append(problems, fmt.Errorf("scan.angles must be positive, got %d", c.Scan.Angles))
	}
	if !positive(c.Scan.PixelScale) {
		problems = append(problems, fmt.Errorf("scan.pixelScale must be positive, got %g", c.Scan.PixelScale))
	}
	if !positive(c.Scan.MAs) {
		problems = append(problems, fmt.Errorf("scan.mAs must be positive, got %g", c.Scan.MAs))
	}
	if !slices.Contains(phantom.Kinds(), strings.ToLower(c.Scan.Phantom)) {
		problems = append(problems, fmt.Errorf("%w: %q (valid: %s)",
			phantom.ErrUnknownPhantom, c.Scan.Phantom, strings.Join(phantom.Kinds(), ", ")))
	}

	if c.Source.File == "" {
		if !(c.Source.Energy > 0) && !(c.Source.KVp > 0) {
			problems = append(problems, errors.New("source needs a file, an energy or a kvp"))
		}
		if !positive(c.Source.Photons) {
			problems = append(problems, fmt.Errorf("source.photons must be positive, got %g", c.Source.Photons))
		}
	}
	if c.Source.FilterMM < 0 || math.IsNaN(c.Source.FilterMM) {
		problems = append(problems, fmt.Errorf("source.filterMM must not be negative, got %g", c.Source.FilterMM))
	}

	if _, err := c.Filter(); err != nil {
		problems = append(problems, err)
	}
	if _, err := c.PostFilter(); err != nil {
		problems = append(problems, err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Filter returns the ramp filter options.
func (c *Config) Filter() (rampfilter.Options, error) {
	w, err := rampfilter.ParseWindow(c.Reconstruction.Window)
	if err != nil {
		return rampfilter.Options{}, err
	}
	opts := rampfilter.Options{Window: w, NumCores: c.Reconstruction.NumCores}
	if c.Reconstruction.Alpha != nil {
		a := *c.Reconstruction.Alpha
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return rampfilter.Options{}, fmt.Errorf("%w: %g", rampfilter.ErrInvalidAlpha, a)
		}
		opts.Alpha = &a
	}
	return opts, nil
}

// PostFilter returns the post-processing filter chain.
func (c *Config) PostFilter() (postfilter.Spec, error) {
	return postfilter.SpecFromValue(c.Processing.PostFilters)
}

// Table returns the material table: the one named by Materials, or the
// built-in default.
func (c *Config) Table() (*material.Table, error) {
	if c.Materials == "" {
		return material.Default(), nil
	}
	return material.Load(c.Materials)
}

// Spectrum builds the source spectrum in photons per mAs on the table's
// energy grid.
func (c *Config) Spectrum(table *material.Table) (*spectrum.Spectrum, error) {
	switch {
	case c.Source.File != "":
		return spectrum.Load(c.Source.File)
	case c.Source.Energy > 0:
		return spectrum.Ideal(table.Energies(), c.Source.Energy, c.Source.Photons)
	}

	var filters []spectrum.Filtration
	if c.Source.FilterMM > 0 {
		al, err := table.Coeff(filterMaterial)
		if err != nil {
			return nil, fmt.Errorf("source filtration: %w", err)
		}
		filters = append(filters, spectrum.Filtration{Coefficients: al, Thickness: c.Source.FilterMM / 10})
	}
	return spectrum.Bremsstrahlung(table.Energies(), c.Source.KVp, c.Source.Photons, filters...)
}

// Phantom builds the configured phantom.
func (c *Config) Phantom() (*models.Phantom, error) {
	return phantom.ByName(c.Scan.Phantom, c.Scan.Size, c.Scan.Material)
}

// PipelineOptions translates the configuration into pipeline options.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	opts.MAs = c.Scan.MAs
	opts.Scan.Noise = c.Scan.Noise
	opts.Scan.Seed = c.Scan.Seed
	opts.Calibration = calibrate.Options{
		CorrectBeamHardening: c.Reconstruction.BeamHardening,
		ReferenceCoefficient: calibrate.DefaultReferenceCoefficient,
	}
	opts.HU = c.Reconstruction.HU
	opts.Verbose = c.Output.Verbose

	var err error
	if opts.Filter, err = c.Filter(); err != nil {
		return pipeline.Options{}, err
	}
	if opts.PostFilter, err = c.PostFilter(); err != nil {
		return pipeline.Options{}, err
	}
	opts.SetNumCores(c.Reconstruction.NumCores)
	return opts, nil
}
