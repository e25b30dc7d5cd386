// Package pipeline chains the acquisition and reconstruction stages:
// detection, calibration, ramp filtering, back-projection and the optional
// HU conversion and post-filtering.
package pipeline

import (
	"errors"
	"fmt"
	"runtime"

	"ctsim/internal/models"
	"ctsim/pkg/calibrate"
	"ctsim/pkg/detect"
	"ctsim/pkg/hu"
	"ctsim/pkg/material"
	"ctsim/pkg/postfilter"
	"ctsim/pkg/projection"
	"ctsim/pkg/rampfilter"
	"ctsim/pkg/spectrum"
)

// ErrInvalidMAs is returned when the tube current-time product is not positive.
var ErrInvalidMAs = errors.New("pipeline: mAs must be positive")

// DefaultMAs is the tube current-time product used when none is given.
const DefaultMAs = 10000

// Options configures a scan-and-reconstruct run.
type Options struct {
	// MAs scales the source spectrum (photons per mAs) to photons
	MAs float64

	// Scan controls detector noise and the forward projector
	Scan detect.ScanOptions

	// Calibration controls the beam-hardening correction
	Calibration calibrate.Options

	// Filter selects the ramp filter window
	Filter rampfilter.Options

	// HU converts the reconstruction to Hounsfield Units
	HU bool

	// PostFilter is applied last; empty means no post-filtering
	PostFilter postfilter.Spec

	// Verbose prints a banner as each stage starts
	Verbose bool
}

// DefaultOptions returns the standard protocol: 10000 mAs, no noise, beam
// hardening correction, a cosine ramp window and attenuation output.
func DefaultOptions() Options {
	opts := Options{
		MAs:         DefaultMAs,
		Scan:        detect.DefaultScanOptions(),
		Calibration: calibrate.DefaultOptions(),
		Filter:      rampfilter.DefaultOptions(),
	}
	opts.SetNumCores(runtime.NumCPU())
	return opts
}

// SetNumCores sets the worker count of every parallel stage.
func (o *Options) SetNumCores(n int) {
	o.Scan.Projection.NumCores = n
	o.Filter.NumCores = n
}

// Result holds every intermediate product of a run.
type Result struct {
	// Raw is the detector count sinogram
	Raw *models.Sinogram

	// Calibrated is the attenuation sinogram
	Calibrated *models.Sinogram

	// Filtered is the ramp-filtered sinogram
	Filtered *models.Sinogram

	// Attenuation is the back-projected image in cm^-1
	Attenuation *models.Image

	// Image is the final output: Attenuation, or its HU and post-filtered form
	Image *models.Image

	// NonFinite counts calibrated cells that were NaN or infinite
	NonFinite int
}

// ScanAndReconstruct simulates a CT scan of ph and reconstructs it.
//
// Parameters:
//   - sp: Source spectrum in photons per mAs
//   - table: Material table covering every phantom material, Air and Water
//   - ph: The phantom to scan
//   - pixelScale: Pixel size in cm
//   - angles: Number of projection angles over [0, pi)
//   - opts: Protocol and reconstruction settings
//
// Returns:
//   - A Result whose Image has the phantom's size
func ScanAndReconstruct(sp *spectrum.Spectrum, table *material.Table, ph *models.Phantom, pixelScale float64, angles int, opts Options) (*Result, error) {
	if !(opts.MAs > 0) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidMAs, opts.MAs)
	}
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	photons := sp.Scaled(opts.MAs)

	opts.stage(1, "Scanning phantom")
	raw, err := detect.Scan(photons, table, ph, pixelScale, angles, opts.Scan)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	res := &Result{Raw: raw}

	opts.stage(2, "Calibrating detector readings")
	cal, err := calibrate.Calibrate(photons, table, raw, pixelScale, opts.Calibration)
	if err != nil {
		return nil, fmt.Errorf("calibration failed: %w", err)
	}
	res.Calibrated = cal.Sinogram
	res.NonFinite = cal.NonFinite

	opts.stage(3, fmt.Sprintf("Ramp filtering (%s window)", opts.Filter.Window))
	res.Filtered, err = rampfilter.Apply(res.Calibrated, pixelScale, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("ramp filter failed: %w", err)
	}

	opts.stage(4, "Back-projecting")
	res.Attenuation, err = projection.BackProject(res.Filtered, projection.Options{NumCores: opts.Scan.Projection.NumCores})
	if err != nil {
		return nil, fmt.Errorf("back-projection failed: %w", err)
	}
	res.Image = res.Attenuation

	if opts.HU {
		opts.stage(5, "Converting to Hounsfield Units")
		res.Image, err = hu.ToHUWithOptions(photons, table, res.Image, pixelScale, opts.Calibration)
		if err != nil {
			return nil, fmt.Errorf("HU conversion failed: %w", err)
		}
	}

	if len(opts.PostFilter) > 0 {
		opts.stage(6, fmt.Sprintf("Post-filtering (%s)", opts.PostFilter))
		res.Image, err = postfilter.Apply(res.Image, opts.PostFilter)
		if err != nil {
			return nil, fmt.Errorf("post-filter failed: %w", err)
		}
	}

	return res, nil
}

func (o Options) stage(step int, name string) {
	if o.Verbose {
		fmt.Printf("Step %d: %s...\n", step, name)
	}
}
