// Package hu converts reconstructed attenuation into Hounsfield Units.
package hu

import (
	"errors"
	"fmt"
	"math"

	"ctsim/internal/models"
	"ctsim/pkg/calibrate"
	"ctsim/pkg/detect"
	"ctsim/pkg/material"
	"ctsim/pkg/spectrum"
)

// ErrDegenerateCalibration is returned when the water reference comes out
// zero or non-finite, so no HU scale can be built on it.
var ErrDegenerateCalibration = errors.New("hu: degenerate water calibration")

// HU range stored by CT scanners.
const (
	Min = -1024
	Max = 3071
)

// Water returns the value a reconstruction assigns to water for an image of
// n pixels across, found by pushing a water reading through the same
// calibration as the acquisition.
//
// The reference ray crosses pixelScale*n cm of water and as much air, so its
// total path matches the 2*pixelScale*n cm air reference. Beam-hardening
// correction is always applied; copts only contributes its reference
// coefficient.
func Water(sp *spectrum.Spectrum, table *material.Table, n int, pixelScale float64, copts calibrate.Options) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: image size %d", models.ErrShape, n)
	}
	if !(pixelScale > 0) || math.IsInf(pixelScale, 0) {
		return 0, fmt.Errorf("%w: got %g", calibrate.ErrInvalidScale, pixelScale)
	}
	water, err := table.Coeff(material.Water)
	if err != nil {
		return 0, err
	}
	air, err := table.Coeff(material.Air)
	if err != nil {
		return 0, err
	}

	path := pixelScale * float64(n)
	reading, err := detect.ExpectedLayers(sp, [][]float64{water, air}, []float64{path, path})
	if err != nil {
		return 0, err
	}

	sino := models.NewSinogram(1, n, models.UnitCounts)
	for i := range sino.Data {
		sino.Data[i] = reading
	}
	copts.CorrectBeamHardening = true
	res, err := calibrate.Calibrate(sp, table, sino, pixelScale, copts)
	if errors.Is(err, calibrate.ErrDegenerateFit) {
		return 0, fmt.Errorf("%w: %w", ErrDegenerateCalibration, err)
	}
	if err != nil {
		return 0, err
	}

	value := res.Sinogram.Data[0] / path
	if math.IsNaN(value) || math.IsInf(value, 0) || math.Abs(value) < 1e-12 {
		return 0, fmt.Errorf("%w: water maps to %g", ErrDegenerateCalibration, value)
	}
	return value, nil
}

// ToHU converts a reconstruction into Hounsfield Units using the default
// calibration options.
func ToHU(sp *spectrum.Spectrum, table *material.Table, recon *models.Image, pixelScale float64) (*models.Image, error) {
	return ToHUWithOptions(sp, table, recon, pixelScale, calibrate.DefaultOptions())
}

// ToHUWithOptions converts a reconstruction into Hounsfield Units,
// 1000*(mu - water)/water, rounded to whole units and clipped to [Min, Max].
// NaN pixels map to Min.
func ToHUWithOptions(sp *spectrum.Spectrum, table *material.Table, recon *models.Image, pixelScale float64, copts calibrate.Options) (*models.Image, error) {
	if err := recon.Validate(); err != nil {
		return nil, err
	}
	n := recon.Width
	if recon.Height > n {
		n = recon.Height
	}
	water, err := Water(sp, table, n, pixelScale, copts)
	if err != nil {
		return nil, err
	}

	out := models.NewImage(recon.Width, recon.Height)
	for i, v := range recon.Data {
		out.Data[i] = FromAttenuation(v, water)
	}
	return out, nil
}

// FromAttenuation converts one attenuation value given the water reference.
func FromAttenuation(mu, water float64) float64 {
	h := 1000 * (mu - water) / water
	switch {
	case math.IsNaN(h), h < Min:
		return Min
	case h > Max:
		return Max
	}
	return math.Round(h)
}
