// Package calibrate turns raw detector counts into attenuation line integrals.
//
// The conversion divides by the reading through an all-air path, takes the
// negative log, and optionally straightens the beam-hardening curve of a
// polychromatic source by mapping measured attenuation back onto the
// equivalent water thickness.
package calibrate

import (
	"errors"
	"fmt"
	"log"
	"math"

	"ctsim/internal/models"
	"ctsim/pkg/detect"
	"ctsim/pkg/material"
	"ctsim/pkg/spectrum"
)

var (
	// ErrInvalidScale is returned when the pixel scale is not positive.
	ErrInvalidScale = errors.New("calibrate: pixel scale must be positive")

	// ErrDegenerateFit is returned when the water ladder cannot support a cubic fit.
	ErrDegenerateFit = errors.New("calibrate: degenerate beam-hardening fit")
)

// DefaultReferenceCoefficient scales equivalent water thickness back to
// attenuation, in cm^-1.
const DefaultReferenceCoefficient = 0.243

const (
	fitDegree = 3

	// minLadder is the minimum number of water thicknesses in the fit.
	minLadder = 256
)

// Options controls calibration.
type Options struct {
	// CorrectBeamHardening enables the water-equivalent polynomial correction
	CorrectBeamHardening bool

	// ReferenceCoefficient multiplies the water-equivalent thickness.
	// Values <= 0 select DefaultReferenceCoefficient.
	ReferenceCoefficient float64
}

// DefaultOptions enables beam-hardening correction with the default reference coefficient.
func DefaultOptions() Options {
	return Options{
		CorrectBeamHardening: true,
		ReferenceCoefficient: DefaultReferenceCoefficient,
	}
}

// Result is a calibrated sinogram plus quality bookkeeping.
type Result struct {
	// Sinogram holds the attenuation line integrals (UnitAttenuation)
	Sinogram *models.Sinogram

	// NonFinite counts cells that came out NaN or infinite, typically from
	// detector readings of zero photons
	NonFinite int
}

// Calibrate converts a sinogram of raw counts into attenuation.
//
// The air reference is the reading through 2*pixelScale*samples cm of air,
// the same path the detection simulator assumes for every ray. Cells whose
// count is zero or negative produce non-finite values; they are kept, counted
// in Result.NonFinite and reported as a warning.
//
// Parameters:
//   - sp: Source spectrum used for the acquisition
//   - table: Material table; must contain Air and, for correction, Water
//   - raw: Sinogram of detector counts (UnitCounts)
//   - pixelScale: Pixel size in cm
//   - opts: Correction settings
//
// Returns:
//   - A Result holding a new sinogram in UnitAttenuation
func Calibrate(sp *spectrum.Spectrum, table *material.Table, raw *models.Sinogram, pixelScale float64, opts Options) (*Result, error) {
	if err := raw.Expect(models.UnitCounts); err != nil {
		return nil, err
	}
	if !(pixelScale > 0) || math.IsInf(pixelScale, 0) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidScale, pixelScale)
	}

	air, err := table.Coeff(material.Air)
	if err != nil {
		return nil, err
	}
	n := raw.Samples
	calibration, err := detect.Expected(sp, air, 2*pixelScale*float64(n))
	if err != nil {
		return nil, err
	}

	out := models.NewSinogram(raw.Angles, raw.Samples, models.UnitAttenuation)
	for i, v := range raw.Data {
		out.Data[i] = -math.Log(v / calibration)
	}

	if opts.CorrectBeamHardening {
		coeffs, err := waterFit(sp, table, calibration, pixelScale, n)
		if err != nil {
			return nil, err
		}
		c := opts.ReferenceCoefficient
		if c <= 0 {
			c = DefaultReferenceCoefficient
		}
		for i, p := range out.Data {
			out.Data[i] = c * polyval(coeffs, p)
		}
	}

	res := &Result{Sinogram: out}
	for _, v := range out.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			res.NonFinite++
		}
	}
	if res.NonFinite > 0 {
		log.Printf("Warning: %d of %d calibrated readings are not finite; reconstruction quality will suffer",
			res.NonFinite, len(out.Data))
	}
	return res, nil
}

// waterFit fits equivalent water thickness as a cubic in measured
// attenuation, over a ladder of water thicknesses in pixelScale steps.
func waterFit(sp *spectrum.Spectrum, table *material.Table, calibration, pixelScale float64, n int) ([]float64, error) {
	water, err := table.Coeff(material.Water)
	if err != nil {
		return nil, err
	}

	steps := n
	if steps < minLadder {
		steps = minLadder
	}
	thickness := make([]float64, steps)
	for i := range thickness {
		thickness[i] = pixelScale * float64(i)
	}
	readings, err := detect.ExpectedDepths(sp, water, thickness)
	if err != nil {
		return nil, err
	}

	// Very thick water can starve the detector; leave those rungs out.
	var pw, t []float64
	for i, r := range readings {
		p := -math.Log(r / calibration)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		pw = append(pw, p)
		t = append(t, thickness[i])
	}
	return polyfit(pw, t, fitDegree)
}
