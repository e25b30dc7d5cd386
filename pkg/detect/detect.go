// Package detect models what an energy-integrating detector reads after a
// polychromatic beam has crossed one or more material layers.
package detect

import (
	"errors"
	"fmt"
	"math"

	"ctsim/pkg/spectrum"
)

var (
	// ErrBinningMismatch is returned when an attenuation curve and a spectrum
	// use different energy grids.
	ErrBinningMismatch = errors.New("detect: energy binning mismatch")

	// ErrInvalidDepth is returned for negative or non-finite path lengths.
	ErrInvalidDepth = errors.New("detect: invalid path length")
)

// Expected returns the mean detector reading after the spectrum crosses depth
// cm of a single material: the sum over energy bins of photons*exp(-mu*depth).
func Expected(sp *spectrum.Spectrum, coeff []float64, depth float64) (float64, error) {
	return ExpectedLayers(sp, [][]float64{coeff}, []float64{depth})
}

// ExpectedLayers returns the mean detector reading after the spectrum crosses
// every layer in turn, layer i being depths[i] cm of the material whose
// attenuation curve is coeffs[i].
func ExpectedLayers(sp *spectrum.Spectrum, coeffs [][]float64, depths []float64) (float64, error) {
	if len(coeffs) != len(depths) {
		return 0, fmt.Errorf("%w: %d attenuation curves for %d depths", ErrBinningMismatch, len(coeffs), len(depths))
	}
	if err := checkBinning(sp, coeffs...); err != nil {
		return 0, err
	}
	for _, d := range depths {
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, fmt.Errorf("%w: %g cm", ErrInvalidDepth, d)
		}
	}
	return attenuate(sp.Photons, coeffs, depths), nil
}

// ExpectedDepths evaluates Expected for every depth in depths.
func ExpectedDepths(sp *spectrum.Spectrum, coeff []float64, depths []float64) ([]float64, error) {
	out := make([]float64, len(depths))
	for i, d := range depths {
		v, err := Expected(sp, coeff, d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// attenuate is the unchecked kernel shared by the public helpers and Scan.
func attenuate(photons []float64, coeffs [][]float64, depths []float64) float64 {
	var total float64
	for e, n := range photons {
		if n == 0 {
			continue
		}
		var mu float64
		for l, c := range coeffs {
			mu += c[e] * depths[l]
		}
		total += n * math.Exp(-mu)
	}
	return total
}

func checkBinning(sp *spectrum.Spectrum, coeffs ...[]float64) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	for _, c := range coeffs {
		if len(c) != len(sp.Photons) {
			return fmt.Errorf("%w: spectrum has %d bins, attenuation curve has %d",
				ErrBinningMismatch, len(sp.Photons), len(c))
		}
	}
	return nil
}
