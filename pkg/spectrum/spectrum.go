// Package spectrum describes X-ray source spectra as photon counts per energy bin.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSpectrum is returned when spectrum data is malformed.
var ErrInvalidSpectrum = errors.New("spectrum: invalid spectrum")

// Spectrum holds the photon count emitted in each energy bin.
// The binning must match the material table it is used with.
type Spectrum struct {
	// Energies are the bin energies in MeV
	Energies []float64 `yaml:"energies"`

	// Photons is the photon count (per mAs) in each bin
	Photons []float64 `yaml:"photons"`
}

// Filtration describes a slab the beam passes through before reaching the
// patient, e.g. 3 mm of aluminium.
type Filtration struct {
	// Coefficients is the slab material's attenuation curve in cm^-1
	Coefficients []float64

	// Thickness is the slab thickness in cm
	Thickness float64
}

// New builds a spectrum after checking that the two slices line up.
func New(energies, photons []float64) (*Spectrum, error) {
	s := &Spectrum{
		Energies: append([]float64(nil), energies...),
		Photons:  append([]float64(nil), photons...),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Ideal returns a monochromatic source: all photons sit in the bin closest to
// energy. This is the "ideal" source used for quantitative regression runs.
func Ideal(energies []float64, energy, photons float64) (*Spectrum, error) {
	if len(energies) == 0 {
		return nil, fmt.Errorf("%w: empty energy grid", ErrInvalidSpectrum)
	}
	best := 0
	for i, e := range energies {
		if math.Abs(e-energy) < math.Abs(energies[best]-energy) {
			best = i
		}
	}
	counts := make([]float64, len(energies))
	counts[best] = photons
	return New(energies, counts)
}

// Bremsstrahlung approximates a tube spectrum with Kramers' law, counts
// proportional to (kvp - E)/E below the peak voltage, attenuated by the
// given filtration and normalized to total photons.
func Bremsstrahlung(energies []float64, kvp, total float64, filters ...Filtration) (*Spectrum, error) {
	if !(kvp > 0) {
		return nil, fmt.Errorf("%w: peak voltage %g kV", ErrInvalidSpectrum, kvp)
	}
	peak := kvp / 1000 // kV -> MeV
	counts := make([]float64, len(energies))
	for i, e := range energies {
		if e <= 0 || e >= peak {
			continue
		}
		counts[i] = (peak - e) / e
		for _, f := range filters {
			if len(f.Coefficients) != len(energies) {
				return nil, fmt.Errorf("%w: filtration has %d coefficients for %d energies",
					ErrInvalidSpectrum, len(f.Coefficients), len(energies))
			}
			counts[i] *= math.Exp(-f.Coefficients[i] * f.Thickness)
		}
	}
	sum := floats.Sum(counts)
	if sum <= 0 {
		return nil, fmt.Errorf("%w: no photons below %g kV on this energy grid", ErrInvalidSpectrum, kvp)
	}
	floats.Scale(total/sum, counts)
	return New(energies, counts)
}

// Load reads a YAML spectrum with "energies" and "photons" lists.
func Load(path string) (*Spectrum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading spectrum: %w", err)
	}
	var s Spectrum
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing spectrum: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the spectrum for matching lengths and non-negative counts.
func (s *Spectrum) Validate() error {
	if s == nil || len(s.Energies) == 0 {
		return fmt.Errorf("%w: empty spectrum", ErrInvalidSpectrum)
	}
	if len(s.Energies) != len(s.Photons) {
		return fmt.Errorf("%w: %d energies but %d photon counts", ErrInvalidSpectrum, len(s.Energies), len(s.Photons))
	}
	for i, p := range s.Photons {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: photon count %d is %g", ErrInvalidSpectrum, i, p)
		}
	}
	return nil
}

// Scaled returns a copy with every bin multiplied by factor, e.g. a tube
// current-time product in mAs.
func (s *Spectrum) Scaled(factor float64) *Spectrum {
	c := &Spectrum{
		Energies: append([]float64(nil), s.Energies...),
		Photons:  append([]float64(nil), s.Photons...),
	}
	floats.Scale(factor, c.Photons)
	return c
}

// Total returns the photon count summed over all bins.
func (s *Spectrum) Total() float64 {
	return floats.Sum(s.Photons)
}

// Peak returns the index of the bin with the most photons.
func (s *Spectrum) Peak() int {
	return floats.MaxIdx(s.Photons)
}

// MeanEnergy returns the photon-weighted mean energy in MeV.
func (s *Spectrum) MeanEnergy() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return floats.Dot(s.Energies, s.Photons) / total
}
