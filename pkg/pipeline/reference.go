package pipeline

import (
	"ctsim/internal/models"
	"ctsim/pkg/calibrate"
	"ctsim/pkg/hu"
	"ctsim/pkg/material"
	"ctsim/pkg/phantom"
	"ctsim/pkg/spectrum"
)

// Reference returns the image a perfect reconstruction of ph would produce
// under opts, using coefficients at the spectrum's peak energy.
//
// With beam-hardening correction a material reconstructs to its coefficient
// above air in units of the water reference, c*(mu - air)/water. Without it
// the value is mu - air. HU runs map mu straight to Hounsfield Units.
func Reference(sp *spectrum.Spectrum, table *material.Table, ph *models.Phantom, opts Options) (*models.Image, error) {
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	peak := sp.Peak()
	img, err := phantom.Attenuation(ph, table, peak)
	if err != nil {
		return nil, err
	}
	water, err := table.CoeffAt(material.Water, peak)
	if err != nil {
		return nil, err
	}
	air, err := table.CoeffAt(material.Air, peak)
	if err != nil {
		return nil, err
	}

	c := opts.Calibration.ReferenceCoefficient
	if c <= 0 {
		c = calibrate.DefaultReferenceCoefficient
	}
	for i, mu := range img.Data {
		switch {
		case opts.HU:
			img.Data[i] = hu.FromAttenuation(mu, water)
		case opts.Calibration.CorrectBeamHardening:
			img.Data[i] = c * (mu - air) / water
		default:
			img.Data[i] = mu - air
		}
	}
	return img, nil
}
