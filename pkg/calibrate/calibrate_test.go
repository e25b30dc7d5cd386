package calibrate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctsim/internal/models"
	"ctsim/pkg/detect"
	"ctsim/pkg/material"
	"ctsim/pkg/spectrum"
)

// waterRow builds a one-angle count sinogram of readings through the given
// water thicknesses. samples sets the detector width, and with it the air
// reference path.
func waterRow(t *testing.T, sp *spectrum.Spectrum, tbl *material.Table, samples int, thickness []float64) *models.Sinogram {
	t.Helper()
	water, err := tbl.Coeff(material.Water)
	require.NoError(t, err)
	sino := models.NewSinogram(1, samples, models.UnitCounts)
	for i := range sino.Data {
		sino.Data[i], err = detect.Expected(sp, water, thickness[i%len(thickness)])
		require.NoError(t, err)
	}
	return sino
}

func TestCalibrateWithoutCorrectionIsLogRatio(t *testing.T) {
	tbl := material.Default()
	sp, err := spectrum.Bremsstrahlung(tbl.Energies(), 100, 1e6)
	require.NoError(t, err)
	air, _ := tbl.Coeff(material.Air)

	for _, scale := range []float64{0.01, 0.1, 1} {
		raw := waterRow(t, sp, tbl, 16, []float64{0, 0.5, 1, 3})
		res, err := Calibrate(sp, tbl, raw, scale, Options{})
		require.NoError(t, err)
		assert.Equal(t, models.UnitAttenuation, res.Sinogram.Unit)
		assert.Zero(t, res.NonFinite)

		reference, err := detect.Expected(sp, air, 2*scale*16)
		require.NoError(t, err)
		for i, v := range raw.Data {
			assert.Equal(t, -math.Log(v/reference), res.Sinogram.Data[i], "scale %g cell %d", scale, i)
		}
	}
}

func TestCalibrateMonochromaticIsExact(t *testing.T) {
	tbl := material.Default()
	sp, err := spectrum.Ideal(tbl.Energies(), 0.1, 1e6)
	require.NoError(t, err)

	thickness := []float64{0, 0.3, 1, 2}
	raw := waterRow(t, sp, tbl, 8, thickness)
	res, err := Calibrate(sp, tbl, raw, 0.01, DefaultOptions())
	require.NoError(t, err)

	for i, v := range res.Sinogram.Data {
		assert.InDelta(t, DefaultReferenceCoefficient*thickness[i%4], v, 1e-9)
	}
}

func TestCalibratePolychromaticWithinFitTolerance(t *testing.T) {
	tbl := material.Default()
	al, err := tbl.Coeff("Aluminium")
	require.NoError(t, err)

	sources := map[string]*spectrum.Spectrum{}
	sources["100kVp 3mm Al"], err = spectrum.Bremsstrahlung(tbl.Energies(), 100, 1e6,
		spectrum.Filtration{Coefficients: al, Thickness: 0.3})
	require.NoError(t, err)
	sources["80kVp 1mm Al"], err = spectrum.Bremsstrahlung(tbl.Energies(), 80, 1e6,
		spectrum.Filtration{Coefficients: al, Thickness: 0.1})
	require.NoError(t, err)

	thickness := []float64{0.3, 0.8, 1.3, 2}
	for name, sp := range sources {
		t.Run(name, func(t *testing.T) {
			raw := waterRow(t, sp, tbl, 4, thickness)
			res, err := Calibrate(sp, tbl, raw, 0.01, DefaultOptions())
			require.NoError(t, err)
			for i, v := range res.Sinogram.Data {
				assert.InEpsilon(t, DefaultReferenceCoefficient*thickness[i], v, 0.01)
			}
		})
	}
}

func TestCalibrateCorrectionLinearizes(t *testing.T) {
	tbl := material.Default()
	sp, err := spectrum.Bremsstrahlung(tbl.Energies(), 80, 1e6)
	require.NoError(t, err)

	thickness := []float64{0.5, 1, 2}
	raw := waterRow(t, sp, tbl, 3, thickness)

	plain, err := Calibrate(sp, tbl, raw, 0.01, Options{})
	require.NoError(t, err)
	corrected, err := Calibrate(sp, tbl, raw, 0.01, DefaultOptions())
	require.NoError(t, err)

	// Without correction doubling the water gives less than double the
	// attenuation; with correction it is close to proportional.
	plainRatio := plain.Sinogram.Data[2] / plain.Sinogram.Data[1]
	correctedRatio := corrected.Sinogram.Data[2] / corrected.Sinogram.Data[1]
	assert.Less(t, plainRatio, 1.99)
	assert.InDelta(t, 2, correctedRatio, 0.01)
}

func TestCalibrateZeroCountsAreCounted(t *testing.T) {
	tbl := material.Default()
	sp, err := spectrum.Ideal(tbl.Energies(), 0.07, 1e5)
	require.NoError(t, err)

	for _, opts := range []Options{{}, DefaultOptions()} {
		raw := models.NewSinogram(2, 3, models.UnitCounts)
		copy(raw.Data, []float64{1e5, 0, 5e4, -3, 2e4, 1e3})

		res, err := Calibrate(sp, tbl, raw, 0.1, opts)
		require.NoError(t, err)
		assert.Equal(t, 2, res.NonFinite)
		assert.False(t, isFinite(res.Sinogram.Data[1]))
		assert.False(t, isFinite(res.Sinogram.Data[3]))
		assert.True(t, isFinite(res.Sinogram.Data[0]))
		assert.True(t, isFinite(res.Sinogram.Data[5]))
	}
}

func TestCalibrateLeavesInputUntouched(t *testing.T) {
	tbl := material.Default()
	sp, err := spectrum.Ideal(tbl.Energies(), 0.1, 1e6)
	require.NoError(t, err)
	raw := waterRow(t, sp, tbl, 8, []float64{0.2, 0.4})
	before := raw.Clone()

	res, err := Calibrate(sp, tbl, raw, 0.01, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, before, raw)
	assert.NotSame(t, &raw.Data[0], &res.Sinogram.Data[0])
}

func TestReferenceCoefficient(t *testing.T) {
	tbl := material.Default()
	sp, err := spectrum.Ideal(tbl.Energies(), 0.1, 1e6)
	require.NoError(t, err)
	raw := waterRow(t, sp, tbl, 4, []float64{1})

	fallback, err := Calibrate(sp, tbl, raw, 0.01, Options{CorrectBeamHardening: true})
	require.NoError(t, err)
	assert.InDelta(t, DefaultReferenceCoefficient, fallback.Sinogram.Data[0], 1e-9)

	custom, err := Calibrate(sp, tbl, raw, 0.01, Options{CorrectBeamHardening: true, ReferenceCoefficient: 0.1707})
	require.NoError(t, err)
	assert.InDelta(t, 0.1707, custom.Sinogram.Data[0], 1e-9)
}

func TestCalibrateErrors(t *testing.T) {
	tbl := material.Default()
	sp, err := spectrum.Ideal(tbl.Energies(), 0.1, 1e6)
	require.NoError(t, err)
	raw := waterRow(t, sp, tbl, 4, []float64{1})

	_, err = Calibrate(sp, tbl, models.NewSinogram(1, 4, models.UnitAttenuation), 0.01, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrUnitMismatch)

	_, err = Calibrate(sp, tbl, raw, 0, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidScale)

	_, err = Calibrate(sp, tbl, raw, math.NaN(), DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidScale)

	airOnly, err := material.NewTable(tbl.Energies(), material.Entry{Name: material.Air, Coefficients: mustCoeff(t, tbl, material.Air)})
	require.NoError(t, err)
	_, err = Calibrate(sp, airOnly, raw, 0.01, DefaultOptions())
	assert.ErrorIs(t, err, material.ErrUnknownMaterial)
	_, err = Calibrate(sp, airOnly, raw, 0.01, Options{})
	assert.NoError(t, err)

	short, err := spectrum.New([]float64{0.05, 0.1}, []float64{1, 1})
	require.NoError(t, err)
	_, err = Calibrate(short, tbl, raw, 0.01, DefaultOptions())
	assert.ErrorIs(t, err, detect.ErrBinningMismatch)
}

func TestPolyfit(t *testing.T) {
	x := []float64{-2, -1, 0, 0.5, 1, 2, 3}
	y := make([]float64, len(x))
	want := []float64{1.5, -2, 0.25, 0.75}
	for i, xi := range x {
		y[i] = polyval(want, xi)
	}

	got, err := polyfit(x, y, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-10)

	_, err = polyfit([]float64{1, 2}, []float64{1, 2}, 3)
	assert.ErrorIs(t, err, ErrDegenerateFit)
}

func TestPolyval(t *testing.T) {
	assert.Equal(t, 0.0, polyval(nil, 3))
	assert.Equal(t, 1+2*3+3*9.0, polyval([]float64{1, 2, 3}, 3))
}

func mustCoeff(t *testing.T, tbl *material.Table, name string) []float64 {
	t.Helper()
	c, err := tbl.Coeff(name)
	require.NoError(t, err)
	return c
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
