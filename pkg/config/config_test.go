package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctsim/pkg/material"
	"ctsim/pkg/phantom"
	"ctsim/pkg/postfilter"
	"ctsim/pkg/rampfilter"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.PipelineOptions()
	require.NoError(t, err)
	assert.Equal(t, rampfilter.Cosine, opts.Filter.Window)
	assert.Nil(t, opts.Filter.Alpha)
	assert.True(t, opts.Calibration.CorrectBeamHardening)
	assert.False(t, opts.HU)
	assert.Empty(t, opts.PostFilter)
	assert.Equal(t, cfg.Reconstruction.NumCores, opts.Scan.Projection.NumCores)
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ctsim.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctsim.yaml")
	data := `
scan:
  size: 64
  phantom: head
  material: Titanium
  noise: true
source:
  energy: 0
  kvp: 100
  filterMM: 3
reconstruction:
  window: hamming
  alpha: 0.6
  hu: true
processing:
  postFilters: [denoise, unsharp]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 64, cfg.Scan.Size)
	assert.Equal(t, 256, cfg.Scan.Angles, "unset keys keep their defaults")

	opts, err := cfg.PipelineOptions()
	require.NoError(t, err)
	assert.Equal(t, rampfilter.Hamming, opts.Filter.Window)
	require.NotNil(t, opts.Filter.Alpha)
	assert.Equal(t, 0.6, *opts.Filter.Alpha)
	assert.True(t, opts.HU)
	assert.True(t, opts.Scan.Noise)
	assert.Equal(t, postfilter.Spec{postfilter.Denoise, postfilter.Unsharp}, opts.PostFilter)

	tbl, err := cfg.Table()
	require.NoError(t, err)
	sp, err := cfg.Spectrum(tbl)
	require.NoError(t, err)
	assert.InDelta(t, cfg.Source.Photons, sp.Total(), 1e-6)
	assert.Less(t, sp.MeanEnergy(), 0.1)

	ph, err := cfg.Phantom()
	require.NoError(t, err)
	assert.Equal(t, 64, ph.Size)
	assert.Contains(t, ph.Materials, "Titanium")
}

func TestPostFiltersAsString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.PostFilters = "close,edge"
	spec, err := cfg.PostFilter()
	require.NoError(t, err)
	assert.Equal(t, postfilter.Spec{postfilter.Close, postfilter.Edge}, spec)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.Size = 0
	cfg.Scan.PixelScale = math.Inf(1)
	cfg.Scan.Phantom = "cube"
	cfg.Reconstruction.Window = "gauss"
	cfg.Processing.PostFilters = []any{"denoise", 3}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, phantom.ErrUnknownPhantom)
	assert.ErrorIs(t, err, rampfilter.ErrInvalidWindow)
	assert.ErrorIs(t, err, postfilter.ErrInvalidSpecType)
	assert.Contains(t, err.Error(), "scan.size")
	assert.Contains(t, err.Error(), "scan.pixelScale")
}

func TestValidateSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Energy = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.Source.KVp = 80
	assert.NoError(t, cfg.Validate())

	cfg.Source.Photons = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.Source.File = "spectrum.yaml"
	assert.NoError(t, cfg.Validate(), "a spectrum file carries its own photon counts")

	alpha := math.NaN()
	cfg.Reconstruction.Alpha = &alpha
	assert.ErrorIs(t, cfg.Validate(), rampfilter.ErrInvalidAlpha)
}

func TestSpectrumFromFileAndTable(t *testing.T) {
	dir := t.TempDir()
	spPath := filepath.Join(dir, "spectrum.yaml")
	require.NoError(t, os.WriteFile(spPath, []byte("energies: [0.05, 0.1]\nphotons: [10, 30]\n"), 0644))

	tblPath := filepath.Join(dir, "materials.yaml")
	tblData := `
energies: [0.05, 0.1]
materials:
  - name: Air
    coefficients: [0.0002, 0.0002]
  - name: Water
    coefficients: [0.2269, 0.1707]
`
	require.NoError(t, os.WriteFile(tblPath, []byte(tblData), 0644))

	cfg := DefaultConfig()
	cfg.Source.File = spPath
	cfg.Materials = tblPath

	tbl, err := cfg.Table()
	require.NoError(t, err)
	assert.Equal(t, []string{material.Air, material.Water}, tbl.Names())

	sp, err := cfg.Spectrum(tbl)
	require.NoError(t, err)
	assert.Equal(t, 40.0, sp.Total())

	cfg.Materials = filepath.Join(dir, "missing.yaml")
	_, err = cfg.Table()
	assert.Error(t, err)
}

func TestSpectrumFiltrationNeedsAluminium(t *testing.T) {
	tbl, err := material.NewTable([]float64{0.05, 0.1},
		material.Entry{Name: material.Air, Coefficients: []float64{0.0002, 0.0002}},
		material.Entry{Name: material.Water, Coefficients: []float64{0.2269, 0.1707}},
	)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Source.Energy = 0
	cfg.Source.KVp = 120
	cfg.Source.FilterMM = 2
	_, err = cfg.Spectrum(tbl)
	assert.ErrorIs(t, err, material.ErrUnknownMaterial)

	cfg.Source.FilterMM = 0
	sp, err := cfg.Spectrum(tbl)
	require.NoError(t, err)
	assert.NoError(t, sp.Validate())
}
