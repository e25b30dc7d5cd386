package detect

import (
	"fmt"
	"log"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"ctsim/internal/models"
	"ctsim/pkg/material"
	"ctsim/pkg/projection"
	"ctsim/pkg/spectrum"
)

// ScanOptions controls the detection simulator.
type ScanOptions struct {
	// Noise adds Poisson photon noise to every reading
	Noise bool

	// Seed seeds the noise generator so noisy scans are reproducible
	Seed uint64

	// Projection configures the forward projector used for path lengths.
	// Its Progress callback sees the combined total over all materials.
	Projection projection.Options
}

// DefaultScanOptions returns a noiseless scan using every CPU.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Seed:       1,
		Projection: projection.DefaultOptions(),
	}
}

// Scan simulates a parallel-beam acquisition of ph and returns the raw
// detector counts.
//
// Every ray is taken to cross 2*pixelScale*n cm in total, n being the phantom
// size: the path through each phantom material comes from the forward
// projection of that material's mask, and whatever is left over is air. This
// matches the air reference the calibration stage divides by.
//
// Parameters:
//   - sp: Source spectrum, already scaled to the tube current-time product
//   - table: Material table used to resolve the phantom's material names
//   - ph: Phantom of material labels
//   - pixelScale: Pixel size in cm
//   - angles: Number of projection angles over [0, pi)
//   - opts: Noise and parallelism settings
//
// Returns:
//   - An angles x n sinogram of photon counts (UnitCounts)
func Scan(sp *spectrum.Spectrum, table *material.Table, ph *models.Phantom, pixelScale float64, angles int, opts ScanOptions) (*models.Sinogram, error) {
	if err := ph.Validate(); err != nil {
		return nil, err
	}
	if !(pixelScale > 0) {
		return nil, fmt.Errorf("%w: got %g", projection.ErrInvalidScale, pixelScale)
	}
	if angles <= 0 {
		return nil, fmt.Errorf("%w: got %d", projection.ErrInvalidAngles, angles)
	}

	air, err := table.Coeff(material.Air)
	if err != nil {
		return nil, err
	}

	// Resolve the materials that actually appear, air aside.
	var labels []int
	var coeffs [][]float64
	for _, l := range ph.Used() {
		name := ph.Materials[l]
		if name == material.Air {
			continue
		}
		c, err := table.Coeff(name)
		if err != nil {
			return nil, fmt.Errorf("phantom label %d: %w", l, err)
		}
		labels = append(labels, l)
		coeffs = append(coeffs, c)
	}
	layers := append(coeffs, air)
	if err := checkBinning(sp, layers...); err != nil {
		return nil, err
	}

	// Path length through each material for every ray.
	depths := make([]*models.Sinogram, len(labels))
	popts := opts.Projection
	offset := 0
	if report := opts.Projection.Progress; report != nil {
		total := angles * len(labels)
		popts.Progress = func(completed, _ int) {
			report(offset+completed, total)
		}
	}
	for i, l := range labels {
		depths[i], err = projection.Forward(ph.Mask(l), angles, pixelScale, popts)
		if err != nil {
			return nil, err
		}
		offset += angles
	}

	n := ph.Size
	totalPath := 2 * pixelScale * float64(n)
	path := make([]float64, len(layers))

	counts := models.NewSinogram(angles, n, models.UnitCounts)
	for cell := range counts.Data {
		var inside float64
		for i, d := range depths {
			path[i] = d.Data[cell]
			inside += path[i]
		}
		residual := totalPath - inside
		if residual < 0 {
			residual = 0
		}
		path[len(path)-1] = residual
		counts.Data[cell] = attenuate(sp.Photons, layers, path)
	}

	if opts.Noise {
		addPoissonNoise(counts.Data, opts.Seed)
	}

	return counts, nil
}

// addPoissonNoise replaces every mean reading with a Poisson draw. Cells are
// visited in order from a single source, so a seed always yields the same scan.
func addPoissonNoise(data []float64, seed uint64) {
	src := rand.NewSource(seed)
	zeroed := 0
	for i, lambda := range data {
		if !(lambda > 0) {
			data[i] = 0
			continue
		}
		data[i] = distuv.Poisson{Lambda: lambda, Src: src}.Rand()
		if data[i] == 0 {
			zeroed++
		}
	}
	if zeroed > 0 {
		log.Printf("Warning: %d detector readings received no photons", zeroed)
	}
}
