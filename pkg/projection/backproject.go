package projection

import (
	"math"

	"ctsim/internal/models"
)

// BackProject integrates a ramp-filtered sinogram over angles into an n x n
// image, n being the number of detector samples.
//
// Every pixel accumulates, in angle order, the linearly interpolated filtered
// projection value at its detector position, and the sum is weighted by
// pi/angles. Work is split by image row, so the result does not depend on
// opts.NumCores.
func BackProject(sino *models.Sinogram, opts Options) (*models.Image, error) {
	if err := sino.Expect(models.UnitFiltered); err != nil {
		return nil, err
	}

	n := sino.Samples
	c := float64(n-1) / 2
	last := float64(n - 1)
	dirs := directions(sino.Angles)
	weight := math.Pi / float64(sino.Angles)

	img := models.NewImage(n, n)

	runRows(n, opts, func(i int) {
		y := float64(i) - c
		out := img.Data[i*n : (i+1)*n]
		for j := range out {
			x := float64(j) - c
			var sum float64
			for a, d := range dirs {
				s := x*d.ux + y*d.uy + c
				if s < 0 || s > last {
					continue
				}
				g := sino.Row(a)
				k0 := int(s)
				if k0 == n-1 {
					sum += g[k0]
					continue
				}
				w := s - float64(k0)
				sum += (1-w)*g[k0] + w*g[k0+1]
			}
			out[j] = sum * weight
		}
	})

	return img, nil
}
