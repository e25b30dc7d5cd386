package projection

import (
	"fmt"
	"math"

	"ctsim/internal/models"
)

// Forward computes the parallel-beam projections of img: for every angle and
// detector sample, the integral of the image along the ray, with image values
// taken as per-centimetre quantities and pixels pixelScale cm wide.
//
// The image must be square; the sinogram has one detector sample per image
// column. Rays are sampled once per pixel length with bilinear interpolation,
// and anything outside the image contributes nothing.
//
// Parameters:
//   - img: Square image, e.g. an attenuation map or a 0/1 material mask
//   - angles: Number of projection angles spread over [0, pi)
//   - pixelScale: Pixel size in cm
//   - opts: Worker count and progress reporting
//
// Returns:
//   - An angles x n sinogram of line integrals (UnitAttenuation)
func Forward(img *models.Image, angles int, pixelScale float64, opts Options) (*models.Sinogram, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Width != img.Height {
		return nil, fmt.Errorf("%w: forward projection needs a square image, got %dx%d",
			models.ErrShape, img.Width, img.Height)
	}
	if angles <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAngles, angles)
	}
	if !(pixelScale > 0) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidScale, pixelScale)
	}

	n := img.Width
	c := float64(n-1) / 2

	// Enough steps along the ray to cross the image diagonal.
	steps := int(math.Ceil(float64(n) * math.Sqrt2))
	tc := float64(steps-1) / 2

	dirs := directions(angles)
	sino := models.NewSinogram(angles, n, models.UnitAttenuation)

	runRows(angles, opts, func(a int) {
		d := dirs[a]
		row := sino.Row(a)
		for k := 0; k < n; k++ {
			s := float64(k) - c
			var sum float64
			for step := 0; step < steps; step++ {
				t := float64(step) - tc
				x := s*d.ux + t*d.vx
				y := s*d.uy + t*d.vy
				sum += bilinear(img, x+c, y+c)
			}
			row[k] = sum * pixelScale
		}
	})

	return sino, nil
}

// bilinear samples img at fractional column fx and row fy, treating pixels
// outside the grid as zero.
func bilinear(img *models.Image, fx, fy float64) float64 {
	x0 := math.Floor(fx)
	y0 := math.Floor(fy)
	if x0 < -1 || y0 < -1 || x0 >= float64(img.Width) || y0 >= float64(img.Height) {
		return 0
	}
	j0, i0 := int(x0), int(y0)
	dx, dy := fx-x0, fy-y0

	var v float64
	if i0 >= 0 {
		v += (1 - dy) * rowSample(img, i0, j0, dx)
	}
	if i0+1 < img.Height {
		v += dy * rowSample(img, i0+1, j0, dx)
	}
	return v
}

// rowSample interpolates along row i between columns j0 and j0+1.
func rowSample(img *models.Image, i, j0 int, dx float64) float64 {
	row := img.Data[i*img.Width : (i+1)*img.Width]
	var v float64
	if j0 >= 0 {
		v += (1 - dx) * row[j0]
	}
	if j0+1 < img.Width {
		v += dx * row[j0+1]
	}
	return v
}
