package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctsim/internal/models"
)

// diskImage creates an n x n image with a centered disk of the given radius set to value.
func diskImage(n int, radius, value float64) *models.Image {
	img := models.NewImage(n, n)
	c := float64(n-1) / 2
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy <= radius*radius {
				img.Set(x, y, value)
			}
		}
	}
	return img
}

func TestDirections(t *testing.T) {
	dirs := directions(4)
	require.Len(t, dirs, 4)

	// 0 degrees: detector along x, rays along y.
	assert.InDelta(t, 1, dirs[0].ux, 1e-15)
	assert.InDelta(t, 0, dirs[0].uy, 1e-15)
	assert.InDelta(t, 0, dirs[0].vx, 1e-15)
	assert.InDelta(t, 1, dirs[0].vy, 1e-15)

	// 90 degrees: rotated counter-clockwise.
	assert.InDelta(t, 0, dirs[2].ux, 1e-15)
	assert.InDelta(t, 1, dirs[2].uy, 1e-15)
	assert.InDelta(t, -1, dirs[2].vx, 1e-15)
	assert.InDelta(t, 0, dirs[2].vy, 1e-15)

	for _, d := range dirs {
		assert.InDelta(t, 1, math.Hypot(d.ux, d.uy), 1e-15)
		assert.InDelta(t, 0, d.ux*d.vx+d.uy*d.vy, 1e-15)
	}
}

// TestDirectionsDoublePrecision verifies the axes carry full float64 angles.
func TestDirectionsDoublePrecision(t *testing.T) {
	const angles = 180
	for a, d := range directions(angles) {
		theta := float64(a) * math.Pi / angles
		assert.InDelta(t, math.Cos(theta), d.ux, 1e-14, "angle %d", a)
		assert.InDelta(t, math.Sin(theta), d.uy, 1e-14, "angle %d", a)
		assert.InDelta(t, -math.Sin(theta), d.vx, 1e-14, "angle %d", a)
		assert.InDelta(t, math.Cos(theta), d.vy, 1e-14, "angle %d", a)
	}
}

func TestForwardDiskChord(t *testing.T) {
	n, radius, scale := 64, 20.0, 0.01
	img := diskImage(n, radius, 1)

	sino, err := Forward(img, 16, scale, Options{NumCores: 2})
	require.NoError(t, err)
	assert.Equal(t, 16, sino.Angles)
	assert.Equal(t, n, sino.Samples)
	assert.Equal(t, models.UnitAttenuation, sino.Unit)

	c := float64(n-1) / 2
	for a := 0; a < sino.Angles; a++ {
		for _, k := range []int{16, 24, 32, 40} {
			s := float64(k) - c
			expected := 2 * math.Sqrt(radius*radius-s*s) * scale
			assert.InDelta(t, expected, sino.At(a, k), 1.5*scale, "angle %d sample %d", a, k)
		}
		// Rays that miss the disk see nothing.
		assert.Zero(t, sino.At(a, 0))
		assert.Zero(t, sino.At(a, n-1))
	}
}

func TestForwardPreservesMass(t *testing.T) {
	n, scale := 48, 0.05
	img := diskImage(n, 15, 2)
	var mass float64
	for _, v := range img.Data {
		mass += v
	}

	sino, err := Forward(img, 12, scale, DefaultOptions())
	require.NoError(t, err)

	for a := 0; a < sino.Angles; a++ {
		var sum float64
		for _, v := range sino.Row(a) {
			sum += v
		}
		assert.InEpsilon(t, mass*scale, sum, 0.01, "angle %d", a)
	}
}

func TestForwardValidation(t *testing.T) {
	_, err := Forward(models.NewImage(4, 5), 8, 1, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrShape)

	_, err = Forward(models.NewImage(4, 4), 0, 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidAngles)

	_, err = Forward(models.NewImage(4, 4), 8, 0, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidScale)

	_, err = Forward(&models.Image{Data: []float64{1}, Width: 2, Height: 2}, 8, 1, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrShape)
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	img := diskImage(40, 12, 0.3)
	img.Set(5, 9, 4)

	one, err := Forward(img, 24, 0.02, Options{NumCores: 1})
	require.NoError(t, err)
	many, err := Forward(img, 24, 0.02, Options{NumCores: 7})
	require.NoError(t, err)
	assert.Equal(t, one.Data, many.Data)

	one.Unit = models.UnitFiltered
	many.Unit = models.UnitFiltered
	bpOne, err := BackProject(one, Options{NumCores: 1})
	require.NoError(t, err)
	bpMany, err := BackProject(many, Options{NumCores: 5})
	require.NoError(t, err)
	assert.Equal(t, bpOne.Data, bpMany.Data)
}

func TestProgressReporting(t *testing.T) {
	var calls []int
	opts := Options{
		NumCores: 3,
		Progress: func(completed, total int) {
			assert.Equal(t, 10, total)
			calls = append(calls, completed)
		},
	}
	_, err := Forward(diskImage(16, 5, 1), 10, 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, calls)
}

func TestBackProjectConstantRow(t *testing.T) {
	// A sinogram that is constant at every angle back-projects to
	// pi times that constant inside the inscribed circle.
	n, angles := 33, 20
	sino := models.NewSinogram(angles, n, models.UnitFiltered)
	for i := range sino.Data {
		sino.Data[i] = 0.5
	}

	img, err := BackProject(sino, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, n, img.Width)
	assert.Equal(t, n, img.Height)
	assert.InDelta(t, math.Pi*0.5, img.At(16, 16), 1e-9)
	assert.InDelta(t, math.Pi*0.5, img.At(20, 12), 1e-9)
}

func TestBackProjectRequiresFilteredSinogram(t *testing.T) {
	_, err := BackProject(models.NewSinogram(4, 8, models.UnitAttenuation), DefaultOptions())
	assert.ErrorIs(t, err, models.ErrUnitMismatch)

	_, err = BackProject(&models.Sinogram{Angles: 2, Samples: 2, Unit: models.UnitFiltered}, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrShape)
}
