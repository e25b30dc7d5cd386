// Package projection implements the parallel-beam geometry of the scanner:
// the forward projector that turns an image into line integrals and the
// back-projector that smears a filtered sinogram back into image space.
//
// Both operators share one coordinate convention. Pixel (row i, column j) sits
// at x = j - c, y = i - c with c = (n-1)/2, detector sample k sits at
// s = k - c, and projection a is taken at angle a*pi/angles.
package projection

import (
	"errors"
	"math"
	"runtime"

	"github.com/ungerik/go3d/float64/vec2"
)

var (
	// ErrInvalidAngles is returned when the number of projection angles is not positive.
	ErrInvalidAngles = errors.New("projection: number of angles must be positive")

	// ErrInvalidScale is returned when the pixel scale is not positive.
	ErrInvalidScale = errors.New("projection: pixel scale must be positive")
)

// ProgressCallback reports how many projection rows are complete.
type ProgressCallback func(completed, total int)

// Options controls how the projectors spread work across goroutines.
type Options struct {
	// NumCores is the number of worker goroutines; values below 1 mean one
	NumCores int

	// Progress is called once per finished row, from the calling goroutine
	Progress ProgressCallback
}

// DefaultOptions uses every available CPU and reports no progress.
func DefaultOptions() Options {
	return Options{NumCores: runtime.NumCPU()}
}

func (o Options) workers(jobs int) int {
	n := o.NumCores
	if n < 1 {
		n = 1
	}
	if n > jobs {
		n = jobs
	}
	return n
}

// direction holds the detector axis u and the ray direction v for one angle.
type direction struct {
	ux, uy float64
	vx, vy float64
}

// directions returns the detector and ray axes for angles evenly spread over [0, pi).
func directions(angles int) []direction {
	detectorAxis := vec2.T{1, 0}
	rayAxis := vec2.T{0, 1}

	dirs := make([]direction, angles)
	for a := range dirs {
		theta := float64(a) * math.Pi / float64(angles)
		u := detectorAxis.Rotated(theta)
		v := rayAxis.Rotated(theta)
		dirs[a] = direction{ux: u[0], uy: u[1], vx: v[0], vy: v[1]}
	}
	return dirs
}

// runRows calls work for every row index in [0, rows) using up to opts.NumCores
// goroutines. Each row is handled by exactly one goroutine, so work may write
// its row of a shared output without synchronization.
func runRows(rows int, opts Options, work func(row int)) {
	workers := opts.workers(rows)

	jobs := make(chan int, rows)
	for r := 0; r < rows; r++ {
		jobs <- r
	}
	close(jobs)

	done := make(chan int)
	for w := 0; w < workers; w++ {
		go func() {
			for r := range jobs {
				work(r)
				done <- r
			}
		}()
	}

	for completed := 1; completed <= rows; completed++ {
		<-done
		if opts.Progress != nil {
			opts.Progress(completed, rows)
		}
	}
}
