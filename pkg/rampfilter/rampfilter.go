// Package rampfilter applies the frequency-domain ramp filter of filtered
// back-projection to every projection in a sinogram.
//
// Each detector row is zero padded to a power of two at least 2n-1 long so
// that the circular convolution computed by the FFT does not wrap around,
// multiplied by the windowed ramp and transformed back.
package rampfilter

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"gonum.org/v1/gonum/dsp/fourier"

	"ctsim/internal/models"
)

var (
	// ErrInvalidWindow is returned for unknown window names.
	ErrInvalidWindow = errors.New("rampfilter: invalid window")

	// ErrInvalidAlpha is returned for a non-finite window parameter.
	ErrInvalidAlpha = errors.New("rampfilter: invalid alpha")

	// ErrInvalidScale is returned when the pixel scale is not positive.
	ErrInvalidScale = errors.New("rampfilter: pixel scale must be positive")
)

// Options selects the filter and how its application is parallelized.
type Options struct {
	// Window is the apodization window
	Window Window

	// Alpha is the window parameter; nil selects Window.DefaultAlpha()
	Alpha *float64

	// NumCores is the number of worker goroutines; values below 1 mean one
	NumCores int
}

// DefaultOptions returns a cosine window with its default alpha on every CPU.
func DefaultOptions() Options {
	return Options{
		Window:   Cosine,
		NumCores: runtime.NumCPU(),
	}
}

func (o Options) alpha() (float64, error) {
	if o.Alpha == nil {
		return o.Window.DefaultAlpha(), nil
	}
	a := *o.Alpha
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0, fmt.Errorf("%w: %g", ErrInvalidAlpha, a)
	}
	return a, nil
}

// paddedLength returns the transform length for n detector samples: the
// smallest power of two not below 2n-1, and at least 2.
func paddedLength(n int) int {
	m := 2
	for m < 2*n-1 {
		m <<= 1
	}
	return m
}

// Response returns the filter's frequency response on the half spectrum,
// bins 0 through m/2 of the m-point transform used for n samples.
//
// Bin k > 0 holds k*w(k)/(pixelScale*m). The DC bin is set to a sixth of
// bin 1 instead of zero, which keeps the mean of the reconstruction.
func Response(n int, pixelScale float64, opts Options) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d detector samples", models.ErrShape, n)
	}
	if !(pixelScale > 0) || math.IsInf(pixelScale, 0) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidScale, pixelScale)
	}
	if opts.Window < 0 || int(opts.Window) >= len(windowNames) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, opts.Window)
	}
	alpha, err := opts.alpha()
	if err != nil {
		return nil, err
	}

	m := paddedLength(n)
	q := make([]float64, m/2+1)
	for k := 1; k < len(q); k++ {
		q[k] = float64(k) * opts.Window.weight(k, m, alpha) / (pixelScale * float64(m))
	}
	q[0] = q[1] / 6
	return q, nil
}

// Apply filters every row of an attenuation sinogram and returns a new
// sinogram of the same shape in UnitFiltered.
//
// Rows are shared out to opts.NumCores workers, each with its own FFT plan
// and buffers. A row is always filtered the same way regardless of which
// worker takes it, so the output does not depend on the worker count.
func Apply(sino *models.Sinogram, pixelScale float64, opts Options) (*models.Sinogram, error) {
	if err := sino.Expect(models.UnitAttenuation); err != nil {
		return nil, err
	}
	q, err := Response(sino.Samples, pixelScale, opts)
	if err != nil {
		return nil, err
	}

	out := models.NewSinogram(sino.Angles, sino.Samples, models.UnitFiltered)

	workers := opts.NumCores
	if workers < 1 {
		workers = 1
	}
	if workers > sino.Angles {
		workers = sino.Angles
	}

	jobs := make(chan int, sino.Angles)
	for a := 0; a < sino.Angles; a++ {
		jobs <- a
	}
	close(jobs)

	done := make(chan int, workers)
	for w := 0; w < workers; w++ {
		go func() {
			f := newRowFilter(q, sino.Samples)
			rows := 0
			for a := range jobs {
				f.apply(sino.Row(a), out.Row(a))
				rows++
			}
			done <- rows
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}

	return out, nil
}

// rowFilter owns an FFT plan and the scratch buffers for one worker.
type rowFilter struct {
	fft    *fourier.FFT
	q      []float64
	padded []float64
	full   []float64
	coeff  []complex128
}

func newRowFilter(q []float64, n int) *rowFilter {
	m := paddedLength(n)
	return &rowFilter{
		fft:    fourier.NewFFT(m),
		q:      q,
		padded: make([]float64, m),
		full:   make([]float64, m),
		coeff:  make([]complex128, m/2+1),
	}
}

// apply filters src into dst. After the call f.full holds the complete
// m-point filtered sequence, of which dst receives the first len(dst) values.
func (f *rowFilter) apply(src, dst []float64) {
	copy(f.padded, src)
	for i := len(src); i < len(f.padded); i++ {
		f.padded[i] = 0
	}

	f.fft.Coefficients(f.coeff, f.padded)
	for k, g := range f.q {
		f.coeff[k] *= complex(g, 0)
	}
	f.fft.Sequence(f.full, f.coeff)

	scale := 1 / float64(len(f.full))
	for i := range f.full {
		f.full[i] *= scale
	}
	copy(dst, f.full[:len(dst)])
}
