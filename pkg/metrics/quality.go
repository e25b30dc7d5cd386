// Package metrics scores a reconstruction against the attenuation map it
// should have produced.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctsim/internal/models"
	"ctsim/pkg/hu"
)

// ErrMismatch is returned when two images being compared differ in size.
var ErrMismatch = errors.New("metrics: image size mismatch")

// Report holds the reconstruction quality metrics.
type Report struct {
	// RMSE (Root Mean Square Error) is the average pixel difference between
	// reference and reconstruction. Lower is better.
	RMSE float64

	// SSIM (Structural Similarity Index) compares luminance, contrast and
	// structure of the two images after both are remapped to 8 bits. Values
	// range from -1 to 1, with 1 indicating identical images.
	SSIM float64

	// MI (Mutual Information) is a Gaussian estimate of the statistical
	// dependency between reference and reconstruction. Higher is better.
	MI float64

	// EntropyDiff is the difference in histogram entropy between the two
	// images, in bits. Lower is better.
	EntropyDiff float64

	// CentralMean is the reconstruction's mean over the central quarter of
	// the image
	CentralMean float64
}

func (r Report) String() string {
	return fmt.Sprintf("RMSE %.5f, SSIM %.4f, MI %.4f, entropy difference %.4f, central mean %.6f",
		r.RMSE, r.SSIM, r.MI, r.EntropyDiff, r.CentralMean)
}

// Evaluate compares a reconstruction with its reference. With inHU set both
// images are taken to be in Hounsfield Units, otherwise in cm^-1.
func Evaluate(reference, recon *models.Image, inHU bool) (Report, error) {
	if err := sameShape(reference, recon); err != nil {
		return Report{}, err
	}
	var r Report
	r.RMSE = RMSE(reference.Data, recon.Data)
	r.SSIM = SSIM8(reference, recon, inHU)
	r.MI = MutualInformation(reference.Data, recon.Data)
	r.EntropyDiff = math.Abs(Entropy(reference.Data) - Entropy(recon.Data))
	r.CentralMean = CentralMean(recon)
	return r, nil
}

func sameShape(a, b *models.Image) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if a.Width != b.Width || a.Height != b.Height {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrMismatch, a.Width, a.Height, b.Width, b.Height)
	}
	return nil
}

// RegionMean returns the mean over [x0, x1) x [y0, y1), or NaN for an empty region.
func RegionMean(img *models.Image, x0, y0, x1, y1 int) float64 {
	region := img.Region(x0, y0, x1, y1)
	if len(region) == 0 {
		return math.NaN()
	}
	return stat.Mean(region, nil)
}

// CentralMean returns the mean over the central half of the image on each
// axis, e.g. rows and columns 64 to 191 of a 256 x 256 image.
func CentralMean(img *models.Image) float64 {
	return RegionMean(img, img.Width/4, img.Height/4, 3*img.Width/4, 3*img.Height/4)
}

// RMSE computes the root mean square error. Slices of different length give NaN.
func RMSE(reference, recon []float64) float64 {
	if len(reference) != len(recon) || len(reference) == 0 {
		return math.NaN()
	}
	return floats.Distance(reference, recon, 2) / math.Sqrt(float64(len(reference)))
}

// SSIM computes a single-window structural similarity index for signals
// with dynamic range L.
func SSIM(x, y []float64, L float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return math.NaN()
	}
	c1 := (0.01 * L) * (0.01 * L)
	c2 := (0.03 * L) * (0.03 * L)

	muX, varX := stat.PopMeanVariance(x, nil)
	muY, varY := stat.PopMeanVariance(y, nil)
	cov := stat.Covariance(x, y, nil) * float64(len(x)-1) / float64(len(x))
	if len(x) == 1 {
		cov = 0
	}

	num := (2*muX*muY + c1) * (2*cov + c2)
	den := (muX*muX + muY*muY + c1) * (varX + varY + c2)
	return num / den
}

// SSIM8 remaps both images to 8-bit grey levels and computes SSIM with L = 255.
//
// HU images are mapped from [-1024, 3071], the reference being clipped to that
// range first. Attenuation images have negative reconstruction values clipped
// to zero and are mapped from the joint range of both images.
func SSIM8(reference, recon *models.Image, inHU bool) float64 {
	ref := append([]float64(nil), reference.Data...)
	rec := append([]float64(nil), recon.Data...)

	var low, high float64
	if inHU {
		low, high = hu.Min, hu.Max
		for i, v := range ref {
			ref[i] = math.Max(low, math.Min(high, v))
		}
	} else {
		for i, v := range rec {
			rec[i] = math.Max(0, v)
		}
		low = math.Min(floats.Min(ref), floats.Min(rec))
		high = math.Max(floats.Max(ref), floats.Max(rec))
	}
	remap8(ref, low, high)
	remap8(rec, low, high)
	return SSIM(ref, rec, 255)
}

// remap8 maps [low, high] linearly onto [0, 255] in place, clamping outside
// values. A degenerate range maps everything to 0.
func remap8(data []float64, low, high float64) {
	for i, v := range data {
		switch {
		case !(high > low), v <= low:
			data[i] = 0
		case v >= high:
			data[i] = 255
		default:
			data[i] = 255 * (v - low) / (high - low)
		}
	}
}

// MutualInformation estimates the mutual information of two signals under a
// joint Gaussian assumption: 0.5*log(varX*varY / (varX*varY - cov^2)).
// Perfectly correlated signals return +Inf.
func MutualInformation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	varX := stat.Variance(x, nil)
	varY := stat.Variance(y, nil)
	cov := stat.Covariance(x, y, nil)
	if varX <= 0 || varY <= 0 {
		return 0
	}
	det := varX*varY - cov*cov
	if det <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(varX*varY/det)
}

// Entropy returns the Shannon entropy in bits of a 256-bin histogram of data.
func Entropy(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	low, high := floats.Min(data), floats.Max(data)
	if !(high > low) {
		return 0
	}

	const numBins = 256
	dividers := make([]float64, numBins+1)
	floats.Span(dividers, low, high)
	// Histogram bins are half-open; nudge the top edge so high is counted.
	dividers[numBins] = math.Nextafter(high, math.Inf(1))

	sorted := append([]float64(nil), data...)
	floats.Argsort(sorted, make([]int, len(sorted)))
	hist := stat.Histogram(nil, dividers, sorted, nil)

	var entropy float64
	n := float64(len(data))
	for _, count := range hist {
		if count > 0 {
			p := count / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
