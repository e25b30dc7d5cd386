package postfilter

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctsim/internal/models"
)

// unsharpAmount weights the detail layer added back by Unsharp.
const unsharpAmount = 30

type border int

const (
	// borderReflect mirrors about the edge, including the edge pixel: d c b a | a b c d.
	borderReflect border = iota
	// borderZero treats everything outside the image as zero.
	borderZero
)

// reflectIndex maps idx onto [0, size) by mirroring about the image edges.
func reflectIndex(idx, size int) int {
	period := 2 * size
	idx %= period
	if idx < 0 {
		idx += period
	}
	if idx >= size {
		idx = period - 1 - idx
	}
	return idx
}

// gaussianKernel returns a normalized 1D Gaussian truncated at four sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	k := make([]float64, 2*radius+1)
	for i := range k {
		x := float64(i - radius)
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// correlate1D correlates every row (axis 1) or column (axis 0) of img with
// the centred kernel.
func correlate1D(img *models.Image, kernel []float64, axis int, b border) *models.Image {
	out := models.NewImage(img.Width, img.Height)
	half := len(kernel) / 2
	w, h := img.Width, img.Height

	size := w
	if axis == 0 {
		size = h
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pos := x
			if axis == 0 {
				pos = y
			}
			var sum float64
			for k, kv := range kernel {
				p := pos + k - half
				if p < 0 || p >= size {
					if b == borderZero {
						continue
					}
					p = reflectIndex(p, size)
				}
				if axis == 0 {
					sum += kv * img.Data[p*w+x]
				} else {
					sum += kv * img.Data[y*w+p]
				}
			}
			out.Data[y*w+x] = sum
		}
	}
	return out
}

// gaussian blurs img with a separable Gaussian of the given sigma.
func gaussian(img *models.Image, sigma float64) *models.Image {
	k := gaussianKernel(sigma)
	return correlate1D(correlate1D(img, k, 0, borderReflect), k, 1, borderReflect)
}

// neighbourhood calls fn with the size x size window around every pixel,
// borders mirrored.
func neighbourhood(img *models.Image, size int, fn func(window []float64) float64) *models.Image {
	out := models.NewImage(img.Width, img.Height)
	half := size / 2
	window := make([]float64, 0, size*size)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			window = window[:0]
			for dy := -half; dy < size-half; dy++ {
				row := reflectIndex(y+dy, img.Height) * img.Width
				for dx := -half; dx < size-half; dx++ {
					window = append(window, img.Data[row+reflectIndex(x+dx, img.Width)])
				}
			}
			out.Data[y*img.Width+x] = fn(window)
		}
	}
	return out
}

func median(img *models.Image, size int) *models.Image {
	return neighbourhood(img, size, func(window []float64) float64 {
		sort.Float64s(window)
		return stat.Quantile(0.5, stat.Empirical, window, nil)
	})
}

func dilate(img *models.Image, size int) *models.Image {
	return neighbourhood(img, size, floats.Max)
}

func erode(img *models.Image, size int) *models.Image {
	return neighbourhood(img, size, floats.Min)
}

// edge returns the Sobel gradient magnitude.
func edge(img *models.Image) *models.Image {
	derivative := []float64{-1, 0, 1}
	smooth := []float64{1, 2, 1}

	gy := correlate1D(correlate1D(img, derivative, 0, borderZero), smooth, 1, borderZero)
	gx := correlate1D(correlate1D(img, derivative, 1, borderZero), smooth, 0, borderZero)
	for i := range gx.Data {
		gx.Data[i] = math.Hypot(gx.Data[i], gy.Data[i])
	}
	return gx
}

// rescale maps [min, max] of img linearly onto [lo, hi] in place and returns
// it. A constant image maps to lo.
func rescale(img *models.Image, lo, hi float64) *models.Image {
	low, high := floats.Min(img.Data), floats.Max(img.Data)
	if !(high > low) {
		for i := range img.Data {
			img.Data[i] = lo
		}
		return img
	}
	f := (hi - lo) / (high - low)
	for i, v := range img.Data {
		img.Data[i] = lo + (v-low)*f
	}
	return img
}
