// Package visualization exports sinograms and reconstructions as images:
// 16-bit grey TIFFs that keep the full value range and 8-bit PNG previews
// with a caption strip.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"

	"ctsim/internal/models"
	"ctsim/pkg/hu"
)

// captionHeight is the height of the strip below a preview holding its caption.
const captionHeight = 18

// Viewer writes images into an output directory.
type Viewer struct {
	// outputDir receives every file
	outputDir string

	// writePNG and writeTIFF select the formats
	writePNG  bool
	writeTIFF bool
}

// NewViewer creates a viewer writing the selected formats into outputDir.
func NewViewer(outputDir string, writePNG, writeTIFF bool) *Viewer {
	return &Viewer{
		outputDir: outputDir,
		writePNG:  writePNG,
		writeTIFF: writeTIFF,
	}
}

// Window is the value range mapped onto the grey scale.
type Window struct {
	Low, High float64
}

// HUWindow covers the whole stored HU range.
var HUWindow = Window{Low: hu.Min, High: hu.Max}

// DataWindow spans the finite minimum and maximum of data. An empty or
// non-finite input gives the unit window.
func DataWindow(data []float64) Window {
	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Window{Low: 0, High: 1}
	}
	return Window{Low: floats.Min(finite), High: floats.Max(finite)}
}

// level maps v into [0, 1], clamping outside values. NaN maps to 0 and a
// degenerate window maps everything to 0.
func (w Window) level(v float64) float64 {
	if math.IsNaN(v) || !(w.High > w.Low) {
		return 0
	}
	return math.Max(0, math.Min(1, (v-w.Low)/(w.High-w.Low)))
}

// Gray16 renders a row-major grid as a 16-bit grey image.
func Gray16(data []float64, width, height int, w Window) (*image.Gray16, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return nil, fmt.Errorf("%w: %d values for %dx%d", models.ErrShape, len(data), width, height)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			value := uint16(math.Round(w.level(data[y*width+x]) * 65535))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// Preview renders a grid as 8-bit grey with caption drawn in a strip below it.
// An empty caption leaves the strip out.
func Preview(data []float64, width, height int, w Window, caption string) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return nil, fmt.Errorf("%w: %d values for %dx%d", models.ErrShape, len(data), width, height)
	}
	totalH := height
	if caption != "" {
		totalH += captionHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, width, totalH))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := uint8(math.Round(w.level(data[y*width+x]) * 255))
			img.SetRGBA(x, y, color.RGBA{g, g, g, 255})
		}
	}

	if caption != "" {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.RGBA{220, 220, 220, 255}),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(2, height+captionHeight-4),
		}
		d.DrawString(caption)
	}
	return img, nil
}

// SavePNG writes img as a PNG file.
func SavePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveTIFF writes img as a deflate-compressed TIFF file.
func SaveTIFF(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
}

// save writes the grid in every selected format and returns the paths written.
func (v *Viewer) save(name string, data []float64, width, height int, w Window, caption string) ([]string, error) {
	if err := os.MkdirAll(v.outputDir, 0755); err != nil {
		return nil, err
	}

	var written []string
	if v.writeTIFF {
		img, err := Gray16(data, width, height, w)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(v.outputDir, name+".tiff")
		if err := SaveTIFF(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	if v.writePNG {
		img, err := Preview(data, width, height, w, caption)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(v.outputDir, name+".png")
		if err := SavePNG(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}

// SaveImage exports a reconstruction. HU images use HUWindow, others the
// image's own range.
func (v *Viewer) SaveImage(name string, img *models.Image, caption string, inHU bool) ([]string, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	w := DataWindow(img.Data)
	if inHU {
		w = HUWindow
	}
	return v.save(name, img.Data, img.Width, img.Height, w, caption)
}

// SaveSinogram exports a sinogram with angles down and samples across,
// scaled to its own range.
func (v *Viewer) SaveSinogram(name string, s *models.Sinogram, caption string) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return v.save(name, s.Data, s.Samples, s.Angles, DataWindow(s.Data), caption)
}
