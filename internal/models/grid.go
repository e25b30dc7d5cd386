package models

import (
	"errors"
	"fmt"
)

var (
	// ErrShape is returned when a grid's dimensions do not describe its data.
	ErrShape = errors.New("models: invalid grid shape")

	// ErrUnitMismatch is returned when a stage receives a sinogram in the wrong unit.
	ErrUnitMismatch = errors.New("models: sinogram unit mismatch")
)

// Unit tags the quantity stored in a sinogram so that pipeline stages never
// mix raw counts with attenuation values.
type Unit int

const (
	// UnitCounts holds transmitted photon counts straight from the detector.
	UnitCounts Unit = iota

	// UnitAttenuation holds calibrated attenuation line integrals.
	UnitAttenuation

	// UnitFiltered holds ramp-filtered attenuation, ready for back-projection.
	UnitFiltered
)

func (u Unit) String() string {
	switch u {
	case UnitCounts:
		return "counts"
	case UnitAttenuation:
		return "attenuation"
	case UnitFiltered:
		return "filtered"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// Sinogram represents a set of parallel-beam projections.
type Sinogram struct {
	// Data holds the measurements in row-major order, one row per angle
	Data []float64

	// Angles is the number of projection angles (rows)
	Angles int

	// Samples is the number of detector positions per angle (columns)
	Samples int

	// Unit is the quantity stored in Data
	Unit Unit
}

// NewSinogram allocates a zeroed sinogram.
func NewSinogram(angles, samples int, unit Unit) *Sinogram {
	return &Sinogram{
		Data:    make([]float64, angles*samples),
		Angles:  angles,
		Samples: samples,
		Unit:    unit,
	}
}

// Row returns the detector row for the given angle index. The returned slice
// aliases the sinogram data.
func (s *Sinogram) Row(angle int) []float64 {
	return s.Data[angle*s.Samples : (angle+1)*s.Samples]
}

// At returns the value at (angle, sample).
func (s *Sinogram) At(angle, sample int) float64 {
	return s.Data[angle*s.Samples+sample]
}

// Clone returns a deep copy of the sinogram.
func (s *Sinogram) Clone() *Sinogram {
	c := &Sinogram{
		Data:    make([]float64, len(s.Data)),
		Angles:  s.Angles,
		Samples: s.Samples,
		Unit:    s.Unit,
	}
	copy(c.Data, s.Data)
	return c
}

// Validate checks that the sinogram has a positive shape backed by enough data.
func (s *Sinogram) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil sinogram", ErrShape)
	}
	if s.Angles <= 0 || s.Samples <= 0 {
		return fmt.Errorf("%w: sinogram is %dx%d", ErrShape, s.Angles, s.Samples)
	}
	if len(s.Data) != s.Angles*s.Samples {
		return fmt.Errorf("%w: sinogram %dx%d backed by %d values", ErrShape, s.Angles, s.Samples, len(s.Data))
	}
	return nil
}

// Expect validates the sinogram and checks that it carries the given unit.
func (s *Sinogram) Expect(unit Unit) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Unit != unit {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnitMismatch, unit, s.Unit)
	}
	return nil
}

// Image represents a reconstructed 2D field.
type Image struct {
	// Data is the pixel data in row-major order
	Data []float64

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) *Image {
	return &Image{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the pixel at column x, row y.
func (img *Image) At(x, y int) float64 {
	return img.Data[y*img.Width+x]
}

// Set stores v at column x, row y.
func (img *Image) Set(x, y int, v float64) {
	img.Data[y*img.Width+x] = v
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	c := &Image{
		Data:   make([]float64, len(img.Data)),
		Width:  img.Width,
		Height: img.Height,
	}
	copy(c.Data, img.Data)
	return c
}

// Validate checks that the image is a genuine 2D grid.
func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrShape)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: image is %dx%d", ErrShape, img.Width, img.Height)
	}
	if len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("%w: image %dx%d backed by %d values", ErrShape, img.Width, img.Height, len(img.Data))
	}
	return nil
}

// Region returns a copy of the pixels in the rectangle [x0, x1) x [y0, y1),
// clipped to the image bounds.
func (img *Image) Region(x0, y0, x1, y1 int) []float64 {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > img.Width {
		x1 = img.Width
	}
	if y1 > img.Height {
		y1 = img.Height
	}
	if x1 <= x0 || y1 <= y0 {
		return nil
	}
	out := make([]float64, 0, (x1-x0)*(y1-y0))
	for y := y0; y < y1; y++ {
		out = append(out, img.Data[y*img.Width+x0:y*img.Width+x1]...)
	}
	return out
}

// Phantom is a square grid of material indices used as the scanned object.
// Index 0 is always the background material (air).
type Phantom struct {
	// Labels holds one material index per pixel in row-major order
	Labels []int

	// Size is the width and height of the grid
	Size int

	// Materials names the material for each label index
	Materials []string
}

// NewPhantom allocates an all-background phantom.
func NewPhantom(size int, materials []string) *Phantom {
	names := make([]string, len(materials))
	copy(names, materials)
	return &Phantom{
		Labels:    make([]int, size*size),
		Size:      size,
		Materials: names,
	}
}

// Validate checks the phantom's shape and that every label names a material.
func (p *Phantom) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil phantom", ErrShape)
	}
	if p.Size <= 0 || len(p.Labels) != p.Size*p.Size {
		return fmt.Errorf("%w: phantom of size %d backed by %d labels", ErrShape, p.Size, len(p.Labels))
	}
	for i, l := range p.Labels {
		if l < 0 || l >= len(p.Materials) {
			return fmt.Errorf("%w: label %d at pixel %d has no material", ErrShape, l, i)
		}
	}
	return nil
}

// Mask returns a 0/1 image selecting the pixels labelled with index.
func (p *Phantom) Mask(index int) *Image {
	img := NewImage(p.Size, p.Size)
	for i, l := range p.Labels {
		if l == index {
			img.Data[i] = 1
		}
	}
	return img
}

// Used reports the distinct label indices present in the phantom, in ascending order.
func (p *Phantom) Used() []int {
	seen := make([]bool, len(p.Materials))
	for _, l := range p.Labels {
		if l >= 0 && l < len(seen) {
			seen[l] = true
		}
	}
	var used []int
	for i, ok := range seen {
		if ok {
			used = append(used, i)
		}
	}
	return used
}
