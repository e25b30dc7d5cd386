// Package phantom synthesizes the test objects the scanner is pointed at.
//
// Phantoms are square grids of material labels. Geometry is described in
// normalized coordinates where the grid spans [-1, 1] on both axes, so the
// same phantom can be rendered at any size.
package phantom

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"ctsim/internal/models"
	"ctsim/pkg/material"
)

var (
	// ErrUnknownPhantom is returned by ByName for unsupported phantom kinds.
	ErrUnknownPhantom = errors.New("phantom: unknown phantom")

	// ErrInvalidSize is returned for non-positive grid sizes.
	ErrInvalidSize = errors.New("phantom: size must be positive")
)

// DefaultTissue is the disk material used when none is requested.
const DefaultTissue = "Soft Tissue"

// DiskRadius is the disk radius as a fraction of the grid size.
const DiskRadius = 0.4

// Ellipse is a filled ellipse in normalized coordinates.
type Ellipse struct {
	// CX, CY locate the centre
	CX, CY float64

	// A, B are the semi-axes along the rotated x and y axes
	A, B float64

	// Angle rotates the ellipse counter-clockwise, in radians
	Angle float64

	// Material names the material filling the ellipse
	Material string
}

// Render paints ellipses onto a size x size air background in order, later
// ellipses overwriting earlier ones.
func Render(size int, shapes ...Ellipse) (*models.Phantom, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}

	names := []string{material.Air}
	index := map[string]int{material.Air: 0}
	for _, e := range shapes {
		if _, ok := index[e.Material]; !ok {
			index[e.Material] = len(names)
			names = append(names, e.Material)
		}
	}

	ph := models.NewPhantom(size, names)
	half := float64(size) / 2
	c := float64(size-1) / 2
	for _, e := range shapes {
		label := index[e.Material]
		cos, sin := math.Cos(e.Angle), math.Sin(e.Angle)
		for i := 0; i < size; i++ {
			y := (float64(i) - c) / half
			for j := 0; j < size; j++ {
				x := (float64(j) - c) / half
				dx, dy := x-e.CX, y-e.CY
				u := (dx*cos + dy*sin) / e.A
				v := (-dx*sin + dy*cos) / e.B
				if u*u+v*v <= 1 {
					ph.Labels[i*size+j] = label
				}
			}
		}
	}
	return ph, nil
}

// Disk returns a centred uniform disk of the named material with radius
// DiskRadius*size pixels.
func Disk(size int, name string) (*models.Phantom, error) {
	r := 2 * DiskRadius
	return Render(size, Ellipse{A: r, B: r, Material: name})
}

// Impulse returns a single pixel of the named material at the grid centre,
// for measuring the reconstruction's point spread.
func Impulse(size int, name string) (*models.Phantom, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	ph := models.NewPhantom(size, []string{material.Air, name})
	ph.Labels[(size/2)*size+size/2] = 1
	return ph, nil
}

// Head returns a simplified axial head slice: soft tissue scalp, bone skull,
// brain, two water-filled ventricles and a small blood vessel. A non-empty
// implant adds a small disk of that material inside the brain, which is how
// metal artefacts are provoked.
func Head(size int, implant string) (*models.Phantom, error) {
	shapes := []Ellipse{
		{A: 0.72, B: 0.92, Material: DefaultTissue},
		{A: 0.68, B: 0.88, Material: "Bone"},
		{A: 0.62, B: 0.82, Material: "Brain"},
		{CX: -0.16, CY: -0.05, A: 0.08, B: 0.25, Angle: 0.3, Material: material.Water},
		{CX: 0.16, CY: -0.05, A: 0.08, B: 0.25, Angle: -0.3, Material: material.Water},
		{CX: 0, CY: 0.45, A: 0.05, B: 0.05, Material: "Blood"},
	}
	if implant != "" {
		shapes = append(shapes, Ellipse{CX: 0.3, CY: 0.3, A: 0.06, B: 0.06, Material: implant})
	}
	return Render(size, shapes...)
}

var builders = map[string]func(size int, name string) (*models.Phantom, error){
	"disk": func(size int, name string) (*models.Phantom, error) {
		if name == "" {
			name = DefaultTissue
		}
		return Disk(size, name)
	},
	"impulse": func(size int, name string) (*models.Phantom, error) {
		if name == "" {
			name = "Titanium"
		}
		return Impulse(size, name)
	},
	"head": Head,
}

// Kinds lists the phantom names accepted by ByName.
func Kinds() []string {
	kinds := make([]string, 0, len(builders))
	for k := range builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ByName builds one of the named phantoms. name selects the disk or impulse
// material, or the head implant; an empty name picks the default.
func ByName(kind string, size int, name string) (*models.Phantom, error) {
	build, ok := builders[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownPhantom, kind, strings.Join(Kinds(), ", "))
	}
	return build(size, name)
}

// Attenuation maps every label to its material's coefficient in the given
// energy bin, giving the image an ideal reconstruction would produce.
func Attenuation(ph *models.Phantom, table *material.Table, bin int) (*models.Image, error) {
	if err := ph.Validate(); err != nil {
		return nil, err
	}
	mu := make([]float64, len(ph.Materials))
	for i, name := range ph.Materials {
		v, err := table.CoeffAt(name, bin)
		if err != nil {
			return nil, err
		}
		mu[i] = v
	}
	img := models.NewImage(ph.Size, ph.Size)
	for i, l := range ph.Labels {
		img.Data[i] = mu[l]
	}
	return img, nil
}
