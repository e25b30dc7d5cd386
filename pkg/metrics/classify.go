package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"

	"ctsim/internal/models"
	"ctsim/pkg/material"
)

// signature is a material's attenuation at the scan energy, indexed for
// nearest-value lookup.
type signature struct {
	value float64
	label int
}

// Compare implements the kdtree.Comparable interface
func (s signature) Compare(c kdtree.Comparable, _ kdtree.Dim) float64 {
	return s.value - c.(signature).value
}

// Dims returns the number of dimensions
func (s signature) Dims() int { return 1 }

// Distance returns the squared distance between two signatures
func (s signature) Distance(c kdtree.Comparable) float64 {
	d := s.value - c.(signature).value
	return d * d
}

type signatures []signature

func (s signatures) Index(i int) kdtree.Comparable         { return s[i] }
func (s signatures) Len() int                              { return len(s) }
func (s signatures) Slice(start, end int) kdtree.Interface { return s[start:end] }
func (s signatures) Pivot(_ kdtree.Dim) int {
	return kdtree.Partition(signaturePlane(s), kdtree.MedianOfRandoms(signaturePlane(s), 100))
}

// signaturePlane implements sort.Interface and kdtree.SortSlicer
type signaturePlane signatures

func (p signaturePlane) Len() int           { return len(p) }
func (p signaturePlane) Less(i, j int) bool { return p[i].value < p[j].value }
func (p signaturePlane) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p signaturePlane) Slice(start, end int) kdtree.SortSlicer {
	return p[start:end]
}

// Classifier assigns every reconstructed pixel the material whose expected
// value is closest.
type Classifier struct {
	names []string
	tree  *kdtree.Tree
}

// NewClassifier indexes the given materials by their expected reconstructed
// value. The value of a material is its coefficient in the given energy bin,
// converted to HU relative to water when inHU is set.
func NewClassifier(table *material.Table, names []string, bin int, inHU bool) (*Classifier, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no materials to classify against", material.ErrUnknownMaterial)
	}
	water := 0.0
	if inHU {
		w, err := table.CoeffAt(material.Water, bin)
		if err != nil {
			return nil, err
		}
		water = w
	}

	sigs := make(signatures, len(names))
	for i, name := range names {
		mu, err := table.CoeffAt(name, bin)
		if err != nil {
			return nil, err
		}
		if inHU {
			mu = 1000 * (mu - water) / water
		}
		sigs[i] = signature{value: mu, label: i}
	}
	return &Classifier{
		names: append([]string(nil), names...),
		tree:  kdtree.New(sigs, false),
	}, nil
}

// Names returns the label names, index i being label i.
func (c *Classifier) Names() []string {
	return append([]string(nil), c.names...)
}

// Classify returns the nearest material label for value.
func (c *Classifier) Classify(value float64) int {
	best, _ := c.tree.Nearest(signature{value: value})
	return best.(signature).label
}

// Phantom labels every pixel of img with its nearest material.
func (c *Classifier) Phantom(img *models.Image) (*models.Phantom, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Width != img.Height {
		return nil, fmt.Errorf("%w: phantoms are square, got %dx%d", models.ErrShape, img.Width, img.Height)
	}
	ph := models.NewPhantom(img.Width, c.names)
	for i, v := range img.Data {
		ph.Labels[i] = c.Classify(v)
	}
	return ph, nil
}

// Accuracy returns the fraction of pixels whose classified material matches
// the phantom's. Materials are compared by name, so the phantom may use a
// different label order.
func (c *Classifier) Accuracy(img *models.Image, truth *models.Phantom) (float64, error) {
	if err := truth.Validate(); err != nil {
		return 0, err
	}
	guess, err := c.Phantom(img)
	if err != nil {
		return 0, err
	}
	if guess.Size != truth.Size {
		return 0, fmt.Errorf("%w: image %d vs phantom %d", ErrMismatch, guess.Size, truth.Size)
	}
	correct := 0
	for i, l := range guess.Labels {
		if c.names[l] == truth.Materials[truth.Labels[i]] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth.Labels)), nil
}
