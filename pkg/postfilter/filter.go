// Package postfilter applies optional image-domain clean-up to a finished
// reconstruction: denoising, morphological closing, edge extraction and
// unsharp masking. Filters compose left to right and never modify their input.
package postfilter

import (
	"errors"
	"fmt"
	"strings"

	"ctsim/internal/models"
	"ctsim/pkg/hu"
)

var (
	// ErrInvalidFilter is returned for unknown filter names.
	ErrInvalidFilter = errors.New("postfilter: invalid filter")

	// ErrInvalidSpecType is returned when a filter specification is neither a
	// string nor a list of strings.
	ErrInvalidSpecType = errors.New("postfilter: invalid filter specification type")
)

// Filter is one post-processing step.
type Filter int

const (
	// None passes the image through unchanged.
	None Filter = iota
	// Denoise smooths with a Gaussian (sigma 3) followed by a 5x5 median.
	Denoise
	// Close is a 5x5 greyscale closing that fills small dark gaps.
	Close
	// Edge is the Sobel gradient magnitude rescaled to the HU range.
	Edge
	// Unsharp sharpens by adding back the difference of two Gaussians.
	Unsharp
)

var filterNames = [...]string{
	None:    "none",
	Denoise: "denoise",
	Close:   "close",
	Edge:    "edge",
	Unsharp: "unsharp",
}

func (f Filter) String() string {
	if f < 0 || int(f) >= len(filterNames) {
		return fmt.Sprintf("Filter(%d)", int(f))
	}
	return filterNames[f]
}

// Filters lists every filter in declaration order.
func Filters() []Filter {
	fs := make([]Filter, len(filterNames))
	for i := range fs {
		fs[i] = Filter(i)
	}
	return fs
}

// ParseFilter maps a filter name (case-insensitive) to its Filter.
func ParseFilter(name string) (Filter, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range filterNames {
		if n == key {
			return Filter(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (valid: %s)", ErrInvalidFilter, name, strings.Join(filterNames[:], ", "))
}

// Spec is an ordered list of filters applied left to right.
type Spec []Filter

func (s Spec) String() string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.String()
	}
	return strings.Join(names, ",")
}

// ParseSpec parses each name into a Filter.
func ParseSpec(names ...string) (Spec, error) {
	spec := make(Spec, 0, len(names))
	for _, n := range names {
		f, err := ParseFilter(n)
		if err != nil {
			return nil, err
		}
		spec = append(spec, f)
	}
	return spec, nil
}

// SpecFromValue builds a Spec from a loosely typed value such as a decoded
// YAML node: a single name, a comma-separated list, a []string or a []any of
// strings. nil yields an empty Spec.
func SpecFromValue(v any) (Spec, error) {
	switch val := v.(type) {
	case nil:
		return Spec{}, nil
	case Spec:
		return append(Spec(nil), val...), nil
	case string:
		if strings.TrimSpace(val) == "" {
			return Spec{}, nil
		}
		return ParseSpec(strings.Split(val, ",")...)
	case []string:
		return ParseSpec(val...)
	case []any:
		names := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrInvalidSpecType, i, item)
			}
			names[i] = s
		}
		return ParseSpec(names...)
	}
	return nil, fmt.Errorf("%w: %T (want a string or a list of strings)", ErrInvalidSpecType, v)
}

// Apply runs every filter in spec over a copy of img.
func Apply(img *models.Image, spec Spec) (*models.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	out := img.Clone()
	for _, f := range spec {
		switch f {
		case None:
		case Denoise:
			out = median(gaussian(out, 3), 5)
		case Close:
			out = erode(dilate(out, 5), 5)
		case Edge:
			out = rescale(edge(out), hu.Min, hu.Max)
		case Unsharp:
			blur := gaussian(out, 3)
			blurred := gaussian(blur, 1)
			for i, b := range blur.Data {
				blur.Data[i] = b + unsharpAmount*(b-blurred.Data[i])
			}
			out = rescale(blur, hu.Min, hu.Max)
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidFilter, f)
		}
	}
	return out, nil
}
