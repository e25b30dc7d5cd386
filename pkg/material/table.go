// Package material provides the energy-indexed linear attenuation coefficients
// used by every stage of the CT simulation.
//
// A Table is immutable once built. Stages receive it explicitly and look
// materials up by name ("Air", "Water", ...); there is no package-level table
// that stages reach for implicitly.
package material

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownMaterial is returned when a material name is not in the table.
	ErrUnknownMaterial = errors.New("material: unknown material")

	// ErrInvalidTable is returned when table data is malformed.
	ErrInvalidTable = errors.New("material: invalid table")
)

// Names of the reference materials the calibration stages rely on.
const (
	Air   = "Air"
	Water = "Water"
)

//go:embed default_table.yaml
var defaultTableYAML []byte

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Entry is a single material as stored in a table file.
type Entry struct {
	// Name identifies the material, e.g. "Water"
	Name string `yaml:"name"`

	// Density is informational, in g/cm^3
	Density float64 `yaml:"density,omitempty"`

	// Coefficients are linear attenuation coefficients in cm^-1, one per energy bin
	Coefficients []float64 `yaml:"coefficients"`
}

// tableFile mirrors the on-disk YAML layout.
type tableFile struct {
	Energies  []float64 `yaml:"energies"`
	Materials []Entry   `yaml:"materials"`
}

// Table maps material names to attenuation curves on a shared energy grid.
type Table struct {
	energies []float64
	names    []string
	coeffs   map[string][]float64
}

// NewTable builds a table from an energy grid (MeV, strictly increasing) and
// material entries whose coefficient curves use the same binning.
func NewTable(energies []float64, entries ...Entry) (*Table, error) {
	if len(energies) == 0 {
		return nil, fmt.Errorf("%w: empty energy grid", ErrInvalidTable)
	}
	for i, e := range energies {
		if !(e > 0) || math.IsInf(e, 0) {
			return nil, fmt.Errorf("%w: energy %d is %g", ErrInvalidTable, i, e)
		}
		if i > 0 && e <= energies[i-1] {
			return nil, fmt.Errorf("%w: energies must be strictly increasing", ErrInvalidTable)
		}
	}

	t := &Table{
		energies: append([]float64(nil), energies...),
		coeffs:   make(map[string][]float64, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: material without a name", ErrInvalidTable)
		}
		if _, dup := t.coeffs[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate material %q", ErrInvalidTable, e.Name)
		}
		if len(e.Coefficients) != len(energies) {
			return nil, fmt.Errorf("%w: material %q has %d coefficients for %d energies",
				ErrInvalidTable, e.Name, len(e.Coefficients), len(energies))
		}
		for i, c := range e.Coefficients {
			if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: material %q coefficient %d is %g", ErrInvalidTable, e.Name, i, c)
			}
		}
		t.names = append(t.names, e.Name)
		t.coeffs[e.Name] = append([]float64(nil), e.Coefficients...)
	}
	return t, nil
}

// Parse decodes a YAML material table.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing material table: %w", err)
	}
	return NewTable(f.Energies, f.Materials...)
}

// Load reads a YAML material table from disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading material table: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in table: air, water, a handful of tissues, bone
// and two metals on a 20-150 keV grid.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Parse(defaultTableYAML)
		if err != nil {
			panic(fmt.Sprintf("material: embedded table is invalid: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}

// Marshal encodes the table in the same YAML layout Parse reads.
func (t *Table) Marshal() ([]byte, error) {
	f := tableFile{Energies: t.Energies()}
	for _, n := range t.names {
		f.Materials = append(f.Materials, Entry{Name: n, Coefficients: t.coeffs[n]})
	}
	return yaml.Marshal(&f)
}

// Energies returns a copy of the energy grid in MeV.
func (t *Table) Energies() []float64 {
	return append([]float64(nil), t.energies...)
}

// Bins returns the number of energy bins.
func (t *Table) Bins() int { return len(t.energies) }

// Names returns the material names in table order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether the table contains name.
func (t *Table) Has(name string) bool {
	_, ok := t.coeffs[name]
	return ok
}

// Coeff returns a copy of the attenuation curve for name.
func (t *Table) Coeff(name string) ([]float64, error) {
	c, ok := t.coeffs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownMaterial, name, t.known())
	}
	return append([]float64(nil), c...), nil
}

// CoeffAt returns the attenuation coefficient of name in energy bin.
func (t *Table) CoeffAt(name string, bin int) (float64, error) {
	c, ok := t.coeffs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q (known: %s)", ErrUnknownMaterial, name, t.known())
	}
	if bin < 0 || bin >= len(c) {
		return 0, fmt.Errorf("%w: energy bin %d out of range [0, %d)", ErrInvalidTable, bin, len(c))
	}
	return c[bin], nil
}

// EnergyIndex returns the bin whose energy is closest to e.
func (t *Table) EnergyIndex(e float64) int {
	i := sort.SearchFloat64s(t.energies, e)
	if i == 0 {
		return 0
	}
	if i == len(t.energies) {
		return len(t.energies) - 1
	}
	if e-t.energies[i-1] <= t.energies[i]-e {
		return i - 1
	}
	return i
}

func (t *Table) known() string {
	names := t.Names()
	sort.Strings(names)
	return strings.Join(names, ", ")
}
