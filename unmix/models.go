package unmix

import (
	"fmt"
	"sort"
)

// Endmember is one labelled pure reference spectrum, extracted from a
// granule at a point location.
type Endmember struct {
	ID       string    `json:"id"`
	Class    string    `json:"class"`
	Spectrum []float64 `json:"spectrum"`
}

// MixtureSample is a synthetic linear combination of endmember spectra
// together with its ground-truth per-class proportion vector.
// Constituents and Weights record how the sample was built so that the
// feature vector can be reconstructed exactly.
type MixtureSample struct {
	Features     []float64 `json:"features"`
	Proportions  []float64 `json:"proportions"` // per class, sums to 1
	Constituents []string  `json:"constituents,omitempty"`
	Weights      []float64 `json:"weights,omitempty"`
}

// ClassMapping is a bidirectional mapping between class names and the
// small integer codes used as positions in proportion vectors. Codes
// follow the sorted order of the names so the mapping is stable across
// runs.
type ClassMapping struct {
	names []string
	codes map[string]int
}

// NewClassMapping builds a mapping from a set of class names.
// Duplicates are collapsed.
func NewClassMapping(names []string) (*ClassMapping, error) {
	seen := make(map[string]bool, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("unmix.NewClassMapping: empty class name")
		}
		if !seen[n] {
			seen[n] = true
			uniq = append(uniq, n)
		}
	}
	if len(uniq) == 0 {
		return nil, fmt.Errorf("unmix.NewClassMapping: no classes")
	}
	sort.Strings(uniq)
	codes := make(map[string]int, len(uniq))
	for i, n := range uniq {
		codes[n] = i
	}
	return &ClassMapping{names: uniq, codes: codes}, nil
}

// Len returns the number of classes.
func (m *ClassMapping) Len() int { return len(m.names) }

// Names returns the class names in code order.
func (m *ClassMapping) Names() []string {
	return append([]string(nil), m.names...)
}

// Code returns the integer code for a class name.
func (m *ClassMapping) Code(name string) (int, bool) {
	c, ok := m.codes[name]
	return c, ok
}

// Name returns the class name for an integer code.
func (m *ClassMapping) Name(code int) (string, bool) {
	if code < 0 || code >= len(m.names) {
		return "", false
	}
	return m.names[code], true
}

// ClassStat summarises training sample density for one class.
type ClassStat struct {
	Name    string `json:"name"`
	Support int    `json:"support"`
}

// ModelStats exposes metadata about a loaded model.
type ModelStats struct {
	SampleCount int         `json:"sampleCount"`
	ClassCount  int         `json:"classCount"`
	FeatureDim  int         `json:"featureDim"`
	K           int         `json:"k"`
	Classes     []ClassStat `json:"classes"`
}
