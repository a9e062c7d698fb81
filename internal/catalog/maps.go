package catalog

import "sort"

// ClassMap maps raw survey class codes onto the contiguous one-based class
// indices the classifier is trained on. Codes absent from the map are
// excluded from a run.
type ClassMap map[int]int

// BandMap maps raw passband codes onto the short labels the classifier
// expects. Passbands absent from the map are excluded from a run.
type BandMap map[int]string

// ClassNames are the classifier output classes, indexed by class number.
// Index 0 is the pre-explosion class and never appears as a target.
var ClassNames = []string{
	"Pre-explosion", "SNIa-norm", "SNIbc", "SNII", "SNIa-91bg", "SNIa-x",
	"Kilonova", "SLSN-I", "TDE",
}

// LSSTBands is the full LSST passband vocabulary of the PLAsTiCC schema.
var LSSTBands = BandMap{0: "u", 1: "g", 2: "r", 3: "i", 4: "z", 5: "Y"}

// DefaultClassMap returns the PLAsTiCC to classifier class mapping.
func DefaultClassMap() ClassMap {
	return ClassMap{90: 1, 62: 2, 42: 3, 67: 4, 52: 5, 64: 6, 95: 7, 15: 8}
}

// DefaultBandMap returns the g and r bands, which are all the classifier
// was trained on.
func DefaultBandMap() BandMap {
	return BandMap{1: "g", 2: "r"}
}

// Clone returns an independent copy. A nil map clones to nil.
func (m ClassMap) Clone() ClassMap {
	if m == nil {
		return nil
	}
	out := make(ClassMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the raw class codes in ascending order.
func (m ClassMap) Keys() []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Targets returns the mapped class indices in ascending order.
func (m ClassMap) Targets() []int {
	targets := make([]int, 0, len(m))
	for _, v := range m {
		targets = append(targets, v)
	}
	sort.Ints(targets)
	return targets
}

// Clone returns an independent copy. A nil map clones to nil.
func (m BandMap) Clone() BandMap {
	if m == nil {
		return nil
	}
	out := make(BandMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the raw passband codes in ascending order.
func (m BandMap) Keys() []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Labels returns the passband labels ordered by their raw code.
func (m BandMap) Labels() []string {
	keys := m.Keys()
	labels := make([]string, len(keys))
	for i, k := range keys {
		labels[i] = m[k]
	}
	return labels
}
