// Package catalog holds the PLAsTiCC-schema data model shared by every
// stage of the pipeline: per-object metadata, per-observation photometry,
// and the class and passband vocabularies applied to them.
package catalog

// UnknownBand marks a passband that could not be mapped onto a numeric code.
// Rows carrying it are dropped by any band filter.
const UnknownBand = -1

// Metadata is one astronomical object. Float fields other than RA and Decl
// may be NaN when the source table leaves them blank.
type Metadata struct {
	ObjectID        int64
	RA              float64
	Decl            float64
	DDF             int
	HostgalSpecz    float64
	HostgalPhotz    float64
	HostgalPhotzErr float64
	Distmod         float64
	MWEBV           float64
	Target          int
}

// Observation is one photometric measurement of an object.
// Observations of the same object are expected in non-decreasing MJD order;
// nothing in the pipeline checks this.
type Observation struct {
	ObjectID int64
	MJD      float64
	Passband int
	Flux     float64
	FluxErr  float64
	Detected bool
}

// Catalog pairs a metadata table with its photometry table.
type Catalog struct {
	Metadata     []Metadata
	Observations []Observation
}

// Len returns the number of objects in the catalog.
func (c Catalog) Len() int {
	return len(c.Metadata)
}

// ObjectIDs returns the object ids in metadata order.
func (c Catalog) ObjectIDs() []int64 {
	ids := make([]int64, len(c.Metadata))
	for i, m := range c.Metadata {
		ids[i] = m.ObjectID
	}
	return ids
}

// Concat joins catalogs in order. Sizes are computed up front so the result
// is allocated once regardless of how many parts are joined.
func Concat(parts ...Catalog) Catalog {
	var nMeta, nObs int
	for _, p := range parts {
		nMeta += len(p.Metadata)
		nObs += len(p.Observations)
	}
	out := Catalog{
		Metadata:     make([]Metadata, 0, nMeta),
		Observations: make([]Observation, 0, nObs),
	}
	for _, p := range parts {
		out.Metadata = append(out.Metadata, p.Metadata...)
		out.Observations = append(out.Observations, p.Observations...)
	}
	return out
}
