package plasticc

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/monitoring"
)

// ErrNoObservations is returned when a surviving object has no photometry
// left after band filtering.
var ErrNoObservations = errors.New("object has no observations")

// LightCurve is one object serialised for the classifier.
type LightCurve struct {
	MJD      []float64
	Flux     []float64
	FluxErr  []float64
	Passband []string
	PhotFlag []int
	RA       float64
	Decl     float64
	ObjectID int64
	Redshift float64
	MWEBV    float64
}

// Len returns the number of observations in the curve.
func (lc LightCurve) Len() int {
	return len(lc.MJD)
}

// Tuple returns the curve in the classifier's positional layout:
// (mjd, flux, flux_err, passband, photflag, ra, dec, object id, redshift, mwebv).
func (lc LightCurve) Tuple() []interface{} {
	return []interface{}{
		lc.MJD, lc.Flux, lc.FluxErr, lc.Passband, lc.PhotFlag,
		lc.RA, lc.Decl, lc.ObjectID, lc.Redshift, lc.MWEBV,
	}
}

// Options control a conversion. The zero value converts every object with
// the default class and band maps.
type Options struct {
	// Classes selects and renumbers classes. Nil means the default map; an
	// empty non-nil map selects nothing.
	Classes catalog.ClassMap
	// Bands selects and labels passbands. Nil means the default map.
	Bands catalog.BandMap
	// Trigger picks the trigger policy.
	Trigger TriggerPolicy
	// SampleFraction, when strictly between 0 and 1, converts a seeded random
	// subset of that fraction of the surviving objects.
	SampleFraction float64
	Seed           uint64
	// SkipEmptyCurves drops objects left without observations instead of
	// failing the conversion.
	SkipEmptyCurves bool
}

func (o Options) classes() catalog.ClassMap {
	if o.Classes == nil {
		return catalog.DefaultClassMap()
	}
	return o.Classes
}

func (o Options) bands() catalog.BandMap {
	if o.Bands == nil {
		return catalog.DefaultBandMap()
	}
	return o.Bands
}

// Convert filters and remaps a catalog and serialises every surviving object.
// It returns the light curves and, at the same positions, the zero-based
// class labels (mapped target minus one).
func Convert(meta []catalog.Metadata, obs []catalog.Observation, opts Options) ([]LightCurve, []int, error) {
	meta, obs = RemapClasses(meta, obs, opts.classes())
	banded := FilterBands(obs, opts.bands())

	groups := groupByObject(banded)
	rows := sampleRows(len(meta), opts.SampleFraction, opts.Seed)

	curves := make([]LightCurve, 0, len(rows))
	labels := make([]int, 0, len(rows))
	for _, i := range rows {
		m := meta[i]
		group := groups[m.ObjectID]
		if len(group) == 0 {
			if opts.SkipEmptyCurves {
				monitoring.Logf("[plasticc] skipping object %d: no observations in selected bands", m.ObjectID)
				continue
			}
			return nil, nil, fmt.Errorf("object %d: %w", m.ObjectID, ErrNoObservations)
		}
		curves = append(curves, buildCurve(m, group, opts.Trigger))
		labels = append(labels, m.Target-1)
	}

	monitoring.Logf("[plasticc] done processing %d light curves", len(curves))
	return curves, labels, nil
}

// ConvertCatalog is Convert over a Catalog.
func ConvertCatalog(cat catalog.Catalog, opts Options) ([]LightCurve, []int, error) {
	return Convert(cat.Metadata, cat.Observations, opts)
}

func buildCurve(m catalog.Metadata, group []BandObservation, policy TriggerPolicy) LightCurve {
	lc := LightCurve{
		MJD:      make([]float64, len(group)),
		Flux:     make([]float64, len(group)),
		FluxErr:  make([]float64, len(group)),
		Passband: make([]string, len(group)),
		RA:       m.RA,
		Decl:     m.Decl,
		ObjectID: m.ObjectID,
		Redshift: m.HostgalSpecz,
		MWEBV:    m.MWEBV,
	}
	detected := make([]bool, len(group))
	for i, o := range group {
		lc.MJD[i] = o.MJD
		lc.Flux[i] = o.Flux
		lc.FluxErr[i] = o.FluxErr
		lc.Passband[i] = o.Band
		detected[i] = o.Detected
	}
	lc.PhotFlag = CalculateTriggers(detected, policy)
	return lc
}

// groupByObject splits observations per object, preserving row order.
func groupByObject(obs []BandObservation) map[int64][]BandObservation {
	groups := make(map[int64][]BandObservation)
	for _, o := range obs {
		groups[o.ObjectID] = append(groups[o.ObjectID], o)
	}
	return groups
}

// sampleRows returns the metadata row indices to serialise, in metadata
// order. The sample size is fraction*n rounded half to even, so a single
// object survives any fraction above one half. Fractions outside (0, 1)
// select every row.
func sampleRows(n int, fraction float64, seed uint64) []int {
	if fraction <= 0 || fraction >= 1 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	k := int(math.RoundToEven(fraction * float64(n)))
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rows := rng.Perm(n)[:k]
	sort.Ints(rows)
	return rows
}
