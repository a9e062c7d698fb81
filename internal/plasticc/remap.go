// Package plasticc normalises PLAsTiCC-schema catalogs into the light-curve
// records consumed by the RAPID classifier.
//
// The stages are pure: every function returns fresh slices and never writes
// to the caller's tables.
package plasticc

import (
	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/monitoring"
)

// BandObservation is an observation whose passband survived a BandMap, with
// the passband's textual label attached.
type BandObservation struct {
	catalog.Observation
	Band string
}

// RemapClasses keeps the metadata rows whose target is a key of classes,
// rewrites their target to the mapped value, and keeps only the observations
// of surviving objects. An empty map yields empty tables.
func RemapClasses(meta []catalog.Metadata, obs []catalog.Observation, classes catalog.ClassMap) ([]catalog.Metadata, []catalog.Observation) {
	defer monitoring.Timed("[plasticc] classes remapped")()

	outMeta := make([]catalog.Metadata, 0, len(meta))
	keep := make(map[int64]bool, len(meta))
	for _, m := range meta {
		target, ok := classes[m.Target]
		if !ok {
			continue
		}
		m.Target = target
		outMeta = append(outMeta, m)
		keep[m.ObjectID] = true
	}

	outObs := make([]catalog.Observation, 0, len(obs))
	for _, o := range obs {
		if keep[o.ObjectID] {
			outObs = append(outObs, o)
		}
	}
	return outMeta, outObs
}

// FilterBands keeps the observations whose passband is a key of bands and
// labels them. An empty map yields an empty table.
func FilterBands(obs []catalog.Observation, bands catalog.BandMap) []BandObservation {
	defer monitoring.Timed("[plasticc] unused bands removed")()

	out := make([]BandObservation, 0, len(obs))
	for _, o := range obs {
		label, ok := bands[o.Passband]
		if !ok {
			continue
		}
		out = append(out, BandObservation{Observation: o, Band: label})
	}
	return out
}
