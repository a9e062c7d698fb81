// Package testutil provides shared test fixtures.
//
// This package centralises the small catalogs reused by the plasticc, rapid
// and store tests so each scenario is described once.
package testutil

import "github.com/banshee-data/astrolight/internal/catalog"

// Obs builds an observation.
func Obs(id int64, mjd float64, band int, flux float64, detected bool) catalog.Observation {
	return catalog.Observation{
		ObjectID: id,
		MJD:      mjd,
		Passband: band,
		Flux:     flux,
		FluxErr:  flux / 10,
		Detected: detected,
	}
}

// SmallCatalog returns three objects:
//
//	object 5  class 90, g/r/i photometry, first detection at its second g/r row
//	object 7  class 99, outside the default class map
//	object 11 class 62, g/r photometry, no detection
func SmallCatalog() catalog.Catalog {
	return catalog.Catalog{
		Metadata: []catalog.Metadata{
			{ObjectID: 5, RA: 10.1, Decl: -4.2, HostgalSpecz: 0.11, HostgalPhotz: 0.12, MWEBV: 0.03, Target: 90},
			{ObjectID: 7, RA: 20.2, Decl: -8.4, HostgalSpecz: 0.22, HostgalPhotz: 0.21, MWEBV: 0.01, Target: 99},
			{ObjectID: 11, RA: 30.3, Decl: 12.6, HostgalSpecz: 0.33, HostgalPhotz: 0.31, MWEBV: 0.02, Target: 62},
		},
		Observations: []catalog.Observation{
			Obs(5, 100.0, 1, 1.0, false),
			Obs(5, 100.5, 3, 9.0, true),
			Obs(5, 101.0, 2, 5.0, true),
			Obs(5, 102.0, 1, 7.0, true),
			Obs(7, 100.0, 1, 2.0, true),
			Obs(11, 200.0, 1, 0.5, false),
			Obs(11, 201.0, 2, 0.7, false),
		},
	}
}

// SequentialCatalog returns n objects of class 90 with two g/r observations
// each, the second one detected. Object ids are 1..n.
func SequentialCatalog(n int) catalog.Catalog {
	var cat catalog.Catalog
	for i := 1; i <= n; i++ {
		id := int64(i)
		cat.Metadata = append(cat.Metadata, catalog.Metadata{ObjectID: id, RA: float64(i), Target: 90})
		cat.Observations = append(cat.Observations,
			Obs(id, 10, 1, 1, false),
			Obs(id, 11, 2, 2, true),
		)
	}
	return cat
}
