package ztf

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/cosmology"
)

// ErrPointerOutOfRange is returned when a header row points past the end of
// its photometry table.
var ErrPointerOutOfRange = errors.New("observation pointer out of range")

// detectionBit is the PHOTFLAG bit SNANA sets on detections.
const detectionBit = 4096

// DefaultSentinelMJD marks the separator rows SNANA writes between objects.
const DefaultSentinelMJD = -777

// DefaultBands maps SNANA filter codes onto PLAsTiCC passband numbers.
func DefaultBands() map[string]int {
	return map[string]int{"g": 1, "r": 2}
}

// Sentinel configures the removal of separator rows by their MJD value.
type Sentinel struct {
	Enabled bool
	MJD     float64
}

// Options control the conversion of one header/photometry pair.
type Options struct {
	Sentinel Sentinel
	// Bands maps trimmed filter codes onto passband numbers. Nil means
	// DefaultBands. Unknown codes become catalog.UnknownBand.
	Bands map[string]int
	// Cosmology derives distmod; the zero value means Planck18.
	Cosmology cosmology.FlatLambdaCDM
}

// DefaultOptions drops -777 separator rows and uses Planck18.
func DefaultOptions() Options {
	return Options{
		Sentinel:  Sentinel{Enabled: true, MJD: DefaultSentinelMJD},
		Bands:     DefaultBands(),
		Cosmology: cosmology.Planck18,
	}
}

func (o Options) bands() map[string]int {
	if o.Bands == nil {
		return DefaultBands()
	}
	return o.Bands
}

func (o Options) cosmology() cosmology.FlatLambdaCDM {
	if o.Cosmology.H0 == 0 {
		return cosmology.Planck18
	}
	return o.Cosmology
}

// headSchema holds the concrete header column names of one file.
type headSchema struct {
	objectID, ra, decl, specz, photz, photzErr, mwebv, target, ptrMax string
}

// photSchema holds the concrete photometry column names of one file.
type photSchema struct {
	mjd, band, flux, fluxErr, photFlag string
}

// resolveHead maps SNANA header columns onto PLAsTiCC metadata fields.
// SNANA writes the declination as either DECL or DEC.
func resolveHead(t Table) (headSchema, error) {
	var s headSchema
	var err error
	pick := func(dst *string, field string, aliases ...string) {
		if err != nil {
			return
		}
		*dst, err = t.resolve(field, aliases...)
	}
	pick(&s.objectID, "object_id", "SNID")
	pick(&s.ra, "ra", "RA")
	pick(&s.decl, "decl", "DECL", "DEC")
	pick(&s.specz, "hostgal_specz", "HOSTGAL_SPECZ")
	pick(&s.photz, "hostgal_photz", "SIM_REDSHIFT_HOST")
	pick(&s.photzErr, "hostgal_photz_err", "HOSTGAL_PHOTOZ_ERR")
	pick(&s.mwebv, "mwebv", "SIM_MWEBV")
	pick(&s.target, "target", "SIM_TYPE_INDEX")
	pick(&s.ptrMax, "ptrobs_max", "PTROBS_MAX")
	return s, err
}

// resolvePhot maps SNANA photometry columns onto PLAsTiCC fields.
func resolvePhot(t Table) (photSchema, error) {
	var s photSchema
	var err error
	pick := func(dst *string, field string, aliases ...string) {
		if err != nil {
			return
		}
		*dst, err = t.resolve(field, aliases...)
	}
	pick(&s.mjd, "mjd", "MJD")
	pick(&s.band, "passband", "FLT", "BAND")
	pick(&s.flux, "flux", "FLUXCAL")
	pick(&s.fluxErr, "flux_err", "FLUXCALERR")
	pick(&s.photFlag, "detected", "PHOTFLAG")
	return s, err
}

// Convert turns one SNANA header table and its photometry table into a
// PLAsTiCC-schema catalog.
//
// SNANA has no per-row object id in the photometry table. Instead each header
// row carries PTROBS_MAX, the one-based index of the object's last
// photometry row; every row from just after the previous object's last row up
// to that index belongs to the object. Rows after the last pointer belong to
// no object and are dropped.
func Convert(head, phot Table, opts Options) (catalog.Catalog, error) {
	hs, err := resolveHead(head)
	if err != nil {
		return catalog.Catalog{}, fmt.Errorf("head: %w", err)
	}
	ps, err := resolvePhot(phot)
	if err != nil {
		return catalog.Catalog{}, fmt.Errorf("phot: %w", err)
	}

	cosmo := opts.cosmology()
	meta := make([]catalog.Metadata, 0, head.Len())
	lastRow := make(map[int]int64, head.Len())
	for i, row := range head.Rows {
		m, ptr, err := readHeadRow(hs, row, cosmo)
		if err != nil {
			return catalog.Catalog{}, fmt.Errorf("head row %d: %w", i, err)
		}
		if ptr < 0 || ptr >= phot.Len() {
			return catalog.Catalog{}, fmt.Errorf("head row %d (object %d): %w: %d of %d rows",
				i, m.ObjectID, ErrPointerOutOfRange, ptr+1, phot.Len())
		}
		lastRow[ptr] = m.ObjectID
		meta = append(meta, m)
	}

	owner := backfillOwners(phot.Len(), lastRow)
	bands := opts.bands()
	obs := make([]catalog.Observation, 0, phot.Len())
	for i, row := range phot.Rows {
		if owner[i] == nil {
			continue
		}
		o, err := readPhotRow(ps, row, bands)
		if err != nil {
			return catalog.Catalog{}, fmt.Errorf("phot row %d: %w", i, err)
		}
		if opts.Sentinel.Enabled && o.MJD == opts.Sentinel.MJD {
			continue
		}
		o.ObjectID = *owner[i]
		obs = append(obs, o)
	}
	return catalog.Catalog{Metadata: meta, Observations: obs}, nil
}

// backfillOwners assigns each photometry row the object whose last-row marker
// is the nearest one at or after it. Rows past the final marker get nil.
func backfillOwners(n int, lastRow map[int]int64) []*int64 {
	owner := make([]*int64, n)
	var current *int64
	for i := n - 1; i >= 0; i-- {
		if id, ok := lastRow[i]; ok {
			id := id
			current = &id
		}
		owner[i] = current
	}
	return owner
}

func readHeadRow(s headSchema, row map[string]interface{}, cosmo cosmology.FlatLambdaCDM) (catalog.Metadata, int, error) {
	var m catalog.Metadata
	var err error
	num := func(col string) float64 {
		if err != nil {
			return 0
		}
		var f float64
		f, err = toFloat(row[col])
		if err != nil {
			err = fmt.Errorf("%s: %w", col, err)
		}
		return f
	}
	integer := func(col string) int64 {
		if err != nil {
			return 0
		}
		var n int64
		n, err = toInt(row[col])
		if err != nil {
			err = fmt.Errorf("%s: %w", col, err)
		}
		return n
	}

	m.ObjectID = integer(s.objectID)
	m.RA = num(s.ra)
	m.Decl = num(s.decl)
	m.HostgalSpecz = num(s.specz)
	m.HostgalPhotz = num(s.photz)
	m.HostgalPhotzErr = num(s.photzErr)
	m.MWEBV = num(s.mwebv)
	m.Target = int(integer(s.target))
	ptr := int(integer(s.ptrMax)) - 1
	if err != nil {
		return catalog.Metadata{}, 0, err
	}
	m.Distmod = cosmo.DistMod(m.HostgalPhotz)
	// no deep-drilling information is available at ingestion time
	m.DDF = 0
	return m, ptr, nil
}

func readPhotRow(s photSchema, row map[string]interface{}, bands map[string]int) (catalog.Observation, error) {
	var o catalog.Observation
	var err error
	num := func(col string) float64 {
		if err != nil {
			return math.NaN()
		}
		var f float64
		f, err = toFloat(row[col])
		if err != nil {
			err = fmt.Errorf("%s: %w", col, err)
		}
		return f
	}

	o.MJD = num(s.mjd)
	o.Flux = num(s.flux)
	o.FluxErr = num(s.fluxErr)
	if err != nil {
		return catalog.Observation{}, err
	}
	flag, err := toInt(row[s.photFlag])
	if err != nil {
		return catalog.Observation{}, fmt.Errorf("%s: %w", s.photFlag, err)
	}
	o.Detected = flag&detectionBit != 0

	o.Passband = catalog.UnknownBand
	if b, ok := bands[strings.TrimSpace(toString(row[s.band]))]; ok {
		o.Passband = b
	}
	return o, nil
}
