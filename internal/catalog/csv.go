package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
)

// ErrMissingColumn is returned when an input table lacks a column the
// pipeline depends on.
var ErrMissingColumn = errors.New("missing column")

// MetadataColumns are the metadata columns the pipeline reads. Other
// PLAsTiCC columns (gal_l, gal_b, ...) are ignored.
var MetadataColumns = []string{"object_id", "ra", "decl", "hostgal_specz", "mwebv", "target"}

// ObservationColumns are the photometry columns the pipeline reads.
var ObservationColumns = []string{"object_id", "mjd", "passband", "flux", "flux_err", "detected"}

// observationRow is the CSV shape of an Observation; the detected flag is
// stored as 0/1 in PLAsTiCC files.
type observationRow struct {
	ObjectID int64   `csv:"object_id"`
	MJD      float64 `csv:"mjd"`
	Passband int     `csv:"passband"`
	Flux     float64 `csv:"flux"`
	FluxErr  float64 `csv:"flux_err"`
	Detected int     `csv:"detected"`
}

// optionalFloat is a float column where a blank cell means NaN. PLAsTiCC
// leaves hostgal_specz blank for most test objects and distmod blank for
// galactic ones.
type optionalFloat float64

func (f *optionalFloat) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*f = optionalFloat(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = optionalFloat(v)
	return nil
}

func (f optionalFloat) MarshalCSV() (string, error) {
	if math.IsNaN(float64(f)) {
		return "", nil
	}
	return strconv.FormatFloat(float64(f), 'f', -1, 64), nil
}

// metadataRow is the CSV shape of a Metadata record.
type metadataRow struct {
	ObjectID        int64         `csv:"object_id"`
	RA              float64       `csv:"ra"`
	Decl            float64       `csv:"decl"`
	DDF             int           `csv:"ddf"`
	HostgalSpecz    optionalFloat `csv:"hostgal_specz"`
	HostgalPhotz    optionalFloat `csv:"hostgal_photz"`
	HostgalPhotzErr optionalFloat `csv:"hostgal_photz_err"`
	Distmod         optionalFloat `csv:"distmod"`
	MWEBV           optionalFloat `csv:"mwebv"`
	Target          int           `csv:"target"`
}

func (row metadataRow) metadata() Metadata {
	return Metadata{
		ObjectID:        row.ObjectID,
		RA:              row.RA,
		Decl:            row.Decl,
		DDF:             row.DDF,
		HostgalSpecz:    float64(row.HostgalSpecz),
		HostgalPhotz:    float64(row.HostgalPhotz),
		HostgalPhotzErr: float64(row.HostgalPhotzErr),
		Distmod:         float64(row.Distmod),
		MWEBV:           float64(row.MWEBV),
		Target:          row.Target,
	}
}

func newMetadataRow(m Metadata) metadataRow {
	return metadataRow{
		ObjectID:        m.ObjectID,
		RA:              m.RA,
		Decl:            m.Decl,
		DDF:             m.DDF,
		HostgalSpecz:    optionalFloat(m.HostgalSpecz),
		HostgalPhotz:    optionalFloat(m.HostgalPhotz),
		HostgalPhotzErr: optionalFloat(m.HostgalPhotzErr),
		Distmod:         optionalFloat(m.Distmod),
		MWEBV:           optionalFloat(m.MWEBV),
		Target:          m.Target,
	}
}

// ReadMetadataCSV decodes a PLAsTiCC metadata table. Blank optional columns
// and optional columns absent from the header decode as NaN.
func ReadMetadataCSV(r io.Reader) ([]Metadata, error) {
	data, header, err := readChecked(r, MetadataColumns)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if len(data) == 0 {
		return []Metadata{}, nil
	}
	var rows []metadataRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("metadata: decode: %w", err)
	}
	out := make([]Metadata, len(rows))
	for i, row := range rows {
		out[i] = row.metadata()
		for _, col := range optionalMetadataColumns {
			if !header[col.name] {
				col.clear(&out[i])
			}
		}
	}
	return out, nil
}

// optionalMetadataColumns are the nullable columns a metadata table may omit
// entirely.
var optionalMetadataColumns = []struct {
	name  string
	clear func(*Metadata)
}{
	{"hostgal_photz", func(m *Metadata) { m.HostgalPhotz = math.NaN() }},
	{"hostgal_photz_err", func(m *Metadata) { m.HostgalPhotzErr = math.NaN() }},
	{"distmod", func(m *Metadata) { m.Distmod = math.NaN() }},
}

// ReadObservationsCSV decodes a PLAsTiCC photometry table.
func ReadObservationsCSV(r io.Reader) ([]Observation, error) {
	data, _, err := readChecked(r, ObservationColumns)
	if err != nil {
		return nil, fmt.Errorf("observations: %w", err)
	}
	var rows []observationRow
	if len(data) == 0 {
		return nil, nil
	}
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("observations: decode: %w", err)
	}
	out := make([]Observation, len(rows))
	for i, row := range rows {
		out[i] = Observation{
			ObjectID: row.ObjectID,
			MJD:      row.MJD,
			Passband: row.Passband,
			Flux:     row.Flux,
			FluxErr:  row.FluxErr,
			Detected: row.Detected != 0,
		}
	}
	return out, nil
}

// WriteMetadataCSV encodes metadata in the PLAsTiCC layout.
func WriteMetadataCSV(w io.Writer, meta []Metadata) error {
	rows := make([]metadataRow, len(meta))
	for i, m := range meta {
		rows[i] = newMetadataRow(m)
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("metadata: encode: %w", err)
	}
	return nil
}

// WriteObservationsCSV encodes photometry in the PLAsTiCC layout.
func WriteObservationsCSV(w io.Writer, obs []Observation) error {
	rows := make([]observationRow, len(obs))
	for i, o := range obs {
		rows[i] = observationRow{
			ObjectID: o.ObjectID,
			MJD:      o.MJD,
			Passband: o.Passband,
			Flux:     o.Flux,
			FluxErr:  o.FluxErr,
		}
		if o.Detected {
			rows[i].Detected = 1
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("observations: encode: %w", err)
	}
	return nil
}

// LoadPLAsTiCC reads a photometry file and a metadata file into a Catalog.
func LoadPLAsTiCC(curvesPath, metadataPath string) (Catalog, error) {
	mf, err := os.Open(metadataPath)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to open metadata: %w", err)
	}
	defer mf.Close()
	meta, err := ReadMetadataCSV(mf)
	if err != nil {
		return Catalog{}, fmt.Errorf("%s: %w", metadataPath, err)
	}

	cf, err := os.Open(curvesPath)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to open curves: %w", err)
	}
	defer cf.Close()
	obs, err := ReadObservationsCSV(cf)
	if err != nil {
		return Catalog{}, fmt.Errorf("%s: %w", curvesPath, err)
	}
	return Catalog{Metadata: meta, Observations: obs}, nil
}

// SavePLAsTiCC writes a catalog as a photometry file and a metadata file.
func SavePLAsTiCC(cat Catalog, curvesPath, metadataPath string) error {
	mf, err := os.Create(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	if err := WriteMetadataCSV(mf, cat.Metadata); err != nil {
		mf.Close()
		return err
	}
	if err := mf.Close(); err != nil {
		return fmt.Errorf("failed to close metadata file: %w", err)
	}

	cf, err := os.Create(curvesPath)
	if err != nil {
		return fmt.Errorf("failed to create curves file: %w", err)
	}
	if err := WriteObservationsCSV(cf, cat.Observations); err != nil {
		cf.Close()
		return err
	}
	if err := cf.Close(); err != nil {
		return fmt.Errorf("failed to close curves file: %w", err)
	}
	return nil
}

// readChecked buffers the table and verifies its header carries every
// required column. It returns the set of header columns. An empty input
// yields nil data and no error.
func readChecked(r io.Reader, required []string) ([]byte, map[string]bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}
	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}
	for _, col := range required {
		if !present[col] {
			return nil, nil, fmt.Errorf("%w %q", ErrMissingColumn, col)
		}
	}
	return data, present, nil
}
