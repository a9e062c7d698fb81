package ztf

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
)

// ErrNoTable is returned when a FITS file has no binary table extension.
var ErrNoTable = errors.New("no binary table in FITS file")

// Reader loads a table from a path.
type Reader interface {
	ReadTable(path string) (Table, error)
}

// FITSReader reads the first binary table of a FITS file, transparently
// decompressing files ending in .gz.
type FITSReader struct{}

// ReadTable implements Reader.
func (FITSReader) ReadTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Table{}, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	t, err := DecodeFITS(r)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// DecodeFITS decodes the first binary table HDU of a FITS stream.
func DecodeFITS(r io.Reader) (Table, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return Table{}, fmt.Errorf("failed to decode FITS: %w", err)
	}
	defer f.Close()

	var tbl *fitsio.Table
	for _, hdu := range f.HDUs() {
		if t, ok := hdu.(*fitsio.Table); ok {
			tbl = t
			break
		}
	}
	if tbl == nil {
		return Table{}, ErrNoTable
	}

	cols := tbl.Cols()
	out := Table{Columns: make([]string, len(cols))}
	for i, c := range cols {
		out.Columns[i] = c.Name
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return Table{}, fmt.Errorf("failed to read table rows: %w", err)
	}
	defer rows.Close()

	out.Rows = make([]map[string]interface{}, 0, tbl.NumRows())
	for rows.Next() {
		row := make(map[string]interface{}, len(cols))
		if err := rows.Scan(&row); err != nil {
			return Table{}, fmt.Errorf("failed to scan row %d: %w", len(out.Rows), err)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}
