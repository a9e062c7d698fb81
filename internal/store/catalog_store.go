package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/monitoring"
)

// ErrSourceNotFound is returned when no catalog is stored under a source name.
var ErrSourceNotFound = errors.New("catalog source not found")

// nullable maps NaN to NULL, which is how SQLite stores it anyway.
func nullable(f float64) interface{} {
	if math.IsNaN(f) {
		return nil
	}
	return f
}

func fromNull(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

// SaveCatalog stores cat under source, replacing anything stored there
// before. Row order is preserved.
func (s *Store) SaveCatalog(source string, cat catalog.Catalog) (err error) {
	defer monitoring.Timed(fmt.Sprintf("[store] saved %d objects, %d observations to %q",
		len(cat.Metadata), len(cat.Observations), source))()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"objects", "observations"} {
		if _, err = tx.Exec(`DELETE FROM `+table+` WHERE source = ?`, source); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	objStmt, err := tx.Prepare(`
		INSERT INTO objects (
			source, object_id, ra, decl, ddf, hostgal_specz, hostgal_photz,
			hostgal_photz_err, distmod, mwebv, target, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare object insert: %w", err)
	}
	defer objStmt.Close()
	for i, m := range cat.Metadata {
		_, err = objStmt.Exec(source, m.ObjectID, m.RA, m.Decl, m.DDF,
			nullable(m.HostgalSpecz), nullable(m.HostgalPhotz), nullable(m.HostgalPhotzErr),
			nullable(m.Distmod), nullable(m.MWEBV), m.Target, i)
		if err != nil {
			return fmt.Errorf("insert object %d: %w", m.ObjectID, err)
		}
	}

	obsStmt, err := tx.Prepare(`
		INSERT INTO observations (
			source, seq, object_id, mjd, passband, flux, flux_err, detected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer obsStmt.Close()
	for i, o := range cat.Observations {
		_, err = obsStmt.Exec(source, i, o.ObjectID, o.MJD, o.Passband, o.Flux, o.FluxErr, o.Detected)
		if err != nil {
			return fmt.Errorf("insert observation %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

// LoadCatalog returns the catalog stored under source.
func (s *Store) LoadCatalog(source string) (catalog.Catalog, error) {
	var cat catalog.Catalog

	rows, err := s.db.Query(`
		SELECT object_id, ra, decl, ddf, hostgal_specz, hostgal_photz,
		       hostgal_photz_err, distmod, mwebv, target
		FROM objects
		WHERE source = ?
		ORDER BY seq`, source)
	if err != nil {
		return cat, fmt.Errorf("query objects: %w", err)
	}
	for rows.Next() {
		var m catalog.Metadata
		var specz, photz, photzErr, distmod, mwebv sql.NullFloat64
		if err := rows.Scan(&m.ObjectID, &m.RA, &m.Decl, &m.DDF,
			&specz, &photz, &photzErr, &distmod, &mwebv, &m.Target); err != nil {
			rows.Close()
			return cat, fmt.Errorf("scan object row: %w", err)
		}
		m.HostgalSpecz = fromNull(specz)
		m.HostgalPhotz = fromNull(photz)
		m.HostgalPhotzErr = fromNull(photzErr)
		m.Distmod = fromNull(distmod)
		m.MWEBV = fromNull(mwebv)
		cat.Metadata = append(cat.Metadata, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cat, fmt.Errorf("iterate objects: %w", err)
	}
	if len(cat.Metadata) == 0 {
		return cat, fmt.Errorf("%w: %q", ErrSourceNotFound, source)
	}

	rows, err = s.db.Query(`
		SELECT object_id, mjd, passband, flux, flux_err, detected
		FROM observations
		WHERE source = ?
		ORDER BY seq`, source)
	if err != nil {
		return cat, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o catalog.Observation
		if err := rows.Scan(&o.ObjectID, &o.MJD, &o.Passband, &o.Flux, &o.FluxErr, &o.Detected); err != nil {
			return cat, fmt.Errorf("scan observation row: %w", err)
		}
		cat.Observations = append(cat.Observations, o)
	}
	if err := rows.Err(); err != nil {
		return cat, fmt.Errorf("iterate observations: %w", err)
	}
	return cat, nil
}

// Sources lists the stored catalog names.
func (s *Store) Sources() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT source FROM objects ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
