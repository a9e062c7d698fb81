// Package ztf ingests SNANA-format ZTF simulations (FITS header and
// photometry tables) into PLAsTiCC-schema catalogs.
package ztf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/astrolight/internal/catalog"
)

// ErrBadValue is returned when a cell cannot be converted to the type its
// column is read as.
var ErrBadValue = errors.New("bad value")

// Table is a decoded binary table: column names in file order and one map
// per row keyed by column name.
type Table struct {
	Columns []string
	Rows    []map[string]interface{}
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Has reports whether the table has the named column.
func (t Table) Has(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// resolve returns the first alias present in the table.
func (t Table) resolve(field string, aliases ...string) (string, error) {
	for _, a := range aliases {
		if t.Has(a) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w %q (looked for %s)", catalog.ErrMissingColumn, field, strings.Join(aliases, ", "))
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadValue, x)
		}
		return f, nil
	case []byte:
		return toFloat(string(x))
	default:
		return 0, fmt.Errorf("%w: %T", ErrBadValue, v)
	}
}

func toInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case string, []byte:
		s := strings.TrimSpace(toString(x))
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// SNANA ids are sometimes written as floats
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != float64(int64(f)) {
				return 0, fmt.Errorf("%w: %q", ErrBadValue, s)
			}
			return int64(f), nil
		}
		return n, nil
	default:
		f, err := toFloat(v)
		if err != nil {
			return 0, err
		}
		if f != float64(int64(f)) {
			return 0, fmt.Errorf("%w: %v is not integral", ErrBadValue, v)
		}
		return int64(f), nil
	}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(v)
	}
}
