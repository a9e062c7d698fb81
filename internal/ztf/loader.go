package ztf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/monitoring"
)

// File naming conventions of an SNANA simulation run.
const (
	HeadSuffix  = "_HEAD.FITS.gz"
	PhotSuffix  = "_PHOT.FITS.gz"
	ListPattern = "*.LIST"
	headPattern = "*" + HeadSuffix
	photPattern = "*" + PhotSuffix
)

// ErrFileCountMismatch is returned when a run directory does not hold exactly
// one photometry file per header file.
var ErrFileCountMismatch = errors.New("header/photometry file mismatch")

// Discover returns the immediate subdirectories of root that hold at least one
// run listing (*.LIST), in lexical order.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		lists, err := filepath.Glob(filepath.Join(dir, ListPattern))
		if err != nil {
			return nil, fmt.Errorf("failed to glob %s: %w", dir, err)
		}
		if len(lists) > 0 {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// RunFiles returns the paired header and photometry files of a run directory.
func RunFiles(dir string) (heads, phots []string, err error) {
	heads, err = filepath.Glob(filepath.Join(dir, headPattern))
	if err != nil {
		return nil, nil, err
	}
	phots, err = filepath.Glob(filepath.Join(dir, photPattern))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(heads)
	sort.Strings(phots)
	if len(heads) != len(phots) {
		return nil, nil, fmt.Errorf("%w: %d header files, %d photometry files", ErrFileCountMismatch, len(heads), len(phots))
	}
	for i := range heads {
		if strings.TrimSuffix(heads[i], HeadSuffix) != strings.TrimSuffix(phots[i], PhotSuffix) {
			return nil, nil, fmt.Errorf("%w: %s paired with %s", ErrFileCountMismatch, filepath.Base(heads[i]), filepath.Base(phots[i]))
		}
	}
	return heads, phots, nil
}

// LoadRun converts every header/photometry pair of one run directory and
// concatenates the results.
func LoadRun(ctx context.Context, reader Reader, dir string, opts Options) (catalog.Catalog, error) {
	monitoring.Logf("[ztf] loading run %s", filepath.Base(dir))
	heads, phots, err := RunFiles(dir)
	if err != nil {
		return catalog.Catalog{}, err
	}

	parts := make([]catalog.Catalog, 0, len(heads))
	for i := range heads {
		if err := ctx.Err(); err != nil {
			return catalog.Catalog{}, err
		}
		head, err := reader.ReadTable(heads[i])
		if err != nil {
			return catalog.Catalog{}, err
		}
		phot, err := reader.ReadTable(phots[i])
		if err != nil {
			return catalog.Catalog{}, err
		}
		part, err := Convert(head, phot, opts)
		if err != nil {
			return catalog.Catalog{}, fmt.Errorf("%s: %w", filepath.Base(heads[i]), err)
		}
		parts = append(parts, part)
	}
	return catalog.Concat(parts...), nil
}

// RunResult is the outcome of loading one run directory.
type RunResult struct {
	Dir     string
	Catalog catalog.Catalog
	Err     error
}

// Result collects the outcome of every discovered run, in discovery order.
type Result struct {
	Runs []RunResult
}

// Merge concatenates the catalogs of the successful runs.
func (r Result) Merge() catalog.Catalog {
	parts := make([]catalog.Catalog, 0, len(r.Runs))
	for _, run := range r.Runs {
		if run.Err == nil {
			parts = append(parts, run.Catalog)
		}
	}
	return catalog.Concat(parts...)
}

// Failed returns the runs that did not load.
func (r Result) Failed() []RunResult {
	var failed []RunResult
	for _, run := range r.Runs {
		if run.Err != nil {
			failed = append(failed, run)
		}
	}
	return failed
}

// LoadOptions control a multi-run load.
type LoadOptions struct {
	Options
	// Reader decodes table files; nil means FITSReader.
	Reader Reader
	// Workers bounds the number of runs loaded at once; 0 means GOMAXPROCS.
	Workers int
	// FailFast stops at the first failed run. Otherwise every run is
	// attempted and the failures are joined into the returned error.
	FailFast bool
}

// Load discovers the runs under root and loads them in parallel. Runs share
// no state, so each worker writes only its own slot of the result.
func Load(ctx context.Context, root string, opts LoadOptions) (Result, error) {
	dirs, err := Discover(root)
	if err != nil {
		return Result{}, err
	}
	monitoring.Logf("[ztf] found %d runs under %s", len(dirs), root)

	reader := opts.Reader
	if reader == nil {
		reader = FITSReader{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	res := Result{Runs: make([]RunResult, len(dirs))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, dir := range dirs {
		g.Go(func() error {
			cat, err := LoadRun(gctx, reader, dir, opts.Options)
			res.Runs[i] = RunResult{Dir: dir, Catalog: cat, Err: err}
			if err != nil {
				monitoring.Logf("[ztf] run %s failed: %v", filepath.Base(dir), err)
				if opts.FailFast {
					return fmt.Errorf("%s: %w", dir, err)
				}
				return nil
			}
			monitoring.Logf("[ztf] run %s: %d objects, %d observations",
				filepath.Base(dir), len(cat.Metadata), len(cat.Observations))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	var errs []error
	for _, run := range res.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", run.Dir, run.Err))
	}
	return res, errors.Join(errs...)
}
