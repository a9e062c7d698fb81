// Package security guards the files the pipeline writes.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrPathEscape is returned when a path resolves outside its base directory.
var ErrPathEscape = errors.New("path escapes base directory")

// maxNameLen bounds generated file name stems.
const maxNameLen = 96

// canonical resolves symlinks in the longest existing prefix of an absolute
// path and re-attaches the part that does not exist yet.
func canonical(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest)
		}
		if dir == filepath.Dir(dir) {
			return abs
		}
	}
}

// WithinDir reports an error unless path, once symlinks are resolved, lies
// inside baseDir. path may not exist yet.
func WithinDir(path, baseDir string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", baseDir, err)
	}

	rel, err := filepath.Rel(canonical(absBase), canonical(absPath))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathEscape, path, baseDir)
	}
	return nil
}

// OutputPath joins a generated file name onto baseDir and checks the result
// stays inside it.
func OutputPath(baseDir, name string) (string, error) {
	p := filepath.Join(baseDir, name)
	if err := WithinDir(p, baseDir); err != nil {
		return "", err
	}
	return p, nil
}

// SanitizeName turns an arbitrary identifier, such as a catalog source or a
// run directory, into a file name stem. Runs of characters other than ASCII
// letters, digits, dots, underscores and dashes collapse to one underscore.
func SanitizeName(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		ok := r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-')
		if !ok {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
