// Package security validates file paths supplied on the command line.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrUnsafePath is wrapped by every rejection.
var ErrUnsafePath = errors.New("unsafe path")

// canonical resolves symlinks in path, or in its nearest existing parent
// when path does not exist yet.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// WithinDirectory reports an error unless path resolves inside dir,
// following symlinks on both sides.
func WithinDirectory(path, dir string) error {
	p, err := canonical(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	d, err := canonical(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	rel, err := filepath.Rel(d, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrUnsafePath, path, dir)
	}
	return nil
}

// ValidateInputFile checks that path is an existing regular file with one
// of the given extensions (any extension when exts is empty).
func ValidateInputFile(path string, exts ...string) error {
	if len(exts) > 0 && !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
		return fmt.Errorf("%w: %s must have one of the extensions %v", ErrUnsafePath, path, exts)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrUnsafePath, path)
	}
	return nil
}

// ValidateOutputPath accepts paths inside the working directory or the
// system temp directory.
func ValidateOutputPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	for _, dir := range []string{cwd, os.TempDir()} {
		if WithinDirectory(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be inside %s or %s", ErrUnsafePath, path, cwd, os.TempDir())
}
