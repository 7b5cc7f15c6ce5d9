// Package validation checks names that arrive from the analysis service
// before they are used to build local paths.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Filename rejects names that cannot safely be a single path element: empty
// names, names with a separator or NUL byte, and the "." and ".." entries.
// Names such as "term1..v2.xlsx" are allowed.
func Filename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("file name cannot be empty")
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("file name contains a null byte: %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name cannot contain path separators: %q", name)
	case name == "." || name == "..":
		return fmt.Errorf("file name cannot be %q", name)
	}
	return nil
}

// WithinDir reports an error when path, resolved against baseDir, lands
// outside baseDir.
func WithinDir(path, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes %s: %s", baseDir, path)
	}
	return nil
}
