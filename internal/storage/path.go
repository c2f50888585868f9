package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator confines file access to a root directory.
type PathValidator struct {
	root string
}

// NewPathValidator creates a validator for root. The directory does not
// need to exist yet.
func NewPathValidator(root string) (*PathValidator, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	return &PathValidator{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute root directory.
func (v *PathValidator) Root() string { return v.root }

// Resolve returns the absolute form of path, which may be relative to the
// root, after checking that it stays inside the root.
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.root, path)
	}
	abs := filepath.Clean(path)
	if !v.Within(abs) {
		return "", fmt.Errorf("path is outside %s: %s", v.root, path)
	}
	return abs, nil
}

// Within reports whether an absolute path lies inside the root. Symlinks
// are followed for both the path and the root.
func (v *PathValidator) Within(path string) bool {
	if !contains(v.root, path) {
		return false
	}
	realRoot := v.root
	if resolved, err := filepath.EvalSymlinks(v.root); err == nil {
		realRoot = resolved
	}
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return false
		}
		return contains(realRoot, resolved) || contains(v.root, resolved)
	}
	return true
}

// Rel returns path relative to the root.
func (v *PathValidator) Rel(path string) (string, error) {
	abs, err := v.Resolve(path)
	if err != nil {
		return "", err
	}
	return filepath.Rel(v.root, abs)
}

func contains(dir, path string) bool {
	if path == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
