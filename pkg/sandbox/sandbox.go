// Package sandbox confines every filesystem path used by the engine to a
// single root directory. Root.Resolve is the only way to turn an untrusted
// candidate path into one that handlers may touch.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscape is returned for any candidate that normalizes to a location
// outside the sandbox root, including traversal segments and symlinks whose
// targets leave the root.
var ErrEscape = errors.New("path escapes sandbox root")

// Root is the configured sandbox directory. It is immutable after
// construction; there is no way to re-point it at runtime.
type Root struct {
	dir string
}

// Path is a location proven to live inside the sandbox root. Values are only
// produced by Root.Resolve.
type Path struct {
	abs string
	rel string
}

// Abs returns the absolute filesystem location.
func (p Path) Abs() string { return p.abs }

// Rel returns the location relative to the sandbox root.
func (p Path) Rel() string { return p.rel }

// NewRoot prepares a sandbox rooted at dir, creating it if needed. The stored
// root is symlink-resolved so later containment checks compare like with like.
func NewRoot(dir string) (Root, error) {
	if dir == "" {
		return Root{}, errors.New("sandbox root is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Root{}, fmt.Errorf("prepare sandbox root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Root{}, fmt.Errorf("resolve sandbox root: %w", err)
	}
	return Root{dir: resolved}, nil
}

// Dir returns the absolute sandbox root directory.
func (r Root) Dir() string { return r.dir }

// Resolve normalizes candidate against the root and proves containment.
// Relative candidates are joined to the root; absolute candidates must
// already point inside it. Symlinks along the existing portion of the path
// are followed, and a link target outside the root is a rejection, never a
// rewrite.
func (r Root) Resolve(candidate string) (Path, error) {
	if r.dir == "" {
		return Path{}, errors.New("sandbox root not configured")
	}
	if strings.TrimSpace(candidate) == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrEscape)
	}

	target := candidate
	if !filepath.IsAbs(target) {
		target = filepath.Join(r.dir, target)
	}
	target = filepath.Clean(target)

	resolved, err := resolveExisting(target)
	if err != nil {
		return Path{}, fmt.Errorf("resolve %q: %w", candidate, err)
	}

	rel, err := filepath.Rel(r.dir, resolved)
	if err != nil {
		return Path{}, fmt.Errorf("%w: %s", ErrEscape, candidate)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Path{}, fmt.Errorf("%w: %s", ErrEscape, candidate)
	}
	if rel == "." {
		rel = ""
	}
	return Path{abs: resolved, rel: rel}, nil
}

// resolveExisting follows symlinks through the deepest existing ancestor of
// target and re-joins the not-yet-existing suffix, so containment is judged
// on the real location even for paths about to be created.
func resolveExisting(target string) (string, error) {
	existing := target
	var pending []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		pending = append([]string{filepath.Base(existing)}, pending...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return resolved, nil
	}
	return filepath.Join(append([]string{resolved}, pending...)...), nil
}
