package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newRoot(t *testing.T) Root {
	t.Helper()
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("new root: %v", err)
	}
	return root
}

func TestResolveRelative(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	p, err := root.Resolve("dates.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Rel() != "dates.txt" {
		t.Fatalf("expected rel dates.txt, got %q", p.Rel())
	}
	if p.Abs() != filepath.Join(root.Dir(), "dates.txt") {
		t.Fatalf("unexpected abs path %q", p.Abs())
	}
}

func TestResolveNestedNotYetExisting(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	p, err := root.Resolve("logs/out/result.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Rel() != filepath.Join("logs", "out", "result.json") {
		t.Fatalf("unexpected rel %q", p.Rel())
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	for _, candidate := range []string{
		"../../secrets",
		"../outside.txt",
		"a/../../../etc/passwd",
	} {
		_, err := root.Resolve(candidate)
		if !errors.Is(err, ErrEscape) {
			t.Fatalf("expected ErrEscape for %q, got %v", candidate, err)
		}
	}
}

func TestResolveRejectsAbsoluteOutside(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	_, err := root.Resolve("/etc/passwd")
	if !errors.Is(err, ErrEscape) {
		t.Fatalf("expected ErrEscape, got %v", err)
	}
}

func TestResolveAcceptsAbsoluteInside(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	p, err := root.Resolve(filepath.Join(root.Dir(), "report.md"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Rel() != "report.md" {
		t.Fatalf("unexpected rel %q", p.Rel())
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o600); err != nil {
		t.Fatalf("write outside file: %v", err)
	}
	link := filepath.Join(root.Dir(), "leak")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := root.Resolve("leak/secret.txt")
	if !errors.Is(err, ErrEscape) {
		t.Fatalf("expected ErrEscape through symlink, got %v", err)
	}
}

func TestResolveFollowsSymlinkInsideRoot(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	if err := os.MkdirAll(filepath.Join(root.Dir(), "real"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(root.Dir(), "real"), filepath.Join(root.Dir(), "alias")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	p, err := root.Resolve("alias/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Rel() != filepath.Join("real", "file.txt") {
		t.Fatalf("expected resolution to real dir, got %q", p.Rel())
	}
}

func TestResolveRejectsEmpty(t *testing.T) {
	t.Parallel()
	root := newRoot(t)

	if _, err := root.Resolve("  "); !errors.Is(err, ErrEscape) {
		t.Fatalf("expected ErrEscape for blank path, got %v", err)
	}
}
