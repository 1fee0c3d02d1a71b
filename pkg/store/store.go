// Package store materializes operation artifacts inside the sandbox and
// serves them back to the external read interface.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
)

var (
	// ErrNotFound means no artifact exists under the requested name.
	ErrNotFound = errors.New("artifact not found")
	// ErrDenied means the requested name is not servable. It carries no more
	// detail than ErrNotFound so callers cannot probe path existence.
	ErrDenied = errors.New("artifact access denied")
)

// Artifact records a materialized output file.
type Artifact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store writes and reads artifacts under a sandbox root. All writes are
// temp-file-then-rename, so a failure mid-write never leaves a partial
// artifact at its final name and concurrent same-name writes are
// last-writer-wins without locking.
type Store struct {
	root sandbox.Root
}

// New returns a Store over root.
func New(root sandbox.Root) *Store {
	return &Store{root: root}
}

// Put atomically materializes the artifact name from r. The rename is not
// tied to the caller's deadline: a handler that outlives its timeout may
// still publish a complete artifact afterwards, and concurrent writers to
// the same name race last-writer-wins. Readers never observe a partial file
// either way.
func (s *Store) Put(name string, r io.Reader) (Artifact, error) {
	p, err := s.root.Resolve(name)
	if err != nil {
		return Artifact{}, err
	}
	if p.Rel() == "" {
		return Artifact{}, fmt.Errorf("%w: artifact name resolves to sandbox root", sandbox.ErrEscape)
	}

	if err := os.MkdirAll(filepath.Dir(p.Abs()), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("prepare artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.Abs()), ".tmp-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return Artifact{}, fmt.Errorf("write artifact %s: %w", p.Rel(), err)
	}
	if err := tmp.Sync(); err != nil {
		return Artifact{}, fmt.Errorf("sync artifact %s: %w", p.Rel(), err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close artifact %s: %w", p.Rel(), err)
	}
	if err := os.Rename(tmp.Name(), p.Abs()); err != nil {
		return Artifact{}, fmt.Errorf("publish artifact %s: %w", p.Rel(), err)
	}

	return Artifact{
		ID:        uuid.NewString(),
		Name:      p.Rel(),
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Get opens the artifact name for reading. The traversal screen here is
// intentionally independent of the sandbox guard: this is the boundary the
// external read interface reaches directly.
func (s *Store) Get(name string) (io.ReadCloser, error) {
	if rejected(name) {
		return nil, ErrDenied
	}
	p, err := s.root.Resolve(name)
	if err != nil {
		return nil, ErrDenied
	}
	f, err := os.Open(p.Abs())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open artifact %s: %w", p.Rel(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat artifact %s: %w", p.Rel(), err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrDenied
	}
	return f, nil
}

func rejected(name string) bool {
	if strings.TrimSpace(name) == "" {
		return true
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
