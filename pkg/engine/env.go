package engine

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/procrun"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
	"github.com/taskpilot/taskpilot/pkg/store"
)

// ErrCapability is returned when a handler requests an effect outside its
// operation's declared capability set.
var ErrCapability = errors.New("capability not declared")

// execEnv brokers every handler effect through the operation's declared
// capabilities. Handlers cannot reach the filesystem, network or process
// table except through these methods.
type execEnv struct {
	caps   catalog.CapSet
	root   sandbox.Root
	store  *store.Store
	client *http.Client
	runner *procrun.Runner
}

var _ catalog.Env = (*execEnv)(nil)

func (e *execEnv) require(c catalog.Cap) error {
	if !e.caps.Has(c) {
		return fmt.Errorf("%w: %s", ErrCapability, c)
	}
	return nil
}

func (e *execEnv) Resolve(name string) (sandbox.Path, error) {
	return e.root.Resolve(name)
}

func (e *execEnv) ReadFile(name string) ([]byte, error) {
	if err := e.require(catalog.CapRead); err != nil {
		return nil, err
	}
	p, err := e.root.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p.Abs())
}

func (e *execEnv) PathFor(name string) (string, error) {
	if err := e.require(catalog.CapRead); err != nil {
		return "", err
	}
	p, err := e.root.Resolve(name)
	if err != nil {
		return "", err
	}
	return p.Abs(), nil
}

func (e *execEnv) EnsureDir(name string) (string, error) {
	if err := e.require(catalog.CapWrite); err != nil {
		return "", err
	}
	p, err := e.root.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.Abs(), 0o755); err != nil {
		return "", fmt.Errorf("prepare directory %s: %w", p.Rel(), err)
	}
	return p.Abs(), nil
}

func (e *execEnv) Put(name string, r io.Reader) error {
	if err := e.require(catalog.CapWrite); err != nil {
		return err
	}
	_, err := e.store.Put(name, r)
	return err
}

func (e *execEnv) HTTPClient() (*http.Client, error) {
	if err := e.require(catalog.CapNetwork); err != nil {
		return nil, err
	}
	return e.client, nil
}

func (e *execEnv) Runner() (*procrun.Runner, error) {
	if err := e.require(catalog.CapProcess); err != nil {
		return nil, err
	}
	return e.runner, nil
}
