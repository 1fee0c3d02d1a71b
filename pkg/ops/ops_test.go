package ops

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/procrun"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
	"github.com/taskpilot/taskpilot/pkg/store"
)

// testEnv grants every capability; capability enforcement itself is covered
// by the engine tests.
type testEnv struct {
	root   sandbox.Root
	store  *store.Store
	client *http.Client
	runner *procrun.Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root, err := sandbox.NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("new root: %v", err)
	}
	return &testEnv{
		root:   root,
		store:  store.New(root),
		client: &http.Client{Timeout: 5 * time.Second},
		runner: &procrun.Runner{Timeout: 5 * time.Second, MaxOutput: 1 << 20},
	}
}

func (e *testEnv) Resolve(name string) (sandbox.Path, error) { return e.root.Resolve(name) }

func (e *testEnv) ReadFile(name string) ([]byte, error) {
	p, err := e.root.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p.Abs())
}

func (e *testEnv) PathFor(name string) (string, error) {
	p, err := e.root.Resolve(name)
	if err != nil {
		return "", err
	}
	return p.Abs(), nil
}

func (e *testEnv) EnsureDir(name string) (string, error) {
	p, err := e.root.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.Abs(), 0o755); err != nil {
		return "", err
	}
	return p.Abs(), nil
}

func (e *testEnv) Put(name string, r io.Reader) error {
	_, err := e.store.Put(name, r)
	return err
}

func (e *testEnv) HTTPClient() (*http.Client, error) { return e.client, nil }

func (e *testEnv) Runner() (*procrun.Runner, error) { return e.runner, nil }

func (e *testEnv) seed(t *testing.T, name, content string) {
	t.Helper()
	abs := filepath.Join(e.root.Dir(), name)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("seed dir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

func (e *testEnv) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.root.Dir(), name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func run(t *testing.T, op catalog.Operation, env catalog.Env, params map[string]any) *catalog.Result {
	t.Helper()
	res, err := op.Execute(context.Background(), env, params)
	if err != nil {
		t.Fatalf("%s: %v", op.Spec().ID, err)
	}
	return res
}
