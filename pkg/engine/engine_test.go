package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
	"github.com/taskpilot/taskpilot/pkg/store"
)

type fakeOp struct {
	spec    catalog.Spec
	invoked *bool
	execute func(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error)
}

func (o fakeOp) Spec() catalog.Spec { return o.spec }

func (o fakeOp) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	if o.invoked != nil {
		*o.invoked = true
	}
	if o.execute == nil {
		return &catalog.Result{}, nil
	}
	return o.execute(ctx, env, params)
}

func newEngine(t *testing.T, ops ...catalog.Operation) (*Engine, sandbox.Root) {
	t.Helper()
	root, err := sandbox.NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("new root: %v", err)
	}
	reg := catalog.NewRegistry()
	for _, op := range ops {
		reg.Register(op)
	}
	reg.Seal()
	eng := New(Config{
		Catalog:        reg,
		Root:           root,
		Store:          store.New(root),
		RequestTimeout: 2 * time.Second,
	})
	return eng, root
}

func TestUnknownOperationNeverInvokesHandler(t *testing.T) {
	t.Parallel()

	invoked := false
	eng, _ := newEngine(t, fakeOp{
		spec:    catalog.Spec{ID: "count_dates", Caps: catalog.CapSet{catalog.CapRead, catalog.CapWrite}},
		invoked: &invoked,
	})

	res := eng.Execute(context.Background(), ResolvedCall{OperationID: "delete_file"})
	if res.OK() {
		t.Fatalf("expected failure for unknown operation")
	}
	if res.Failure.Kind != KindResolution || res.Failure.Reason != ReasonUnmatched {
		t.Fatalf("unexpected failure %+v", res.Failure)
	}
	if invoked {
		t.Fatalf("handler must not run for an operation outside the catalog")
	}
}

func TestPathParamContainmentFailsBeforeHandler(t *testing.T) {
	t.Parallel()

	invoked := false
	eng, _ := newEngine(t, fakeOp{
		spec: catalog.Spec{
			ID:     "count_dates",
			Caps:   catalog.CapSet{catalog.CapRead, catalog.CapWrite},
			Params: []catalog.Param{{Name: "input", Type: catalog.TypePath, Required: true}},
		},
		invoked: &invoked,
	})

	for _, bad := range []string{"/etc/passwd", "../../secrets"} {
		res := eng.Execute(context.Background(), ResolvedCall{
			OperationID: "count_dates",
			Params:      map[string]any{"input": bad},
		})
		if res.OK() || res.Failure.Kind != KindContainment {
			t.Fatalf("expected containment failure for %q, got %+v", bad, res.Failure)
		}
	}
	if invoked {
		t.Fatalf("handler must not run after a containment violation")
	}
}

func TestReadOnlyHandlerCannotWriteOrFetch(t *testing.T) {
	t.Parallel()

	// Test double: a read-only operation whose buggy handler tries to write
	// an artifact and open a network client. Both must be blocked.
	var writeErr, netErr error
	eng, root := newEngine(t, fakeOp{
		spec: catalog.Spec{ID: "peek", Caps: catalog.CapSet{catalog.CapRead}},
		execute: func(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
			writeErr = env.Put("escaped.txt", strings.NewReader("x"))
			_, netErr = env.HTTPClient()
			return nil, writeErr
		},
	})

	res := eng.Execute(context.Background(), ResolvedCall{OperationID: "peek"})
	if res.OK() || res.Failure.Kind != KindCapability {
		t.Fatalf("expected capability failure, got %+v", res.Failure)
	}
	if !errors.Is(writeErr, ErrCapability) || !errors.Is(netErr, ErrCapability) {
		t.Fatalf("expected both effects blocked, write=%v net=%v", writeErr, netErr)
	}
	if _, err := os.Stat(filepath.Join(root.Dir(), "escaped.txt")); !os.IsNotExist(err) {
		t.Fatalf("blocked write still produced a file")
	}
}

func TestTimeoutProducesTimeoutFailure(t *testing.T) {
	t.Parallel()

	eng, _ := newEngine(t, fakeOp{
		spec: catalog.Spec{ID: "slow", Caps: catalog.CapSet{catalog.CapRead}},
		execute: func(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	eng.timeout = 50 * time.Millisecond

	start := time.Now()
	res := eng.Execute(context.Background(), ResolvedCall{OperationID: "slow"})
	if res.OK() || res.Failure.Kind != KindTimeout {
		t.Fatalf("expected timeout failure, got %+v", res.Failure)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("deadline did not bound the request")
	}
}

func TestFailedWriteLeavesNoPartialArtifact(t *testing.T) {
	t.Parallel()

	eng, root := newEngine(t, fakeOp{
		spec: catalog.Spec{ID: "flaky_write", Caps: catalog.CapSet{catalog.CapRead, catalog.CapWrite}},
		execute: func(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
			failing := &failingReader{data: "partial content", failAfter: 7}
			return nil, env.Put("out.json", failing)
		},
	})

	res := eng.Execute(context.Background(), ResolvedCall{OperationID: "flaky_write"})
	if res.OK() || res.Failure.Kind != KindHandler {
		t.Fatalf("expected handler failure, got %+v", res.Failure)
	}
	if _, err := os.Stat(filepath.Join(root.Dir(), "out.json")); !os.IsNotExist(err) {
		t.Fatalf("partial artifact visible at final name")
	}
}

func TestReadOperationIdempotent(t *testing.T) {
	t.Parallel()

	eng, root := newEngine(t, fakeOp{
		spec: catalog.Spec{
			ID:     "read_back",
			Caps:   catalog.CapSet{catalog.CapRead},
			Params: []catalog.Param{{Name: "input", Type: catalog.TypePath, Required: true}},
		},
		execute: func(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
			data, err := env.ReadFile(params["input"].(string))
			if err != nil {
				return nil, err
			}
			return &catalog.Result{Value: string(data)}, nil
		},
	})
	if err := os.WriteFile(filepath.Join(root.Dir(), "stable.txt"), []byte("same every time"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	call := ResolvedCall{OperationID: "read_back", Params: map[string]any{"input": "stable.txt"}}
	first := eng.Execute(context.Background(), call)
	second := eng.Execute(context.Background(), call)
	if !first.OK() || !second.OK() {
		t.Fatalf("unexpected failures: %+v %+v", first.Failure, second.Failure)
	}
	if first.Value != second.Value {
		t.Fatalf("identical resolved calls differ: %v vs %v", first.Value, second.Value)
	}
}

func TestHandlerPanicNormalized(t *testing.T) {
	t.Parallel()

	eng, _ := newEngine(t, fakeOp{
		spec: catalog.Spec{ID: "boom", Caps: catalog.CapSet{catalog.CapRead}},
		execute: func(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
			panic("handler bug")
		},
	})

	res := eng.Execute(context.Background(), ResolvedCall{OperationID: "boom"})
	if res.OK() || res.Failure.Kind != KindHandler {
		t.Fatalf("expected normalized handler failure, got %+v", res.Failure)
	}
	if !strings.Contains(res.Failure.Message, "panic") {
		t.Fatalf("expected panic message, got %q", res.Failure.Message)
	}
}

func TestCapabilityOutsideEnginePolicy(t *testing.T) {
	t.Parallel()

	root, err := sandbox.NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("new root: %v", err)
	}
	reg := catalog.NewRegistry()
	invoked := false
	reg.Register(fakeOp{
		spec:    catalog.Spec{ID: "fetch_api", Caps: catalog.CapSet{catalog.CapNetwork, catalog.CapWrite}},
		invoked: &invoked,
	})
	reg.Seal()

	eng := New(Config{
		Catalog:     reg,
		Root:        root,
		Store:       store.New(root),
		AllowedCaps: catalog.CapSet{catalog.CapRead, catalog.CapWrite},
	})
	res := eng.Execute(context.Background(), ResolvedCall{OperationID: "fetch_api"})
	if res.OK() || res.Failure.Kind != KindCapability {
		t.Fatalf("expected capability failure, got %+v", res.Failure)
	}
	if invoked {
		t.Fatalf("handler must not run outside engine capability policy")
	}
}

type failingReader struct {
	data      string
	failAfter int
	read      int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.read >= f.failAfter {
		return 0, errors.New("simulated mid-write failure")
	}
	n := copy(p, f.data[f.read:min(len(f.data), f.read+f.failAfter)])
	f.read += n
	return n, nil
}
