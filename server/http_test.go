package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/engine"
	"github.com/taskpilot/taskpilot/pkg/resolver"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
	"github.com/taskpilot/taskpilot/pkg/store"
)

type upperOp struct{}

func (upperOp) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "uppercase_file",
		Description: "Uppercase a text file.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true},
			{Name: "output", Type: catalog.TypePath, Required: true},
		},
	}
}

func (upperOp) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, _ := params["input"].(string)
	output, _ := params["output"].(string)
	data, err := env.ReadFile(input)
	if err != nil {
		return nil, err
	}
	upper := strings.ToUpper(string(data))
	if err := env.Put(output, strings.NewReader(upper)); err != nil {
		return nil, err
	}
	return &catalog.Result{Value: upper, Artifact: output}, nil
}

// scriptedOracle answers every instruction with the same proposal.
type scriptedOracle struct {
	proposal *resolver.Proposal
	err      error
}

func (o scriptedOracle) Propose(ctx context.Context, instruction string, defs []catalog.Definition) (*resolver.Proposal, error) {
	return o.proposal, o.err
}

type fixture struct {
	server *Server
	root   sandbox.Root
}

func newFixture(t *testing.T, oracle resolver.Oracle) *fixture {
	t.Helper()
	root, err := sandbox.NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("new root: %v", err)
	}
	st := store.New(root)

	reg := catalog.NewRegistry()
	reg.Register(upperOp{})
	reg.Seal()

	eng := engine.New(engine.Config{
		Catalog: reg,
		Root:    root,
		Store:   st,
	})
	res := resolver.New(resolver.Config{Catalog: reg, Oracle: oracle})

	return &fixture{server: NewServer(res, eng, st, reg), root: root}
}

func (f *fixture) seed(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.root.Dir(), name), []byte(content), 0o644); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{proposal: &resolver.Proposal{
		OperationID: "uppercase_file",
		Params:      map[string]any{"input": "in.txt", "output": "out.txt"},
		Confidence:  0.9,
	}})
	f.seed(t, "in.txt", "hello")

	rec := f.do(t, http.MethodPost, "/run?task=uppercase+in.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Status != "ok" || env.Operation != "uppercase_file" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Output != "HELLO" || env.Artifact != "out.txt" {
		t.Fatalf("unexpected output %+v", env)
	}
	if env.RequestID == "" {
		t.Fatalf("missing request id")
	}
}

func TestRunUnmatchedTaskIs400(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{err: resolver.ErrNoMatch})

	rec := f.do(t, http.MethodPost, "/run?task=delete+everything")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.ErrorKind != "resolution" || env.Reason != "unmatched" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestRunContainmentIs403(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{proposal: &resolver.Proposal{
		OperationID: "uppercase_file",
		Params:      map[string]any{"input": "../../etc/passwd", "output": "out.txt"},
		Confidence:  0.9,
	}})

	rec := f.do(t, http.MethodPost, "/run?task=read+the+password+file")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.ErrorKind != "containment" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestRunHandlerFailureIs500(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{proposal: &resolver.Proposal{
		OperationID: "uppercase_file",
		Params:      map[string]any{"input": "absent.txt", "output": "out.txt"},
		Confidence:  0.9,
	}})

	rec := f.do(t, http.MethodPost, "/run?task=uppercase+a+missing+file")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.ErrorKind != "handler" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestReadServesArtifact(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{})
	f.seed(t, "result.txt", "42")

	rec := f.do(t, http.MethodGet, "/read?path=result.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Body.String() != "42" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestReadMissingAndDeniedShareDetail(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{})

	missing := f.do(t, http.MethodGet, "/read?path=absent.txt")
	denied := f.do(t, http.MethodGet, "/read?path=../../etc/passwd")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing artifact status %d, want 404", missing.Code)
	}
	if denied.Code != http.StatusForbidden {
		t.Fatalf("denied path status %d, want 403", denied.Code)
	}
	// The body must not reveal whether the outside path exists.
	if missing.Body.String() != denied.Body.String() {
		t.Fatalf("bodies differ: %q vs %q", missing.Body.String(), denied.Body.String())
	}
}

func TestOpsListsCatalog(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{})

	rec := f.do(t, http.MethodGet, "/ops")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Operations []catalog.Definition `json:"operations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Operations) != 1 || body.Operations[0].Name != "uppercase_file" {
		t.Fatalf("unexpected operations %+v", body.Operations)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, scriptedOracle{})
	if rec := f.do(t, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
