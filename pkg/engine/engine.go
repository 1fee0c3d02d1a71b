// Package engine validates resolved calls against the catalog and the
// sandbox, executes handlers with a deadline, and normalizes every outcome
// into a uniform result envelope.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/procrun"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
	"github.com/taskpilot/taskpilot/pkg/store"
)

// ResolvedCall is a validated operation id plus typed parameter values,
// produced by the resolver and re-validated here before execution.
type ResolvedCall struct {
	OperationID string         `json:"operation_id"`
	Params      map[string]any `json:"parameters"`
}

// ExecutionResult is the uniform outcome envelope for a single call.
type ExecutionResult struct {
	RequestID string        `json:"request_id"`
	Operation string        `json:"operation"`
	Value     any           `json:"value,omitempty"`
	Artifact  string        `json:"artifact,omitempty"`
	Failure   *Failure      `json:"failure,omitempty"`
	Duration  time.Duration `json:"-"`
}

// OK reports whether the call succeeded.
func (r *ExecutionResult) OK() bool { return r.Failure == nil }

// Config carries the engine's construction-time settings.
type Config struct {
	Catalog        *catalog.Registry
	Root           sandbox.Root
	Store          *store.Store
	RequestTimeout time.Duration
	// AllowedCaps restricts which capabilities any operation may declare.
	// Empty means all.
	AllowedCaps catalog.CapSet
	HTTPClient  *http.Client
	Runner      *procrun.Runner
	Logger      *slog.Logger
}

// Engine is the execution coordinator. It holds no mutable state after
// construction.
type Engine struct {
	catalog     *catalog.Registry
	root        sandbox.Root
	store       *store.Store
	timeout     time.Duration
	allowedCaps catalog.CapSet
	client      *http.Client
	runner      *procrun.Runner
	logger      *slog.Logger
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	runner := cfg.Runner
	if runner == nil {
		runner = &procrun.Runner{Timeout: timeout, MaxOutput: 1 << 20}
	}
	allowed := cfg.AllowedCaps
	if len(allowed) == 0 {
		allowed = catalog.CapSet{catalog.CapRead, catalog.CapWrite, catalog.CapNetwork, catalog.CapProcess}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		catalog:     cfg.Catalog,
		root:        cfg.Root,
		store:       cfg.Store,
		timeout:     timeout,
		allowedCaps: allowed,
		client:      client,
		runner:      runner,
		logger:      logger,
	}
}

// Execute runs one resolved call through validation, handler invocation and
// outcome normalization. It never returns an unnormalized error.
func (e *Engine) Execute(ctx context.Context, call ResolvedCall) *ExecutionResult {
	start := time.Now()
	res := &ExecutionResult{
		RequestID: uuid.NewString(),
		Operation: call.OperationID,
	}
	defer func() { res.Duration = time.Since(start) }()

	op, ok := e.catalog.Lookup(call.OperationID)
	if !ok {
		res.Failure = NewFailure(KindResolution, ReasonUnmatched, "operation %q is not in the catalog", call.OperationID)
		return res
	}
	spec := op.Spec()

	if !spec.Caps.Within(e.allowedCaps) {
		res.Failure = NewFailure(KindCapability, "", "operation %q declares capabilities outside engine policy", spec.ID)
		return res
	}

	// Fail fast on containment before any handler effect.
	for _, param := range spec.Params {
		if param.Type != catalog.TypePath {
			continue
		}
		raw, present := call.Params[param.Name]
		if !present {
			continue
		}
		value, _ := raw.(string)
		if _, err := e.root.Resolve(value); err != nil {
			res.Failure = NewFailure(KindContainment, "", "parameter %q: %v", param.Name, err)
			return res
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	env := &execEnv{
		caps:   spec.Caps,
		root:   e.root,
		store:  e.store,
		client: e.client,
		runner: e.runner,
	}

	e.logger.Info("execute_start", "request_id", res.RequestID, "operation", spec.ID)

	outcome := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- handlerOutcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		value, err := op.Execute(ctx, env, call.Params)
		outcome <- handlerOutcome{result: value, err: err}
	}()

	select {
	case <-ctx.Done():
		res.Failure = NewFailure(KindTimeout, "", "operation %q exceeded the %s deadline", spec.ID, e.timeout)
	case out := <-outcome:
		e.normalize(res, spec.ID, out)
	}

	if res.Failure != nil {
		e.logger.Warn("execute_failed", "request_id", res.RequestID, "operation", spec.ID,
			"kind", string(res.Failure.Kind), "message", res.Failure.Message)
	} else {
		e.logger.Info("execute_done", "request_id", res.RequestID, "operation", spec.ID,
			"artifact", res.Artifact)
	}
	return res
}

type handlerOutcome struct {
	result *catalog.Result
	err    error
}

func (e *Engine) normalize(res *ExecutionResult, opID string, out handlerOutcome) {
	if out.err == nil {
		if out.result != nil {
			res.Value = out.result.Value
			res.Artifact = out.result.Artifact
		}
		return
	}

	var failure *Failure
	switch {
	case errors.As(out.err, &failure):
		res.Failure = failure
	case errors.Is(out.err, sandbox.ErrEscape):
		res.Failure = NewFailure(KindContainment, "", "%v", out.err)
	case errors.Is(out.err, ErrCapability):
		res.Failure = NewFailure(KindCapability, "", "operation %q attempted an undeclared effect: %v", opID, out.err)
	case errors.Is(out.err, context.DeadlineExceeded):
		res.Failure = NewFailure(KindTimeout, "", "operation %q exceeded its deadline", opID)
	case errors.Is(out.err, store.ErrNotFound):
		res.Failure = NewFailure(KindHandler, "", "%v", out.err)
	default:
		res.Failure = NewFailure(KindHandler, "", "%v", out.err)
	}
}
