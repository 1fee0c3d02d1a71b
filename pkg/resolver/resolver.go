// Package resolver turns natural-language instructions into validated,
// typed operation calls. The language-understanding oracle is consulted but
// never trusted: its output is constrained to the catalog and type-checked
// before a ResolvedCall exists.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/engine"
)

// ambiguityMargin is the minimum confidence gap between the best candidate
// and the runner-up. Anything closer is rejected rather than guessed.
const ambiguityMargin = 0.15

// Config carries resolver construction settings.
type Config struct {
	Catalog *catalog.Registry
	Oracle  Oracle
	Timeout time.Duration
	Logger  *slog.Logger
}

// Resolver validates oracle proposals into resolved calls.
type Resolver struct {
	catalog *catalog.Registry
	oracle  Oracle
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a Resolver from cfg.
func New(cfg Config) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: cfg.Catalog, oracle: cfg.Oracle, timeout: timeout, logger: logger}
}

// Resolve produces a validated call for instruction or a resolution Failure.
// Any error returned is an *engine.Failure with KindResolution.
func (r *Resolver) Resolve(ctx context.Context, instruction string) (*engine.ResolvedCall, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, engine.NewFailure(engine.KindResolution, engine.ReasonUnmatched, "empty instruction")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	proposal, err := r.oracle.Propose(ctx, instruction, r.catalog.Definitions())
	if err != nil {
		if errors.Is(err, ErrNoMatch) {
			return nil, engine.NewFailure(engine.KindResolution, engine.ReasonUnmatched,
				"no catalog operation matches the instruction")
		}
		return nil, engine.NewFailure(engine.KindResolution, engine.ReasonUnmatched,
			"language collaborator failed: %v", err)
	}

	op, ok := r.catalog.Lookup(proposal.OperationID)
	if !ok {
		r.logger.Warn("oracle_out_of_catalog", "operation", proposal.OperationID)
		return nil, engine.NewFailure(engine.KindResolution, engine.ReasonUnmatched,
			"proposed operation %q is not in the catalog", proposal.OperationID)
	}

	if proposal.RunnerUp > 0 && math.Abs(proposal.Confidence-proposal.RunnerUp) < ambiguityMargin {
		return nil, engine.NewFailure(engine.KindResolution, engine.ReasonAmbiguous,
			"instruction matches multiple operations with comparable confidence")
	}

	params, err := coerceParams(op.Spec(), proposal.Params)
	if err != nil {
		return nil, engine.NewFailure(engine.KindResolution, engine.ReasonInvalidParams, "%v", err)
	}

	r.logger.Info("resolved", "operation", op.Spec().ID, "confidence", proposal.Confidence)
	return &engine.ResolvedCall{OperationID: op.Spec().ID, Params: params}, nil
}

// coerceParams checks every proposed parameter against the spec, coerces
// loosely-typed oracle output into the declared types, fills defaults and
// rejects unknown or missing parameters.
func coerceParams(spec catalog.Spec, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(spec.Params))

	for name := range raw {
		if _, ok := spec.Param(name); !ok {
			return nil, fmt.Errorf("unknown parameter %q for operation %q", name, spec.ID)
		}
	}

	for _, param := range spec.Params {
		value, present := raw[param.Name]
		if !present || value == nil {
			if param.Required {
				return nil, fmt.Errorf("missing required parameter %q", param.Name)
			}
			if param.Default != nil {
				out[param.Name] = param.Default
			}
			continue
		}
		coerced, err := coerceValue(param, value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", param.Name, err)
		}
		out[param.Name] = coerced
	}
	return out, nil
}

func coerceValue(param catalog.Param, value any) (any, error) {
	switch param.Type {
	case catalog.TypeString, catalog.TypePath:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		if param.Type == catalog.TypePath && strings.TrimSpace(s) == "" {
			return nil, errors.New("empty path")
		}
		if len(param.Enum) > 0 && !containsString(param.Enum, s) {
			return nil, fmt.Errorf("value %q not in %v", s, param.Enum)
		}
		return s, nil

	case catalog.TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}

	case catalog.TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", value)
		}

	case catalog.TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}

	case catalog.TypeStringMap:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", value)
		}
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("expected string value for key %q, got %T", k, v)
			}
			out[k] = s
		}
		return out, nil

	case catalog.TypeIntPair:
		list, ok := value.([]any)
		if !ok || len(list) != 2 {
			return nil, fmt.Errorf("expected a pair of integers, got %v", value)
		}
		pair := [2]int{}
		for i, item := range list {
			coerced, err := coerceValue(catalog.Param{Name: param.Name, Type: catalog.TypeInt}, item)
			if err != nil {
				return nil, err
			}
			pair[i] = coerced.(int)
		}
		return pair, nil

	default:
		return nil, fmt.Errorf("unsupported parameter type %q", param.Type)
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
