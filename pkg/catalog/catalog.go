// Package catalog defines the closed set of operations the engine can
// execute: their parameter schemas, their declared capabilities, and the
// contract handlers are written against.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/taskpilot/taskpilot/pkg/procrun"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
)

// Cap is a category of effect an operation is allowed to produce.
type Cap string

const (
	CapRead    Cap = "read"
	CapWrite   Cap = "write"
	CapNetwork Cap = "network"
	CapProcess Cap = "process"
)

// CapSet is the least-privilege declaration attached to an OperationSpec.
type CapSet []Cap

// Has reports whether c is declared.
func (s CapSet) Has(c Cap) bool {
	for _, have := range s {
		if have == c {
			return true
		}
	}
	return false
}

// Within reports whether every capability in s is also in allowed.
func (s CapSet) Within(allowed CapSet) bool {
	for _, c := range s {
		if !allowed.Has(c) {
			return false
		}
	}
	return true
}

// ParamType enumerates the value types an operation parameter may take.
// TypePath values are sandbox-relative and are checked against the sandbox
// root by the coordinator before a handler ever sees them.
type ParamType string

const (
	TypeString    ParamType = "string"
	TypePath      ParamType = "path"
	TypeInt       ParamType = "int"
	TypeFloat     ParamType = "float"
	TypeBool      ParamType = "bool"
	TypeStringMap ParamType = "stringmap"
	TypeIntPair   ParamType = "intpair"
)

// Param describes one typed parameter of an operation.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any
	Enum        []string
}

// Spec is the immutable description of a single catalog operation.
type Spec struct {
	ID          string
	Description string
	Params      []Param
	Caps        CapSet
}

// Param returns the named parameter declaration, if present.
func (s Spec) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Result is what a handler returns on success: a structured value for the
// response envelope and, when the operation materialized a file, the
// sandbox-relative artifact name.
type Result struct {
	Value    any
	Artifact string
}

// Env is the capability-gated effect surface handed to a handler. Every
// method enforces the operation's declared CapSet, so an undeclared effect
// fails inside the broker instead of reaching the filesystem or the network.
type Env interface {
	// Resolve proves containment for a path derived by the handler itself.
	Resolve(name string) (sandbox.Path, error)
	// ReadFile reads a sandbox file. Requires CapRead.
	ReadFile(name string) ([]byte, error)
	// PathFor resolves a sandbox file for direct consumption by an embedded
	// engine (database driver, image decoder). Requires CapRead.
	PathFor(name string) (string, error)
	// EnsureDir creates and returns a sandbox directory. Requires CapWrite.
	EnsureDir(name string) (string, error)
	// Put atomically materializes an artifact. Requires CapWrite.
	Put(name string, r io.Reader) error
	// HTTPClient returns the shared deadline-aware client. Requires CapNetwork.
	HTTPClient() (*http.Client, error)
	// Runner returns the bounded subprocess runner. Requires CapProcess.
	Runner() (*procrun.Runner, error)
}

// Operation couples a Spec with its execution handler.
type Operation interface {
	Spec() Spec
	Execute(ctx context.Context, env Env, params map[string]any) (*Result, error)
}

// Registry is the fixed operation catalog. It is populated at process start
// and read-only afterwards.
type Registry struct {
	ops    map[string]Operation
	sealed bool
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds an operation. Duplicate ids, empty capability declarations
// and post-seal registration are programmer errors and panic at startup.
func (r *Registry) Register(op Operation) {
	spec := op.Spec()
	if r.sealed {
		panic(fmt.Sprintf("catalog: register %q after seal", spec.ID))
	}
	if spec.ID == "" {
		panic("catalog: operation without id")
	}
	if len(spec.Caps) == 0 {
		panic(fmt.Sprintf("catalog: operation %q declares no capabilities", spec.ID))
	}
	if _, exists := r.ops[spec.ID]; exists {
		panic(fmt.Sprintf("catalog: duplicate operation %q", spec.ID))
	}
	r.ops[spec.ID] = op
}

// Seal freezes the catalog.
func (r *Registry) Seal() { r.sealed = true }

// Lookup returns the operation for id.
func (r *Registry) Lookup(id string) (Operation, bool) {
	op, ok := r.ops[id]
	return op, ok
}

// List returns all specs sorted by id, for resolver grounding and the
// /ops endpoint.
func (r *Registry) List() []Spec {
	specs := make([]Spec, 0, len(r.ops))
	for _, op := range r.ops {
		specs = append(specs, op.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Definition is the JSON-schema-shaped description of an operation sent to
// the language-understanding collaborator.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Definitions renders every catalog entry as a Definition.
func (r *Registry) Definitions() []Definition {
	specs := r.List()
	defs := make([]Definition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, Definition{
			Name:        spec.ID,
			Description: spec.Description,
			InputSchema: schemaFor(spec),
		})
	}
	return defs
}

func schemaFor(spec Spec) map[string]any {
	properties := make(map[string]any, len(spec.Params))
	var required []string
	for _, p := range spec.Params {
		prop := map[string]any{
			"type":        jsonType(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(t ParamType) string {
	switch t {
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeStringMap:
		return "object"
	case TypeIntPair:
		return "array"
	default:
		return "string"
	}
}
