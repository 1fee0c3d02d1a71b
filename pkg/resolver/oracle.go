package resolver

import (
	"context"
	"errors"

	"github.com/taskpilot/taskpilot/pkg/catalog"
)

// ErrNoMatch is returned by an Oracle that has no confident candidate for an
// instruction.
var ErrNoMatch = errors.New("no confident operation match")

// Proposal is the oracle's structured candidate. It is untrusted input: the
// resolver validates every field against the catalog before anything
// executes.
type Proposal struct {
	OperationID string         `json:"operation"`
	Params      map[string]any `json:"parameters"`
	Confidence  float64        `json:"confidence"`
	// RunnerUp is the confidence of the next-best operation the oracle
	// considered, used to reject ambiguous instructions.
	RunnerUp float64 `json:"runner_up_confidence"`
}

// Oracle maps an instruction to a structured candidate given the catalog's
// operation definitions. Implementations are replaceable; the engine depends
// only on this contract.
type Oracle interface {
	Propose(ctx context.Context, instruction string, defs []catalog.Definition) (*Proposal, error)
}
