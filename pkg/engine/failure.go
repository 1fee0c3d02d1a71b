package engine

import "fmt"

// Kind classifies a failure for programmatic handling. The set is closed;
// every internal error is normalized into one of these at the coordinator
// boundary.
type Kind string

const (
	KindResolution  Kind = "resolution"
	KindContainment Kind = "containment"
	KindCapability  Kind = "capability"
	KindHandler     Kind = "handler"
	KindTimeout     Kind = "timeout"
)

// Resolution failure reasons.
const (
	ReasonUnmatched     = "unmatched"
	ReasonAmbiguous     = "ambiguous"
	ReasonInvalidParams = "invalid-parameters"
)

// Failure is the uniform error shape surfaced to callers: a machine-readable
// kind (plus reason for resolution failures) and a human-readable message.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	if f.Reason != "" {
		return fmt.Sprintf("%s/%s: %s", f.Kind, f.Reason, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailure builds a Failure with a formatted message.
func NewFailure(kind Kind, reason, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
