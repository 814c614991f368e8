// Package backend holds the pluggable reasoner backends a Program can be
// dispatched to. Each backend owns its own encoding of policy + facts +
// question and its own classification of the result into Allow/Deny.
package backend

import "context"

// Name identifies a reasoner backend implementation, the same
// tagged-variant pattern the rest of the module uses for pluggable
// providers (state resolvers).
type Name string

const (
	Eflint  Name = "eflint"
	OPA     Name = "opa"
	NoOp    Name = "noop"
	PosixFs Name = "posixfs"
)

// Outcome is a backend's raw verdict before the connector interprets it
// into a Verdict.
type Outcome struct {
	Allowed   bool
	Predicate string // set when Allowed is false: the violated predicate
	Detail    string
}

// Backend compiles an already-encoded reasoner input and returns a raw
// outcome. Encode and Dispatch are split out so the connector can log the
// wire-level payload it sent (for ReasonerError detail) independently of
// the backend's own transport.
type Backend interface {
	Name() Name
	// Version identifies which revision of this backend's input language
	// a policy fragment must declare to be matched by it (spec.md §4.B's
	// connector-declared (reasoner, reasoner_version) pair).
	Version() string
	// Encode renders policy source, a fact set's canonical form, and the
	// question into whatever the backend's input language is.
	Encode(policySource string, facts []string, question string) ([]byte, error)
	// Dispatch sends the encoded input to the backend and classifies the
	// result. It is the only method allowed to block on external I/O.
	Dispatch(ctx context.Context, encoded []byte) (Outcome, error)
}

// Registry resolves a backend by name. Construction happens once at
// startup; the zero value is not usable.
type Registry struct {
	backends map[Name]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[Name]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

func (r *Registry) Get(name Name) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}
