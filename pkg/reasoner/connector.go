// Package reasoner compiles a policy, a fact set, and a question into
// backend-specific reasoner input, dispatches it to a pluggable backend,
// and interprets the raw outcome into a Verdict.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/epi-checker/checker/pkg/reasoner/backend"
)

// ErrUnsupportedBackend is returned by Compile when a policy's content
// carries no fragment tagged for this connector's declared (reasoner,
// reasoner_version) (spec.md §4.B).
var ErrUnsupportedBackend = errors.New("reasoner: policy has no fragment for this connector's backend")

// State names the stage of a Program's lifecycle: Built -> Encoded ->
// Dispatched -> (Classified | Errored) -> Done.
type State string

const (
	StateBuilt      State = "built"
	StateEncoded    State = "encoded"
	StateDispatched State = "dispatched"
	StateClassified State = "classified"
	StateErrored    State = "errored"
	StateDone       State = "done"
)

// Verdict is the connector's interpretation of a backend outcome. It
// mirrors the engine-level Allow/Deny shape but is scoped to a single
// reasoner round-trip, before the engine attaches fingerprint/signature.
type Verdict struct {
	Allow     bool
	Predicate string // populated on deny
	Detail    string // populated on deny
}

// Program is one compile-dispatch-classify run through a reasoner
// backend. Its State field only ever advances forward; Connector.Run
// drives every transition.
type Program struct {
	State State

	Backend      backend.Name
	PolicySource string
	Facts        []string
	Question     string

	Encoded []byte
	Outcome backend.Outcome
	Err     error
}

// Connector owns the backend registry and the single (reasoner,
// reasoner_version) pair this deployment's policies are compiled
// against. Declaring the pair on the connector, not per-Program, is what
// lets Compile enforce spec.md §4.B's UnsupportedBackend failure: a
// policy whose content never targets this pair cannot be run here.
type Connector struct {
	registry       *backend.Registry
	backendName    backend.Name
	backendVersion string
}

func NewConnector(registry *backend.Registry, backendName backend.Name, backendVersion string) *Connector {
	return &Connector{registry: registry, backendName: backendName, backendVersion: backendVersion}
}

// Compile builds a Program in the Built state by concatenating, in
// declaration order, every content fragment of policy tagged for this
// connector's declared (reasoner, reasoner_version) (spec.md §4.B). It
// fails with ErrUnsupportedBackend if no fragment matches. Encode/
// Dispatch, run by Run, are the only steps that touch a backend.
func (c *Connector) Compile(policy policystore.Policy, facts []string, question string) (*Program, error) {
	var matched []string
	for _, f := range policy.Content {
		if f.Reasoner == string(c.backendName) && f.ReasonerVersion == c.backendVersion {
			matched = append(matched, f.Content)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: policy version %d has no fragment for %s/%s", ErrUnsupportedBackend, policy.Version, c.backendName, c.backendVersion)
	}

	return &Program{
		State:        StateBuilt,
		Backend:      c.backendName,
		PolicySource: strings.Join(matched, "\n"),
		Facts:        facts,
		Question:     question,
	}, nil
}

// Run drives a Program from Built through to Done, returning the
// resulting Verdict. It never panics on a backend error: a reasoner
// failure surfaces as p.Err with State == Errored, which the caller (the
// deliberation engine) turns into Deny(ReasonerError).
func (c *Connector) Run(ctx context.Context, p *Program) (Verdict, error) {
	if p.State != StateBuilt {
		return Verdict{}, fmt.Errorf("reasoner: program must be Built to run, got %s", p.State)
	}

	b, ok := c.registry.Get(p.Backend)
	if !ok {
		p.State = StateErrored
		p.Err = fmt.Errorf("reasoner: unknown backend %q", p.Backend)
		return Verdict{}, p.Err
	}

	encoded, err := b.Encode(p.PolicySource, p.Facts, p.Question)
	if err != nil {
		p.State = StateErrored
		p.Err = fmt.Errorf("reasoner: encode: %w", err)
		return Verdict{}, p.Err
	}
	p.Encoded = encoded
	p.State = StateEncoded

	p.State = StateDispatched
	outcome, err := b.Dispatch(ctx, encoded)
	if err != nil {
		p.State = StateErrored
		p.Err = fmt.Errorf("reasoner: dispatch: %w", err)
		return Verdict{}, p.Err
	}
	p.Outcome = outcome
	p.State = StateClassified

	verdict := interpret(outcome)
	p.State = StateDone
	return verdict, nil
}

func interpret(o backend.Outcome) Verdict {
	if o.Allowed {
		return Verdict{Allow: true}
	}
	return Verdict{Allow: false, Predicate: o.Predicate, Detail: o.Detail}
}
