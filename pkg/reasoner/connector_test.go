package reasoner

import (
	"context"
	"errors"
	"testing"

	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/epi-checker/checker/pkg/reasoner/backend"
)

func fragmentPolicy(version int, reasoner, reasonerVersion, content string) policystore.Policy {
	return policystore.Policy{
		Version: version,
		Content: []policystore.Fragment{
			{Reasoner: reasoner, ReasonerVersion: reasonerVersion, Content: content},
		},
	}
}

func TestConnectorRunNoOpAlwaysAllows(t *testing.T) {
	registry := backend.NewRegistry(backend.NewNoOp())
	c := NewConnector(registry, backend.NoOp, "1")

	p, err := c.Compile(fragmentPolicy(1, "noop", "1", ""), []string{"node-asset(n1,a1)"}, "execute_workflow")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	v, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allow {
		t.Error("expected noop backend to allow")
	}
	if p.State != StateDone {
		t.Errorf("expected program state Done, got %s", p.State)
	}
}

func TestCompileFailsUnsupportedBackend(t *testing.T) {
	registry := backend.NewRegistry(backend.NewNoOp())
	c := NewConnector(registry, backend.NoOp, "1")

	_, err := c.Compile(fragmentPolicy(1, "opa", "1", "package checker"), nil, "execute_workflow")
	if !errors.Is(err, ErrUnsupportedBackend) {
		t.Fatalf("expected ErrUnsupportedBackend, got %v", err)
	}
}

func TestCompileConcatenatesMatchingFragmentsInOrder(t *testing.T) {
	registry := backend.NewRegistry(backend.NewNoOp())
	c := NewConnector(registry, backend.NoOp, "1")

	policy := policystore.Policy{
		Version: 1,
		Content: []policystore.Fragment{
			{Reasoner: "noop", ReasonerVersion: "1", Content: "first"},
			{Reasoner: "opa", ReasonerVersion: "1", Content: "ignored"},
			{Reasoner: "noop", ReasonerVersion: "1", Content: "second"},
		},
	}

	p, err := c.Compile(policy, nil, "execute_workflow")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if p.PolicySource != "first\nsecond" {
		t.Errorf("expected concatenated matching fragments in order, got %q", p.PolicySource)
	}
}

func TestConnectorRunUnknownBackend(t *testing.T) {
	registry := backend.NewRegistry(backend.NewNoOp())
	c := NewConnector(registry, backend.Name("not-registered"), "1")

	p, err := c.Compile(fragmentPolicy(1, "not-registered", "1", ""), nil, "execute_workflow")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if _, err := c.Run(context.Background(), p); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if p.State != StateErrored {
		t.Errorf("expected program state Errored, got %s", p.State)
	}
}

func TestConnectorRunRejectsNonBuiltProgram(t *testing.T) {
	registry := backend.NewRegistry(backend.NewNoOp())
	c := NewConnector(registry, backend.NoOp, "1")

	p, err := c.Compile(fragmentPolicy(1, "noop", "1", ""), nil, "execute_workflow")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	p.State = StateDone

	if _, err := c.Run(context.Background(), p); err == nil {
		t.Fatal("expected error re-running an already-Done program")
	}
}

func TestOPABackendDeniesOnFailedRule(t *testing.T) {
	module := `
package checker

default allow = false

allow {
	input.question == "execute_workflow"
	some f
	input.facts[f] == "approved(wf-1)"
}
`
	registry := backend.NewRegistry(backend.NewOPA("data.checker.allow"))
	c := NewConnector(registry, backend.OPA, "1")

	p, err := c.Compile(fragmentPolicy(1, "opa", "1", module), []string{"node-asset(n1,a1)"}, "execute_workflow")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	v, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Allow {
		t.Error("expected policy without the approved fact to deny")
	}
}

func TestOPABackendAllowsOnMatchingFact(t *testing.T) {
	module := `
package checker

default allow = false

allow {
	input.question == "execute_workflow"
	some f
	input.facts[f] == "approved(wf-1)"
}
`
	registry := backend.NewRegistry(backend.NewOPA("data.checker.allow"))
	c := NewConnector(registry, backend.OPA, "1")

	p, err := c.Compile(fragmentPolicy(1, "opa", "1", module), []string{"approved(wf-1)"}, "execute_workflow")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	v, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allow {
		t.Error("expected policy with the approved fact to allow")
	}
}
