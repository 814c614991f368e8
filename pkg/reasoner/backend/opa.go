package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// OPABackend evaluates policies written as Rego modules. Facts are passed
// in as the `input.facts` document; the question selects which rule set
// the module is expected to answer under `input.question`.
//
// The module is compiled fresh on every Dispatch call rather than cached,
// because policy text is versioned per policystore.Policy; Encode only
// packs the module source and input document together.
type OPABackend struct {
	query string // the Rego query evaluated against the compiled module, e.g. "data.checker.allow"
}

func NewOPA(query string) *OPABackend {
	if query == "" {
		query = "data.checker.allow"
	}
	return &OPABackend{query: query}
}

func (b *OPABackend) Name() Name { return OPA }

func (b *OPABackend) Version() string { return "1" }

type opaEncodedInput struct {
	Module   string          `json:"module"`
	Input    json.RawMessage `json:"input"`
}

func (b *OPABackend) Encode(policySource string, facts []string, question string) ([]byte, error) {
	input, err := json.Marshal(struct {
		Facts    []string `json:"facts"`
		Question string   `json:"question"`
	}{facts, question})
	if err != nil {
		return nil, fmt.Errorf("opa: marshal input: %w", err)
	}
	return json.Marshal(opaEncodedInput{Module: policySource, Input: input})
}

func (b *OPABackend) Dispatch(ctx context.Context, encoded []byte) (Outcome, error) {
	var payload opaEncodedInput
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return Outcome{}, fmt.Errorf("opa: decode encoded input: %w", err)
	}

	var input interface{}
	if err := json.Unmarshal(payload.Input, &input); err != nil {
		return Outcome{}, fmt.Errorf("opa: decode input document: %w", err)
	}

	r := rego.New(
		rego.Query(b.query),
		rego.Module("policy.rego", payload.Module),
		rego.Input(input),
	)

	rs, err := r.Eval(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("opa: eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Outcome{Allowed: false, Predicate: "undefined", Detail: "policy produced no result for " + b.query}, nil
	}

	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return Outcome{}, fmt.Errorf("opa: query %s did not evaluate to a boolean", b.query)
	}
	if !allowed {
		return Outcome{Allowed: false, Predicate: b.query, Detail: "policy denied the question"}, nil
	}
	return Outcome{Allowed: true}, nil
}
