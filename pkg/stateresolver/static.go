package stateresolver

import (
	"context"

	"github.com/epi-checker/checker/pkg/wir"
)

// StaticResolver returns a fixed FactSet regardless of the workflow asked
// about. It grounds use cases whose external state is pre-seeded
// configuration (e.g. a fixed set of approved domains) rather than a
// call to a live system, and is what the engine and HTTP-handler tests
// register.
type StaticResolver struct {
	useCase string
	facts   wir.FactSet
}

func NewStatic(useCase string, facts wir.FactSet) *StaticResolver {
	return &StaticResolver{useCase: useCase, facts: facts}
}

func (r *StaticResolver) UseCase() string { return r.useCase }

func (r *StaticResolver) Resolve(ctx context.Context, ir *wir.Ir) (wir.FactSet, error) {
	return r.facts, nil
}
