// Package stateresolver maps external world state — user roles, prior
// approvals, whatever a use case's policy needs beyond the workflow
// itself — into the core fact vocabulary a reasoner backend consumes.
// Resolvers are registered per use case, the same pluggable-provider
// pattern this module uses for reasoner backends.
package stateresolver

import (
	"context"

	"github.com/epi-checker/checker/pkg/wir"
)

// Resolver produces FactSet facts from whatever external state its use
// case cares about. Implementations must not block indefinitely: ctx is
// the deliberation's request context, and when it carries a deadline a
// resolver that blows through it turns into Deny(Timeout) at the engine.
// The engine sets no deadline of its own.
type Resolver interface {
	UseCase() string
	Resolve(ctx context.Context, ir *wir.Ir) (wir.FactSet, error)
}

// Registry resolves a Resolver by use case.
type Registry struct {
	resolvers map[string]Resolver
}

func NewRegistry(resolvers ...Resolver) *Registry {
	r := &Registry{resolvers: make(map[string]Resolver, len(resolvers))}
	for _, res := range resolvers {
		r.resolvers[res.UseCase()] = res
	}
	return r
}

func (r *Registry) Get(useCase string) (Resolver, bool) {
	res, ok := r.resolvers[useCase]
	return res, ok
}
