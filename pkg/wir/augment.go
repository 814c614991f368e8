package wir

// Augment combines the derived structural facts of a workflow with the
// facts a state resolver produced from external world state (user roles,
// approvals, prior commits — whatever a use case's core fact vocabulary
// needs). The union is what actually reaches a reasoner backend.
//
// Structural and external facts are expected to live in disjoint predicate
// namespaces (D1-D6 on one side, use-case-specific predicates on the
// other), so Union's set semantics are enough: nothing here resolves
// conflicts, because none should arise.
func Augment(ir *Ir, external FactSet) FactSet {
	return DeriveIr(ir).Union(external)
}
