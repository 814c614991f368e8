package wir

// Predicate names for the base (declared) and derived (D1-D6) relations.
const (
	PredNodeInput        = "node-input"
	PredNodeInputFrom     = "node-input-from" // (node, asset, domain)
	PredNodeOutput        = "node-output"
	PredNodeAt            = "node-at"
	PredNodeFunction      = "node-function"
	PredLoopBody          = "loop-body"
	PredWorkflowResult    = "workflow-result"
	PredResultRecipient   = "workflow-result-recipient"
	PredTag               = "tag"
	PredSignature         = "signature"

	PredNodeAsset             = "node-asset"               // D1
	PredAssetAccess           = "asset-access"              // D2
	PredNodeDependsOn         = "node-depends-on"           // D3
	PredNodeDependsOnAsset    = "node-depends-on-asset"     // D4
	PredNodeDependsOnDomain   = "node-depends-on-domain"    // D5
	PredAssetDownstreamDomain = "asset-downstream-domain"   // D6
)

// BaseFacts flattens an Ir's declared entities and relations into a FactSet.
// This is the raw input Derive closes over.
func BaseFacts(ir *Ir) FactSet {
	facts := NewFactSet()

	for _, n := range ir.nodes {
		for _, in := range n.Inputs {
			facts.Add(PredNodeInput, n.ID, in.Asset)
			facts.Add(PredNodeInputFrom, n.ID, in.Asset, in.FromDomain)
		}
		if n.Output != nil {
			facts.Add(PredNodeOutput, n.ID, *n.Output)
		}
		facts.Add(PredNodeAt, n.ID, n.At)
		if n.Function != nil {
			facts.Add(PredNodeFunction, n.ID, *n.Function)
		}
		if n.Body != nil {
			facts.Add(PredLoopBody, n.ID, *n.Body)
		}
	}

	if ir.result != nil {
		facts.Add(PredWorkflowResult, ir.result.Workflow, ir.result.Asset)
	}
	if ir.recipient != nil {
		facts.Add(PredResultRecipient, ir.recipient.Workflow, ir.recipient.Asset, ir.recipient.User)
	}
	for _, m := range ir.metadata {
		for _, t := range m.Tags {
			facts.Add(PredTag, string(m.Target), m.TargetID, t.Owner, t.Value)
		}
		for _, s := range m.Signatures {
			valid := "false"
			if s.Valid() {
				valid = "true"
			}
			facts.Add(PredSignature, string(m.Target), m.TargetID, s.Signer, s.Payload, valid)
		}
	}

	return facts
}

// Derive computes the closure of D1-D6 over facts. It is monotone (adds
// facts, never removes) and idempotent: Derive(Derive(f)) has exactly the
// same facts as Derive(f), since every rule's conclusion is already present
// once the fixpoint is reached.
//
// Implemented as a direct fixpoint rather than a generic semi-naive
// evaluator: with the finite, small per-deliberation fact universe the
// spec describes, repeated whole-relation joins reach the fixpoint in a
// handful of rounds and stay easy to read rule-by-rule.
func Derive(facts FactSet) FactSet {
	out := NewFactSet()
	for _, f := range facts.All() {
		out.Add(f.Predicate, f.Args...)
	}

	// loopOf maps a loop's body node to the loop node that owns it.
	// node-depends-on closure always resolves through this chain to the
	// outermost loop a producer sits inside of, never to the body's
	// internals, for any consumer outside that loop (spec.md §4.A; a loop
	// whose body is itself a loop chains through here one hop at a time).
	// loop-body facts are declared, not derived, so this is stable across
	// rounds.
	loopOf := make(map[string]string)
	for _, f := range out.ByPredicate(PredLoopBody) {
		loopOf[f.Args[1]] = f.Args[0]
	}
	insideLoop := func(node, loop string) bool {
		for {
			parent, ok := loopOf[node]
			if !ok {
				return false
			}
			if parent == loop {
				return true
			}
			node = parent
		}
	}
	addDependsOn := func(consumer, producer string) bool {
		target := producer
		for {
			loop, ok := loopOf[target]
			if !ok || consumer == loop || insideLoop(consumer, loop) {
				break
			}
			target = loop
		}
		return out.Add(PredNodeDependsOn, consumer, target)
	}

	for {
		changed := false

		// D1: node-asset(n, a) := input or output.
		for _, f := range out.ByPredicate(PredNodeInput) {
			if out.Add(PredNodeAsset, f.Args[0], f.Args[1]) {
				changed = true
			}
		}
		for _, f := range out.ByPredicate(PredNodeOutput) {
			if out.Add(PredNodeAsset, f.Args[0], f.Args[1]) {
				changed = true
			}
		}

		// D3 base case: reflexive, plus direct producer/consumer edges.
		nodes := nodeIDs(out)
		for _, n := range nodes {
			if addDependsOn(n, n) {
				changed = true
			}
		}
		outputOf := make(map[string]string) // asset -> producing node
		for _, f := range out.ByPredicate(PredNodeOutput) {
			outputOf[f.Args[1]] = f.Args[0]
		}
		for _, f := range out.ByPredicate(PredNodeInput) {
			consumer, asset := f.Args[0], f.Args[1]
			if producer, ok := outputOf[asset]; ok {
				if addDependsOn(consumer, producer) {
					changed = true
				}
			}
		}

		// D3 transitive closure.
		adj := make(map[string][]string)
		for _, f := range out.ByPredicate(PredNodeDependsOn) {
			adj[f.Args[0]] = append(adj[f.Args[0]], f.Args[1])
		}
		for _, f := range out.ByPredicate(PredNodeDependsOn) {
			for _, next := range adj[f.Args[1]] {
				if addDependsOn(f.Args[0], next) {
					changed = true
				}
			}
		}

		// D4: node-depends-on-asset(n, a) := exists m, depends-on(n,m) ∧ input(m,a).
		for _, f := range out.ByPredicate(PredNodeDependsOn) {
			n1, m := f.Args[0], f.Args[1]
			for _, g := range out.ByPredicate(PredNodeInput) {
				if g.Args[0] == m {
					if out.Add(PredNodeDependsOnAsset, n1, g.Args[1]) {
						changed = true
					}
				}
			}
		}

		// D5: node-depends-on-domain(n, d) := domain of n, domains sourcing
		// n's inputs, domains of all m with depends-on(n, m).
		atOf := make(map[string]string)
		for _, f := range out.ByPredicate(PredNodeAt) {
			atOf[f.Args[0]] = f.Args[1]
		}
		for n, d := range atOf {
			if out.Add(PredNodeDependsOnDomain, n, d) {
				changed = true
			}
		}
		for _, f := range out.ByPredicate(PredNodeInputFrom) {
			n, _, d := f.Args[0], f.Args[1], f.Args[2]
			if out.Add(PredNodeDependsOnDomain, n, d) {
				changed = true
			}
		}
		for _, f := range out.ByPredicate(PredNodeDependsOn) {
			n1, m := f.Args[0], f.Args[1]
			if d, ok := atOf[m]; ok {
				if out.Add(PredNodeDependsOnDomain, n1, d) {
					changed = true
				}
			}
		}

		// D2: asset-access(a, u) := a sourced from domain u, or a appears
		// as input/output/code of a node executed at domain u.
		for _, f := range out.ByPredicate(PredNodeInputFrom) {
			_, a, d := f.Args[0], f.Args[1], f.Args[2]
			if out.Add(PredAssetAccess, a, d) {
				changed = true
			}
		}
		for _, f := range out.ByPredicate(PredNodeAsset) {
			n, a := f.Args[0], f.Args[1]
			if d, ok := atOf[n]; ok {
				if out.Add(PredAssetAccess, a, d) {
					changed = true
				}
			}
		}
		for _, f := range out.ByPredicate(PredNodeFunction) {
			n, a := f.Args[0], f.Args[1]
			if d, ok := atOf[n]; ok {
				if out.Add(PredAssetAccess, a, d) {
					changed = true
				}
			}
		}

		// D6: asset-downstream-domain(a, d) := sourcing domains of a,
		// executing domains of nodes touching a, executing domains of any
		// node that depends on a.
		for _, f := range out.ByPredicate(PredNodeInputFrom) {
			_, a, d := f.Args[0], f.Args[1], f.Args[2]
			if out.Add(PredAssetDownstreamDomain, a, d) {
				changed = true
			}
		}
		for _, f := range out.ByPredicate(PredNodeAsset) {
			n, a := f.Args[0], f.Args[1]
			if d, ok := atOf[n]; ok {
				if out.Add(PredAssetDownstreamDomain, a, d) {
					changed = true
				}
			}
		}
		for _, f := range out.ByPredicate(PredNodeDependsOnAsset) {
			n, a := f.Args[0], f.Args[1]
			if d, ok := atOf[n]; ok {
				if out.Add(PredAssetDownstreamDomain, a, d) {
					changed = true
				}
			}
		}

		if !changed {
			break
		}
	}

	return out
}

// DeriveIr is the spec's `derive(ir) → Facts`: flatten then close.
func DeriveIr(ir *Ir) FactSet {
	return Derive(BaseFacts(ir))
}

func nodeIDs(facts FactSet) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, f := range facts.ByPredicate(PredNodeAt) {
		add(f.Args[0])
	}
	return ids
}
