package wir

import "sort"

// Fact is one tuple of a derived or declared relation, e.g.
// node-depends-on(n1, n2).
type Fact struct {
	Predicate string
	Args      []string
}

func key(predicate string, args ...string) string {
	s := predicate
	for _, a := range args {
		s += "\x1f" + a
	}
	return s
}

// FactSet is a set of Facts, keyed so duplicate derivations collapse
// (spec.md §4.A: "the graph is a set of relations, not a multiset").
type FactSet struct {
	index map[string]Fact
}

// NewFactSet returns an empty FactSet.
func NewFactSet() FactSet {
	return FactSet{index: make(map[string]Fact)}
}

// Add inserts a fact, returning true if it was not already present.
func (fs *FactSet) Add(predicate string, args ...string) bool {
	if fs.index == nil {
		fs.index = make(map[string]Fact)
	}
	k := key(predicate, args...)
	if _, ok := fs.index[k]; ok {
		return false
	}
	fs.index[k] = Fact{Predicate: predicate, Args: append([]string(nil), args...)}
	return true
}

// Has reports whether a fact is present.
func (fs FactSet) Has(predicate string, args ...string) bool {
	_, ok := fs.index[key(predicate, args...)]
	return ok
}

// Len returns the number of facts.
func (fs FactSet) Len() int { return len(fs.index) }

// All returns every fact in the set, in no particular order.
func (fs FactSet) All() []Fact {
	out := make([]Fact, 0, len(fs.index))
	for _, f := range fs.index {
		out = append(out, f)
	}
	return out
}

// ByPredicate returns every fact whose predicate matches.
func (fs FactSet) ByPredicate(predicate string) []Fact {
	var out []Fact
	for _, f := range fs.index {
		if f.Predicate == predicate {
			out = append(out, f)
		}
	}
	return out
}

// Union returns a new FactSet containing every fact from fs and other.
func (fs FactSet) Union(other FactSet) FactSet {
	out := NewFactSet()
	for _, f := range fs.index {
		out.Add(f.Predicate, f.Args...)
	}
	for _, f := range other.index {
		out.Add(f.Predicate, f.Args...)
	}
	return out
}

// Equal reports whether two fact sets contain exactly the same facts.
func (fs FactSet) Equal(other FactSet) bool {
	if len(fs.index) != len(other.index) {
		return false
	}
	for k := range fs.index {
		if _, ok := other.index[k]; !ok {
			return false
		}
	}
	return true
}

// Canonicalize returns a deterministic, sorted string encoding of every
// fact — the input to the deliberation fingerprint (spec.md §4.E step 6)
// and the basis of derive's idempotence property (P2/P3).
func (fs FactSet) Canonicalize() []string {
	out := make([]string, 0, len(fs.index))
	for k := range fs.index {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
