// Package wir implements the workflow intermediate representation: a typed
// directed graph of tasks, commits, and loops, plus the derivation rules
// that close it into a flat fact set a reasoner backend can consume.
package wir

// NodeKind identifies which of the three node variants a Node is.
type NodeKind string

const (
	KindTask   NodeKind = "task"
	KindCommit NodeKind = "commit"
	KindLoop   NodeKind = "loop"
)

// User is a declared identity. A User marked Domain can host task execution
// (spec's "Domain" is a User, not a distinct entity).
type User struct {
	ID     string
	Domain bool
}

// Asset is a named data item referenced by workflow nodes.
type Asset struct {
	ID     string
	IsCode bool
}

// NodeInput ties a node to an asset it consumes, sourced from exactly one
// domain.
type NodeInput struct {
	Asset      string
	FromDomain string
}

// Node is one unit of a Workflow: a Task, a Commit, or a Loop.
type Node struct {
	ID     string
	Kind   NodeKind
	Inputs []NodeInput

	// Output is the at-most-one asset this node produces. Nil means none.
	Output *string

	// At is the domain this node executes at. Always set after a
	// successful Parse.
	At string

	// Function names the input asset (by id) marked as this Task's code.
	// Nil for Commit and Loop nodes, and for Tasks with no function edge.
	Function *string

	// Body is the node id of this Loop's sub-graph entry point. Nil for
	// Task and Commit nodes.
	Body *string
}

// InputAssets returns the asset ids this node consumes.
func (n Node) InputAssets() []string {
	out := make([]string, len(n.Inputs))
	for i, in := range n.Inputs {
		out[i] = in.Asset
	}
	return out
}

// MainTaskID is the TaskID.FnID sentinel for a node with no function
// input — the wire format's "<main>" (spec.md §6's
// `task_id: [fn_id_or_"<main>", edge_index]`).
const MainTaskID = "<main>"

// TaskID addresses one node the way the wire format does: by the code
// asset marking it (or the "<main>" sentinel for a node with none),
// disambiguated by EdgeIndex when more than one node shares that
// marking. This module resolves it against declaration order, the same
// order ResolveTaskID's caller sees from Nodes().
type TaskID struct {
	FnID      string
	EdgeIndex int
}

// ResolveTaskID finds the node id.EdgeIndex'th node (by declaration
// order) whose Function asset equals id.FnID, or, when id.FnID is
// MainTaskID, the id.EdgeIndex'th node with no Function at all.
func (ir *Ir) ResolveTaskID(id TaskID) (Node, bool) {
	if id.EdgeIndex < 0 {
		return Node{}, false
	}
	matched := 0
	for _, n := range ir.nodes {
		isMatch := false
		switch {
		case id.FnID == MainTaskID:
			isMatch = n.Function == nil
		case n.Function != nil:
			isMatch = *n.Function == id.FnID
		}
		if !isMatch {
			continue
		}
		if matched == id.EdgeIndex {
			return n, true
		}
		matched++
	}
	return Node{}, false
}

// WorkflowResult names an asset published as a result of a workflow.
type WorkflowResult struct {
	Workflow string
	Asset    string
}

// WorkflowResultRecipient names the user a WorkflowResult was delivered to.
// At most one exists per workflow (I7).
type WorkflowResultRecipient struct {
	Workflow string
	Asset    string
	User     string
}

// MetadataTarget identifies what kind of entity a Metadata attachment
// points at.
type MetadataTarget string

const (
	TargetWorkflow MetadataTarget = "workflow"
	TargetNode     MetadataTarget = "node"
	TargetAsset    MetadataTarget = "asset"
	TargetUser     MetadataTarget = "user"
)

// Tag is an owner-scoped label.
type Tag struct {
	Owner string
	Value string
}

// Signature is a signer-scoped payload. Valid reports the derived
// signature-valid boolean; this implementation treats any non-empty
// payload as syntactically valid since the cryptographic scheme behind a
// submitted signature is an external collaborator's concern (spec.md §1).
type Signature struct {
	Signer  string
	Payload string
}

// Valid implements the derived `signature-valid` predicate.
func (s Signature) Valid() bool {
	return s.Signer != "" && s.Payload != ""
}

// Metadata attaches tags and signatures to a workflow, node, asset, or user.
type Metadata struct {
	Target   MetadataTarget
	TargetID string
	Tags     []Tag
	Signatures []Signature
}

// Ir is a fully parsed and validated workflow, arena-indexed by node id so
// that derivation over a potentially cyclic raw submission never needs
// pointer cycles (spec.md §9 Design Notes).
type Ir struct {
	Workflow string

	users  map[string]User
	assets map[string]Asset

	nodes    []Node
	nodeIdx  map[string]int

	result    *WorkflowResult
	recipient *WorkflowResultRecipient

	metadata []Metadata
}

// Users returns the declared user set.
func (ir *Ir) Users() map[string]User { return ir.users }

// Assets returns the declared asset set.
func (ir *Ir) Assets() map[string]Asset { return ir.assets }

// Nodes returns the workflow's nodes in declaration order.
func (ir *Ir) Nodes() []Node { return ir.nodes }

// Node looks up a node by id.
func (ir *Ir) Node(id string) (Node, bool) {
	i, ok := ir.nodeIdx[id]
	if !ok {
		return Node{}, false
	}
	return ir.nodes[i], true
}

// Result returns the workflow's result publication, if any.
func (ir *Ir) Result() *WorkflowResult { return ir.result }

// Recipient returns the workflow's result recipient, if any.
func (ir *Ir) Recipient() *WorkflowResultRecipient { return ir.recipient }

// Metadata returns all metadata attachments declared on the workflow.
func (ir *Ir) Metadata() []Metadata { return ir.metadata }

// IsDomain reports whether a declared user id is marked as a domain.
func (ir *Ir) IsDomain(userID string) bool {
	u, ok := ir.users[userID]
	return ok && u.Domain
}

// Stats summarizes a workflow's size for audit-log enrichment and
// counters — it carries no semantic weight in a verdict.
type Stats struct {
	Users  int
	Assets int
	Nodes  int
	Edges  int
}

// Stats counts users, assets, nodes, and input/output edges declared on
// the workflow.
func (ir *Ir) Stats() Stats {
	edges := 0
	for _, n := range ir.nodes {
		edges += len(n.Inputs)
		if n.Output != nil {
			edges++
		}
	}
	return Stats{
		Users:  len(ir.users),
		Assets: len(ir.assets),
		Nodes:  len(ir.nodes),
		Edges:  edges,
	}
}
