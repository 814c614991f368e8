package wir

// Parse validates a raw submission against I1-I7 and, on success, returns
// an Ir ready for Derive. The zero value of the returned *IrError is never
// returned alongside a non-nil *Ir.
func Parse(raw RawSubmission) (*Ir, *IrError) {
	ir := &Ir{
		Workflow: raw.Workflow,
		users:    make(map[string]User, len(raw.Users)),
		assets:   make(map[string]Asset, len(raw.Assets)),
		nodeIdx:  make(map[string]int, len(raw.Nodes)),
	}

	for _, u := range raw.Users {
		ir.users[u.ID] = User{ID: u.ID, Domain: u.Domain}
	}
	for _, a := range raw.Assets {
		ir.assets[a.ID] = Asset{ID: a.ID, IsCode: a.IsCode}
	}

	ir.nodes = make([]Node, len(raw.Nodes))
	for i, rn := range raw.Nodes {
		if _, dup := ir.nodeIdx[rn.ID]; dup {
			return nil, newErr(DuplicateNodeId, rn.ID, "node id declared more than once")
		}
		node, err := parseNode(ir, rn)
		if err != nil {
			return nil, err
		}
		ir.nodes[i] = node
		ir.nodeIdx[rn.ID] = i
	}

	if err := validateLoopBodies(ir); err != nil {
		return nil, err
	}

	if raw.Result != nil {
		if _, ok := ir.assets[raw.Result.Asset]; !ok {
			return nil, newErr(UnknownReference, "", "workflow result names an undeclared asset: "+raw.Result.Asset)
		}
		ir.result = &WorkflowResult{Workflow: raw.Workflow, Asset: raw.Result.Asset}
	}

	if len(raw.Recipients) > 1 {
		return nil, newErr(MultipleRecipients, "", "workflow declares more than one result recipient")
	}
	if len(raw.Recipients) == 1 {
		rec := raw.Recipients[0]
		if _, ok := ir.users[rec.User]; !ok {
			return nil, newErr(UnknownReference, "", "recipient names an undeclared user: "+rec.User)
		}
		if ir.result == nil {
			return nil, newErr(UnknownReference, "", "recipient declared without a workflow result")
		}
		ir.recipient = &WorkflowResultRecipient{
			Workflow: raw.Workflow,
			Asset:    ir.result.Asset,
			User:     rec.User,
		}
	}

	for _, rm := range raw.Metadata {
		if err := validateMetadataTarget(ir, rm); err != nil {
			return nil, err
		}
		ir.metadata = append(ir.metadata, Metadata{
			Target:     rm.Target,
			TargetID:   rm.TargetID,
			Tags:       toTags(rm.Tags),
			Signatures: toSignatures(rm.Signatures),
		})
	}

	return ir, nil
}

func parseNode(ir *Ir, rn RawNode) (Node, *IrError) {
	if len(rn.Outputs) > 1 {
		return Node{}, newErr(TooManyOutputs, rn.ID, "node declares more than one output asset")
	}

	for _, in := range rn.Inputs {
		if _, ok := ir.assets[in.Asset]; !ok {
			return Node{}, newErr(UnknownReference, rn.ID, "input names an undeclared asset: "+in.Asset)
		}
		dom, ok := ir.users[in.FromDomain]
		if !ok || !dom.Domain {
			return Node{}, newErr(UnknownReference, rn.ID, "input names an undeclared domain: "+in.FromDomain)
		}
	}

	var output *string
	if len(rn.Outputs) == 1 {
		out := rn.Outputs[0]
		if _, ok := ir.assets[out]; !ok {
			return Node{}, newErr(UnknownReference, rn.ID, "output names an undeclared asset: "+out)
		}
		output = &out
	}

	if rn.At == "" {
		return Node{}, newErr(MissingNodeAt, rn.ID, "node has no executing domain")
	}
	atUser, ok := ir.users[rn.At]
	if !ok || !atUser.Domain {
		return Node{}, newErr(MissingNodeAt, rn.ID, "node-at names an undeclared domain: "+rn.At)
	}

	if output != nil {
		for _, in := range rn.Inputs {
			if in.Asset == *output {
				return Node{}, newErr(RecursiveIO, rn.ID, "node input asset equals its output asset")
			}
		}
	}

	node := Node{
		ID:     rn.ID,
		Kind:   rn.Kind,
		Inputs: make([]NodeInput, len(rn.Inputs)),
		Output: output,
		At:     rn.At,
	}
	for i, in := range rn.Inputs {
		node.Inputs[i] = NodeInput{Asset: in.Asset, FromDomain: in.FromDomain}
	}

	switch rn.Kind {
	case KindTask:
		functionCount := 0
		for _, in := range rn.Inputs {
			if in.Function {
				functionCount++
				if functionCount > 1 {
					return Node{}, newErr(TooManyFunctions, rn.ID, "task names more than one function input")
				}
				asset := ir.assets[in.Asset]
				if !asset.IsCode {
					return Node{}, newErr(FunctionNotCode, rn.ID, "function input asset is not marked code: "+in.Asset)
				}
				fn := in.Asset
				node.Function = &fn
			}
		}
	case KindLoop:
		if rn.Body == nil || *rn.Body == "" {
			return Node{}, newErr(LoopBodyMismatch, rn.ID, "loop declares no body")
		}
		body := *rn.Body
		node.Body = &body
	case KindCommit:
		// no function, no body
	default:
		return Node{}, newErr(UnknownReference, rn.ID, "unknown node kind: "+string(rn.Kind))
	}

	return node, nil
}

// validateLoopBodies enforces I6 (loop inputs = body-entry inputs) and
// rejects cycles across loop-body edges (spec.md §9 Open Questions: "loop
// cycles should be rejected").
func validateLoopBodies(ir *Ir) *IrError {
	for _, n := range ir.nodes {
		if n.Kind != KindLoop {
			continue
		}
		body, ok := ir.Node(*n.Body)
		if !ok {
			return newErr(LoopBodyMismatch, n.ID, "loop body references an undeclared node: "+*n.Body)
		}
		if !sameInputSet(n.Inputs, body.Inputs) {
			return newErr(LoopBodyMismatch, n.ID, "loop inputs do not match body-entry inputs")
		}
	}

	// Cycle check across loop-body edges only.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ir.nodes))
	var visit func(id string) *IrError
	visit = func(id string) *IrError {
		switch color[id] {
		case gray:
			return newErr(LoopBodyMismatch, id, "cycle detected across loop-body edges")
		case black:
			return nil
		}
		n, ok := ir.Node(id)
		if !ok || n.Kind != KindLoop || n.Body == nil {
			return nil
		}
		color[id] = gray
		if err := visit(*n.Body); err != nil {
			return err
		}
		color[id] = black
		return nil
	}
	for _, n := range ir.nodes {
		if n.Kind == KindLoop {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func sameInputSet(a, b []NodeInput) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[NodeInput]int, len(a))
	for _, x := range a {
		count[x]++
	}
	for _, x := range b {
		count[x]--
		if count[x] < 0 {
			return false
		}
	}
	return true
}

func validateMetadataTarget(ir *Ir, rm RawMetadata) *IrError {
	switch rm.Target {
	case TargetWorkflow:
		if rm.TargetID != ir.Workflow {
			return newErr(UnknownReference, "", "metadata targets an unknown workflow: "+rm.TargetID)
		}
	case TargetNode:
		if _, ok := ir.nodeIdx[rm.TargetID]; !ok {
			return newErr(UnknownReference, "", "metadata targets an undeclared node: "+rm.TargetID)
		}
	case TargetAsset:
		if _, ok := ir.assets[rm.TargetID]; !ok {
			return newErr(UnknownReference, "", "metadata targets an undeclared asset: "+rm.TargetID)
		}
	case TargetUser:
		if _, ok := ir.users[rm.TargetID]; !ok {
			return newErr(UnknownReference, "", "metadata targets an undeclared user: "+rm.TargetID)
		}
	default:
		return newErr(UnknownReference, "", "metadata names an unknown target kind: "+string(rm.Target))
	}
	for _, t := range rm.Tags {
		if _, ok := ir.users[t.Owner]; !ok {
			return newErr(UnknownReference, "", "tag names an undeclared owner: "+t.Owner)
		}
	}
	for _, s := range rm.Signatures {
		if _, ok := ir.users[s.Signer]; !ok {
			return newErr(UnknownReference, "", "signature names an undeclared signer: "+s.Signer)
		}
	}
	return nil
}

func toTags(raw []RawTag) []Tag {
	out := make([]Tag, len(raw))
	for i, t := range raw {
		out[i] = Tag{Owner: t.Owner, Value: t.Value}
	}
	return out
}

func toSignatures(raw []RawSignature) []Signature {
	out := make([]Signature, len(raw))
	for i, s := range raw {
		out[i] = Signature{Signer: s.Signer, Payload: s.Payload}
	}
	return out
}
