package wir

// RawSubmission mirrors the nested JSON graph orchestrators submit
// (spec.md §6 "Workflow wire format"): entities declared up front, then
// nodes referencing them by id.
type RawSubmission struct {
	Workflow string `json:"workflow"`

	Users  []RawUser  `json:"users"`
	Assets []RawAsset `json:"assets"`
	Nodes  []RawNode  `json:"nodes"`

	Result *RawWorkflowResult `json:"result,omitempty"`

	// Recipients is a slice so a malformed submission can legally name more
	// than one recipient — Parse rejects that per I7 (MultipleRecipients).
	Recipients []RawRecipient `json:"recipients,omitempty"`

	Metadata []RawMetadata `json:"metadata,omitempty"`
}

type RawUser struct {
	ID     string `json:"id"`
	Domain bool   `json:"domain"`
}

type RawAsset struct {
	ID     string `json:"id"`
	IsCode bool   `json:"is_code"`
}

// RawNodeInput is one element of a node's `inputs` array. Function is set
// only on the single input a Task marks as its code.
type RawNodeInput struct {
	Asset      string `json:"asset"`
	FromDomain string `json:"from_domain"`
	Function   bool   `json:"function,omitempty"`
}

type RawNode struct {
	ID     string         `json:"id"`
	Kind   NodeKind       `json:"kind"`
	Inputs []RawNodeInput `json:"inputs"`

	// Outputs is a slice so a malformed submission can legally name more
	// than one output asset — Parse rejects that per I4 (TooManyOutputs).
	Outputs []string `json:"outputs,omitempty"`
	At      string   `json:"at"`

	// Body is set only for kind="loop": the node id of the loop body.
	Body *string `json:"body,omitempty"`
}

type RawWorkflowResult struct {
	Asset string `json:"asset"`
}

type RawRecipient struct {
	User string `json:"user"`
}

type RawMetadata struct {
	Target   MetadataTarget    `json:"target"`
	TargetID string            `json:"target_id"`
	Tags     []RawTag          `json:"tags,omitempty"`
	Signatures []RawSignature  `json:"signatures,omitempty"`
}

type RawTag struct {
	Owner string `json:"owner"`
	Value string `json:"value"`
}

type RawSignature struct {
	Signer  string `json:"signer"`
	Payload string `json:"payload"`
}
