package wir

import "fmt"

// ErrorKind enumerates the structural validation failures Parse can report
// (spec.md §4.A).
type ErrorKind string

const (
	UnknownReference ErrorKind = "UnknownReference"
	DuplicateNodeId   ErrorKind = "DuplicateNodeId"
	MissingNodeAt     ErrorKind = "MissingNodeAt"
	TooManyOutputs    ErrorKind = "TooManyOutputs"
	RecursiveIO       ErrorKind = "RecursiveIO"
	TooManyFunctions  ErrorKind = "TooManyFunctions"
	FunctionNotCode   ErrorKind = "FunctionNotCode"
	LoopBodyMismatch  ErrorKind = "LoopBodyMismatch"
	MultipleRecipients ErrorKind = "MultipleRecipients"
)

// IrError reports which invariant (I1-I7) a raw submission violated and
// where.
type IrError struct {
	Kind   ErrorKind
	NodeID string
	Detail string
}

func (e *IrError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("wir: %s (node %s): %s", e.Kind, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("wir: %s: %s", e.Kind, e.Detail)
}

func newErr(kind ErrorKind, nodeID, detail string) *IrError {
	return &IrError{Kind: kind, NodeID: nodeID, Detail: detail}
}
