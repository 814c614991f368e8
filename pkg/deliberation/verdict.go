// Package deliberation orchestrates the workflow IR, reasoner connector,
// policy store, and state resolver into a single Allow/Deny verdict per
// question, and signs and audits every verdict it produces.
package deliberation

import "fmt"

// DenyKind enumerates the error taxonomy a deliberation can fail closed
// with. Every kind maps to a distinct deliberation failure mode, not a
// generic catch-all.
type DenyKind string

const (
	DenyNoActivePolicy     DenyKind = "NoActivePolicy"
	DenyUnknownUseCase     DenyKind = "UnknownUseCase"
	DenyInvalidWorkflow    DenyKind = "InvalidWorkflow"
	DenyUnsupportedBackend DenyKind = "UnsupportedBackend"
	DenyTimeout            DenyKind = "Timeout"
	DenyReasonerError      DenyKind = "ReasonerError"
	DenyPolicyViolated     DenyKind = "PolicyViolated"
)

// DenyReason carries the taxonomy kind plus whatever detail it specifies:
// InvalidWorkflow names the wir.ErrorKind (or "NoResultRecipient" when a
// result-to-transfer question meets a workflow with no recipient),
// ReasonerError names the backend detail string, PolicyViolated names the
// violated predicate.
type DenyReason struct {
	Kind   DenyKind
	Detail string
}

func (r DenyReason) String() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Detail)
}

// Verdict is the engine's final answer to one Question: either Allow, or
// Deny with a reason. VerdictReference, PolicyVersion, Fingerprint, and
// Signature are populated on every verdict (deny included) so a caller
// can always audit which policy version and which fact fingerprint
// produced it.
type Verdict struct {
	Allow  bool
	Reason DenyReason // zero value when Allow is true

	VerdictReference string
	PolicyVersion    string
	Fingerprint      string
	Signature        string
}

func allow(ref, policyVersion, fingerprint, signature string) Verdict {
	return Verdict{
		Allow:            true,
		VerdictReference: ref,
		PolicyVersion:    policyVersion,
		Fingerprint:      fingerprint,
		Signature:        signature,
	}
}

func deny(ref, policyVersion, fingerprint, signature string, kind DenyKind, detail string) Verdict {
	return Verdict{
		Allow:            false,
		Reason:           DenyReason{Kind: kind, Detail: detail},
		VerdictReference: ref,
		PolicyVersion:    policyVersion,
		Fingerprint:      fingerprint,
		Signature:        signature,
	}
}
