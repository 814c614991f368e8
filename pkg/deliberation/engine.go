package deliberation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/epi-checker/checker/pkg/reasoner"
	"github.com/epi-checker/checker/pkg/signing"
	"github.com/epi-checker/checker/pkg/stateresolver"
	"github.com/epi-checker/checker/pkg/wir"
	"github.com/google/uuid"
)

// Verb names one of the three deliberation operations an audit record's
// verb column can carry (spec.md §4.G); the six management verbs live
// alongside the handlers that issue them.
const (
	VerbExecuteWorkflow = "execute-workflow"
	VerbExecuteTask     = "execute-task"
	VerbAccessData      = "access-data"
)

// CallerContext carries the two pieces of request-scoped information the
// audit trail needs but the deliberation algorithm itself never
// consults: who asked (the JWT subject, validated by the auth guard
// before the engine ever sees the request) and the full wire payload
// they sent.
type CallerContext struct {
	Caller         string
	RequestPayload string
}

// AuditInput is everything worth recording about one deliberation,
// independent of how the audit log chooses to store it.
type AuditInput struct {
	Verb           string
	Caller         string
	UseCase        string
	QuestionKind   reasoner.QuestionKind
	RequestPayload string
	PolicyVersion  string
	Fingerprint    string
	Stats          wir.Stats
	Verdict        Verdict
	Timestamp      time.Time
}

// Auditor records a completed deliberation. internal/auditlog implements
// this; it is declared here, not imported from there, so this package
// stays tree-shaped (pkg before internal) and independently testable
// with a stub.
type Auditor interface {
	Record(ctx context.Context, input AuditInput) error
}

// Dispatcher runs a compiled reasoner Program and returns its verdict.
// reasoner.Pool satisfies it directly and reasoner.Connector through the
// connectorDispatcher adapter below; tests use a stub to force
// ReasonerError without standing up a real backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, program *reasoner.Program) (reasoner.Verdict, error)
}

// Compiler turns a policy's fragments plus a fact set and question into
// a reasoner Program, failing with reasoner.ErrUnsupportedBackend when
// the policy carries no fragment for the deployment's configured
// backend. Both reasoner.Connector and reasoner.Pool satisfy it.
type Compiler interface {
	Compile(policy policystore.Policy, facts []string, question string) (*reasoner.Program, error)
}

// Engine orchestrates workflow parsing and derivation (pkg/wir), the
// policy store (pkg/policystore), state resolution (pkg/stateresolver),
// and the reasoner connector (pkg/reasoner) into verdicts.
type Engine struct {
	policies   *policystore.Store
	resolvers  *stateresolver.Registry
	compiler   Compiler
	dispatcher Dispatcher
	auditor    Auditor
}

// connectorDispatcher adapts reasoner.Connector's Run method to the
// Dispatcher interface's Dispatch name, for the bare-connector
// constructor below; reasoner.Pool already exposes a Dispatch method of
// its own and needs no adapter.
type connectorDispatcher struct {
	connector *reasoner.Connector
}

func (d connectorDispatcher) Dispatch(ctx context.Context, program *reasoner.Program) (reasoner.Verdict, error) {
	return d.connector.Run(ctx, program)
}

func NewEngine(policies *policystore.Store, resolvers *stateresolver.Registry, connector *reasoner.Connector, auditor Auditor) *Engine {
	return &Engine{
		policies:   policies,
		resolvers:  resolvers,
		compiler:   connector,
		dispatcher: connectorDispatcher{connector: connector},
		auditor:    auditor,
	}
}

// NewEngineWithPool is the production constructor: dispatch goes through
// the bounded, circuit-broken pool instead of a bare connector, while
// compilation — a pure, local operation — still goes straight through
// the connector the pool itself wraps.
func NewEngineWithPool(policies *policystore.Store, resolvers *stateresolver.Registry, pool *reasoner.Pool, auditor Auditor) *Engine {
	return &Engine{policies: policies, resolvers: resolvers, compiler: pool, dispatcher: pool, auditor: auditor}
}

// ExecuteWorkflow asks whether a workflow, as a whole, may run.
func (e *Engine) ExecuteWorkflow(ctx context.Context, useCase string, raw wir.RawSubmission, cc CallerContext) (Verdict, error) {
	return e.run(ctx, VerbExecuteWorkflow, useCase, raw, cc, func(ir *wir.Ir) (reasoner.Question, *DenyReason) {
		return reasoner.ExecuteWorkflowQuestion(ir.Workflow), nil
	})
}

// ExecuteTask asks whether a single node of an already-valid workflow may
// execute. taskID addresses the node the wire way: by the code asset
// marking it (or "<main>") and a disambiguating edge index.
func (e *Engine) ExecuteTask(ctx context.Context, useCase string, raw wir.RawSubmission, taskID wir.TaskID, cc CallerContext) (Verdict, error) {
	return e.run(ctx, VerbExecuteTask, useCase, raw, cc, func(ir *wir.Ir) (reasoner.Question, *DenyReason) {
		node, ok := ir.ResolveTaskID(taskID)
		if !ok {
			return reasoner.Question{}, &DenyReason{Kind: DenyInvalidWorkflow, Detail: string(wir.UnknownReference)}
		}
		return reasoner.ExecuteTaskQuestion(ir.Workflow, node), nil
	})
}

// AccessData asks whether a dataset may be transferred. When taskID is
// non-nil the question is "may dataID be transferred into that task"
// (dataset-to-transfer); when taskID is nil the question is "was the
// workflow's published result transferred to its submitter"
// (result-to-transfer), resolved against the workflow's own declared
// recipient rather than anything the caller asserts.
func (e *Engine) AccessData(ctx context.Context, useCase string, raw wir.RawSubmission, taskID *wir.TaskID, dataID string, cc CallerContext) (Verdict, error) {
	return e.run(ctx, VerbAccessData, useCase, raw, cc, func(ir *wir.Ir) (reasoner.Question, *DenyReason) {
		if taskID != nil {
			node, ok := ir.ResolveTaskID(*taskID)
			if !ok {
				return reasoner.Question{}, &DenyReason{Kind: DenyInvalidWorkflow, Detail: string(wir.UnknownReference)}
			}
			return reasoner.DatasetToTransferQuestion(ir.Workflow, node, dataID), nil
		}

		recipient := ir.Recipient()
		if recipient == nil {
			return reasoner.Question{}, &DenyReason{Kind: DenyInvalidWorkflow, Detail: "NoResultRecipient"}
		}
		return reasoner.ResultToTransferQuestion(ir.Workflow, dataID, recipient.User), nil
	})
}

// run implements the common eight-step path shared by every question:
// resolve the active policy, parse and derive the workflow, resolve
// external state, augment, build the question, fingerprint, compile and
// dispatch to the reasoner, sign, and audit. Every early exit still goes
// through sign+audit so a caller can always trust
// VerdictReference/Fingerprint/Signature on a Deny.
func (e *Engine) run(ctx context.Context, verb, useCase string, raw wir.RawSubmission, cc CallerContext, build func(ir *wir.Ir) (reasoner.Question, *DenyReason)) (Verdict, error) {
	ref := uuid.NewString()

	// Step 1: resolve active policy. Fails closed.
	policy, err := e.policies.GetActive()
	if err != nil {
		if errors.Is(err, policystore.ErrNoActivePolicy) {
			return e.finish(ctx, verb, useCase, cc, "", "", ref, reasoner.QuestionKind(""), wir.Stats{}, DenyNoActivePolicy, "")
		}
		return e.finish(ctx, verb, useCase, cc, "", "", ref, reasoner.QuestionKind(""), wir.Stats{}, DenyReasonerError, err.Error())
	}
	policyVersion := strconv.Itoa(policy.Version)

	// Step 2: parse the workflow submission.
	ir, irErr := wir.Parse(raw)
	if irErr != nil {
		return e.finish(ctx, verb, useCase, cc, policyVersion, "", ref, reasoner.QuestionKind(""), wir.Stats{}, DenyInvalidWorkflow, string(irErr.Kind))
	}
	stats := ir.Stats()

	// Step 3: derive structural facts (D1-D6).
	structural := wir.DeriveIr(ir)

	// Step 4: resolve external state for this use case.
	resolver, ok := e.resolvers.Get(useCase)
	if !ok {
		return e.finish(ctx, verb, useCase, cc, policyVersion, "", ref, reasoner.QuestionKind(""), stats, DenyUnknownUseCase, "no state resolver registered for use case")
	}
	external, err := resolver.Resolve(ctx, ir)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return e.finish(ctx, verb, useCase, cc, policyVersion, "", ref, reasoner.QuestionKind(""), stats, DenyTimeout, err.Error())
		}
		return e.finish(ctx, verb, useCase, cc, policyVersion, "", ref, reasoner.QuestionKind(""), stats, DenyReasonerError, fmt.Sprintf("state resolver: %v", err))
	}

	// Step 5: augment.
	facts := structural.Union(external)

	// Build the question now that the IR and facts exist.
	question, denyReason := build(ir)
	if denyReason != nil {
		fingerprint := Fingerprint(policy.Version, facts, question)
		return e.finish(ctx, verb, useCase, cc, policyVersion, fingerprint, ref, question.Kind, stats, denyReason.Kind, denyReason.Detail)
	}

	// Step 6: fingerprint = hash(policy.version, canonical facts, question).
	fingerprint := Fingerprint(policy.Version, facts, question)

	// Step 7: compile the policy against this backend, then dispatch.
	program, err := e.compiler.Compile(policy, facts.Canonicalize(), question.Phrase())
	if err != nil {
		return e.finish(ctx, verb, useCase, cc, policyVersion, fingerprint, ref, question.Kind, stats, DenyUnsupportedBackend, err.Error())
	}
	rv, err := e.dispatcher.Dispatch(ctx, program)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return e.finish(ctx, verb, useCase, cc, policyVersion, fingerprint, ref, question.Kind, stats, DenyTimeout, err.Error())
		}
		return e.finish(ctx, verb, useCase, cc, policyVersion, fingerprint, ref, question.Kind, stats, DenyReasonerError, err.Error())
	}
	if !rv.Allow {
		return e.finish(ctx, verb, useCase, cc, policyVersion, fingerprint, ref, question.Kind, stats, DenyPolicyViolated, rv.Predicate)
	}

	return e.finishAllow(ctx, verb, useCase, cc, policyVersion, fingerprint, ref, question.Kind, stats)
}

func (e *Engine) finish(ctx context.Context, verb, useCase string, cc CallerContext, policyVersion, fingerprint, ref string, kind reasoner.QuestionKind, stats wir.Stats, denyKind DenyKind, detail string) (Verdict, error) {
	sig, err := signing.Sign("deny", ref, policyVersion, fingerprint, string(denyKind))
	if err != nil {
		return Verdict{}, fmt.Errorf("deliberation: sign deny verdict: %w", err)
	}
	v := deny(ref, policyVersion, fingerprint, sig, denyKind, detail)
	if err := e.audit(ctx, verb, useCase, cc, kind, policyVersion, fingerprint, stats, v); err != nil {
		return Verdict{}, err
	}
	return v, nil
}

func (e *Engine) finishAllow(ctx context.Context, verb, useCase string, cc CallerContext, policyVersion, fingerprint, ref string, kind reasoner.QuestionKind, stats wir.Stats) (Verdict, error) {
	sig, err := signing.Sign("allow", ref, policyVersion, fingerprint)
	if err != nil {
		return Verdict{}, fmt.Errorf("deliberation: sign allow verdict: %w", err)
	}
	v := allow(ref, policyVersion, fingerprint, sig)
	if err := e.audit(ctx, verb, useCase, cc, kind, policyVersion, fingerprint, stats, v); err != nil {
		return Verdict{}, err
	}
	return v, nil
}

// audit writes the record before the verdict is handed back to the
// caller (P5: no verdict is issued without a corresponding audit
// record) — the same create-then-respond sequencing the analysis
// handler this engine is grounded on uses for jobs. A write failure
// here fails the whole deliberation, not just the logging: an
// unaudited Allow is indistinguishable from one nobody can ever prove
// was gated.
func (e *Engine) audit(ctx context.Context, verb, useCase string, cc CallerContext, kind reasoner.QuestionKind, policyVersion, fingerprint string, stats wir.Stats, v Verdict) error {
	if e.auditor == nil {
		return nil
	}
	if err := e.auditor.Record(ctx, AuditInput{
		Verb:           verb,
		Caller:         cc.Caller,
		UseCase:        useCase,
		QuestionKind:   kind,
		RequestPayload: cc.RequestPayload,
		PolicyVersion:  policyVersion,
		Fingerprint:    fingerprint,
		Stats:          stats,
		Verdict:        v,
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("deliberation: audit write failed: %w", err)
	}
	return nil
}
