package deliberation

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/epi-checker/checker/pkg/reasoner"
	"github.com/epi-checker/checker/pkg/signing"
	"github.com/epi-checker/checker/pkg/stateresolver"
	"github.com/epi-checker/checker/pkg/wir"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	os.Setenv("VERDICT_SIGNING_KEY", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	if err := signing.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type stubDispatcher struct {
	verdict reasoner.Verdict
	err     error
}

func (d stubDispatcher) Dispatch(ctx context.Context, p *reasoner.Program) (reasoner.Verdict, error) {
	return d.verdict, d.err
}

// stubCompiler always succeeds, regardless of the policy's fragments, so
// tests can exercise the dispatch/audit path without caring about
// backend-fragment matching (that is connector_test.go's job).
type stubCompiler struct{}

func (stubCompiler) Compile(policy policystore.Policy, facts []string, question string) (*reasoner.Program, error) {
	return &reasoner.Program{State: reasoner.StateBuilt, Facts: facts, Question: question}, nil
}

// failingCompiler always reports ErrUnsupportedBackend.
type failingCompiler struct{}

func (failingCompiler) Compile(policy policystore.Policy, facts []string, question string) (*reasoner.Program, error) {
	return nil, reasoner.ErrUnsupportedBackend
}

type recordingAuditor struct {
	records []AuditInput
	err     error
}

func (a *recordingAuditor) Record(ctx context.Context, input AuditInput) error {
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, input)
	return nil
}

func newTestPolicyStore(t *testing.T) *policystore.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := policystore.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	s := policystore.New(db)
	if err := s.WarmCache(); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	return s
}

func validWorkflow() wir.RawSubmission {
	return wir.RawSubmission{
		Workflow: "wf-1",
		Users: []wir.RawUser{
			{ID: "alice", Domain: true},
		},
		Assets: []wir.RawAsset{
			{ID: "dataset", IsCode: false},
			{ID: "result", IsCode: false},
		},
		Nodes: []wir.RawNode{
			{
				ID:      "n1",
				Kind:    wir.KindCommit,
				Inputs:  []wir.RawNodeInput{{Asset: "dataset", FromDomain: "alice"}},
				Outputs: []string{"result"},
				At:      "alice",
			},
		},
	}
}

func newEngine(t *testing.T, dispatcher Dispatcher, auditor *recordingAuditor, withPolicy, withResolver bool) *Engine {
	t.Helper()
	store := newTestPolicyStore(t)
	if withPolicy {
		p, err := store.Insert("release gate policy", "v1", "alice", nil)
		if err != nil {
			t.Fatalf("insert policy: %v", err)
		}
		if err := store.Activate(p.Version, "alice"); err != nil {
			t.Fatalf("activate policy: %v", err)
		}
	}

	var registry *stateresolver.Registry
	if withResolver {
		registry = stateresolver.NewRegistry(stateresolver.NewStatic("release-gate", wir.NewFactSet()))
	} else {
		registry = stateresolver.NewRegistry()
	}

	return &Engine{
		policies:   store,
		resolvers:  registry,
		compiler:   stubCompiler{},
		dispatcher: dispatcher,
		auditor:    auditor,
	}
}

func TestExecuteWorkflowDeniesNoActivePolicy(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, false, true)

	v, err := e.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{Caller: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Allow {
		t.Fatal("expected deny")
	}
	if v.Reason.Kind != DenyNoActivePolicy {
		t.Errorf("expected DenyNoActivePolicy, got %s", v.Reason.Kind)
	}
	if v.VerdictReference == "" || v.Signature == "" {
		t.Error("expected a signed verdict reference even on deny")
	}
	if len(auditor.records) != 1 {
		t.Errorf("expected exactly one audit record, got %d", len(auditor.records))
	}
	if auditor.records[0].Caller != "alice" {
		t.Errorf("expected caller identity threaded into the audit record, got %q", auditor.records[0].Caller)
	}
	if auditor.records[0].Verb != VerbExecuteWorkflow {
		t.Errorf("expected verb %s, got %s", VerbExecuteWorkflow, auditor.records[0].Verb)
	}
}

func TestExecuteWorkflowDeniesUnknownUseCase(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, false)

	v, err := e.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reason.Kind != DenyUnknownUseCase {
		t.Errorf("expected DenyUnknownUseCase, got %s", v.Reason.Kind)
	}
}

func TestExecuteWorkflowDeniesInvalidWorkflow(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	malformed := validWorkflow()
	malformed.Nodes[0].Outputs = []string{"dataset", "dataset"}

	v, err := e.ExecuteWorkflow(context.Background(), "release-gate", malformed, CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reason.Kind != DenyInvalidWorkflow {
		t.Errorf("expected DenyInvalidWorkflow, got %s", v.Reason.Kind)
	}
	if v.Reason.Detail != string(wir.TooManyOutputs) {
		t.Errorf("expected detail TooManyOutputs, got %s", v.Reason.Detail)
	}
}

func TestExecuteWorkflowDeniesUnsupportedBackend(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)
	e.compiler = failingCompiler{}

	v, err := e.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reason.Kind != DenyUnsupportedBackend {
		t.Errorf("expected DenyUnsupportedBackend, got %s", v.Reason.Kind)
	}
}

func TestExecuteWorkflowDeniesReasonerError(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{err: errors.New("backend unreachable")}, auditor, true, true)

	v, err := e.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reason.Kind != DenyReasonerError {
		t.Errorf("expected DenyReasonerError, got %s", v.Reason.Kind)
	}
}

func TestExecuteWorkflowDeniesPolicyViolated(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: false, Predicate: "no-unsigned-code"}}, auditor, true, true)

	v, err := e.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reason.Kind != DenyPolicyViolated {
		t.Errorf("expected DenyPolicyViolated, got %s", v.Reason.Kind)
	}
	if v.Reason.Detail != "no-unsigned-code" {
		t.Errorf("expected violated predicate in detail, got %s", v.Reason.Detail)
	}
}

func TestExecuteWorkflowAllows(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	v, err := e.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allow {
		t.Fatalf("expected allow, got deny: %v", v.Reason)
	}
	if v.PolicyVersion != "1" {
		t.Errorf("expected policy version 1, got %s", v.PolicyVersion)
	}
	if v.Fingerprint == "" {
		t.Error("expected a non-empty fingerprint")
	}
}

func TestExecuteTaskDeniesUnknownTaskID(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	v, err := e.ExecuteTask(context.Background(), "release-gate", validWorkflow(), wir.TaskID{FnID: "does-not-exist", EdgeIndex: 0}, CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reason.Kind != DenyInvalidWorkflow {
		t.Errorf("expected DenyInvalidWorkflow, got %s", v.Reason.Kind)
	}
}

func TestExecuteTaskResolvesMainTaskID(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	v, err := e.ExecuteTask(context.Background(), "release-gate", validWorkflow(), wir.TaskID{FnID: wir.MainTaskID, EdgeIndex: 0}, CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allow {
		t.Fatalf("expected allow, got deny: %v", v.Reason)
	}
}

func TestAccessDataWithTaskIDAsksDatasetToTransfer(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	taskID := wir.TaskID{FnID: wir.MainTaskID, EdgeIndex: 0}
	v, err := e.AccessData(context.Background(), "release-gate", validWorkflow(), &taskID, "dataset", CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allow {
		t.Fatalf("expected allow, got deny: %v", v.Reason)
	}
	if auditor.records[0].QuestionKind != reasoner.QuestionDatasetToTransfer {
		t.Errorf("expected QuestionDatasetToTransfer, got %s", auditor.records[0].QuestionKind)
	}
}

func TestAccessDataWithoutTaskIDAsksResultToTransfer(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	withRecipient := validWorkflow()
	withRecipient.Result = &wir.RawWorkflowResult{Asset: "result"}
	withRecipient.Recipients = []wir.RawRecipient{{User: "alice"}}

	v, err := e.AccessData(context.Background(), "release-gate", withRecipient, nil, "result", CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allow {
		t.Fatalf("expected allow, got deny: %v", v.Reason)
	}
	if auditor.records[0].QuestionKind != reasoner.QuestionResultToTransfer {
		t.Errorf("expected QuestionResultToTransfer, got %s", auditor.records[0].QuestionKind)
	}
}

func TestAccessDataWithoutTaskIDDeniesWhenNoRecipientDeclared(t *testing.T) {
	auditor := &recordingAuditor{}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	v, err := e.AccessData(context.Background(), "release-gate", validWorkflow(), nil, "result", CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Reason.Kind != DenyInvalidWorkflow {
		t.Errorf("expected DenyInvalidWorkflow, got %s", v.Reason.Kind)
	}
}

func TestSameFactsProduceSameFingerprint(t *testing.T) {
	auditor1 := &recordingAuditor{}
	auditor2 := &recordingAuditor{}
	e1 := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor1, true, true)
	e2 := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor2, true, true)

	v1, err := e1.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := e2.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1.Fingerprint != v2.Fingerprint {
		t.Errorf("expected identical fingerprints for identical workflows, got %s and %s", v1.Fingerprint, v2.Fingerprint)
	}
}

func TestAuditWriteFailureFailsTheDeliberation(t *testing.T) {
	auditor := &recordingAuditor{err: errors.New("disk full")}
	e := newEngine(t, stubDispatcher{verdict: reasoner.Verdict{Allow: true}}, auditor, true, true)

	_, err := e.ExecuteWorkflow(context.Background(), "release-gate", validWorkflow(), CallerContext{})
	if err == nil {
		t.Fatal("expected an error when the audit write fails")
	}
}
