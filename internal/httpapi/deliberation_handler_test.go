package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/epi-checker/checker/pkg/deliberation"
	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/epi-checker/checker/pkg/reasoner"
	"github.com/epi-checker/checker/pkg/reasoner/backend"
	"github.com/epi-checker/checker/pkg/signing"
	"github.com/epi-checker/checker/pkg/stateresolver"
	"github.com/epi-checker/checker/pkg/wir"
	"github.com/gofiber/fiber/v2"
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

func newTestEngine(t *testing.T) *deliberation.Engine {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := policystore.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	store := policystore.New(db)
	if err := store.WarmCache(); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	p, err := store.Insert("release gate policy", "v1", "alice", []policystore.Fragment{
		{Reasoner: string(backend.NoOp), ReasonerVersion: "1", Content: "always-allow"},
	})
	if err != nil {
		t.Fatalf("insert policy: %v", err)
	}
	if err := store.Activate(p.Version, "alice"); err != nil {
		t.Fatalf("activate policy: %v", err)
	}

	resolvers := stateresolver.NewRegistry(stateresolver.NewStatic("release-gate", wir.NewFactSet()))
	registry := backend.NewRegistry(backend.NewNoOp())
	connector := reasoner.NewConnector(registry, backend.NoOp, "1")

	return deliberation.NewEngine(store, resolvers, connector, nil)
}

func validWorkflowPayload() wir.RawSubmission {
	return wir.RawSubmission{
		Workflow: "wf-1",
		Users:    []wir.RawUser{{ID: "alice", Domain: true}},
		Assets:   []wir.RawAsset{{ID: "dataset", IsCode: false}, {ID: "result", IsCode: false}},
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

func TestExecuteWorkflowEndpointReturns200Allow(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/execute-workflow", h.ExecuteWorkflow)

	body, _ := json.Marshal(executeWorkflowRequest{UseCase: "release-gate", Workflow: validWorkflowPayload()})
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/execute-workflow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var parsed verdictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !parsed.Allow {
		t.Errorf("expected allow, got deny: %s/%s", parsed.DenyKind, parsed.DenyDetail)
	}
	if parsed.Signature == "" {
		t.Error("expected a non-empty signature")
	}
}

func TestExecuteWorkflowEndpointRejectsMissingUseCase(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/execute-workflow", h.ExecuteWorkflow)

	body, _ := json.Marshal(executeWorkflowRequest{Workflow: validWorkflowPayload()})
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/execute-workflow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestExecuteWorkflowEndpointReturns200OnDenyInvalidWorkflow(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/execute-workflow", h.ExecuteWorkflow)

	malformed := validWorkflowPayload()
	malformed.Nodes[0].Outputs = []string{"result", "dataset"}

	body, _ := json.Marshal(executeWorkflowRequest{UseCase: "release-gate", Workflow: malformed})
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/execute-workflow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	// A deny verdict is still a successful answer to the question asked.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 even for a deny verdict, got %d", resp.StatusCode)
	}

	var parsed verdictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if parsed.Allow {
		t.Fatal("expected deny for a malformed workflow")
	}
	if parsed.DenyKind != string(deliberation.DenyInvalidWorkflow) {
		t.Errorf("expected DenyInvalidWorkflow, got %s", parsed.DenyKind)
	}
}

func TestExecuteTaskEndpointParsesMainTaskIDTuple(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/execute-task", h.ExecuteTask)

	payload := map[string]interface{}{
		"use_case": "release-gate",
		"workflow": validWorkflowPayload(),
		"task_id":  []interface{}{wir.MainTaskID, 0},
	}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/execute-task", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var parsed verdictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !parsed.Allow {
		t.Errorf("expected allow, got deny: %s/%s", parsed.DenyKind, parsed.DenyDetail)
	}
}

func TestExecuteTaskEndpointRejectsMalformedTaskIDTuple(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/execute-task", h.ExecuteTask)

	payload := map[string]interface{}{
		"use_case": "release-gate",
		"workflow": validWorkflowPayload(),
		"task_id":  []interface{}{wir.MainTaskID},
	}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/execute-task", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed task_id tuple, got %d", resp.StatusCode)
	}
}

func TestAccessDataEndpointWithTaskID(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/access-data", h.AccessData)

	payload := map[string]interface{}{
		"use_case": "release-gate",
		"workflow": validWorkflowPayload(),
		"task_id":  []interface{}{wir.MainTaskID, 0},
		"data_id":  "dataset",
	}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/access-data", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var parsed verdictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !parsed.Allow {
		t.Errorf("expected allow, got deny: %s/%s", parsed.DenyKind, parsed.DenyDetail)
	}
}

func TestAccessDataEndpointWithoutTaskIDConsultsRecipient(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/access-data", h.AccessData)

	workflow := validWorkflowPayload()
	workflow.Result = &wir.RawWorkflowResult{Asset: "result"}
	workflow.Recipients = []wir.RawRecipient{{User: "alice"}}

	payload := map[string]interface{}{
		"use_case": "release-gate",
		"workflow": workflow,
		"data_id":  "result",
	}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/access-data", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var parsed verdictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !parsed.Allow {
		t.Errorf("expected allow, got deny: %s/%s", parsed.DenyKind, parsed.DenyDetail)
	}
}

func TestAccessDataEndpointRejectsMissingDataID(t *testing.T) {
	app := fiber.New()
	h := NewDeliberationHandler(newTestEngine(t))
	app.Post("/v1/deliberation/access-data", h.AccessData)

	payload := map[string]interface{}{
		"use_case": "release-gate",
		"workflow": validWorkflowPayload(),
	}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, "/v1/deliberation/access-data", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
