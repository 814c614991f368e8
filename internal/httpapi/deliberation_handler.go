package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/epi-checker/checker/internal/authguard"
	"github.com/epi-checker/checker/pkg/deliberation"
	"github.com/epi-checker/checker/pkg/wir"
	"github.com/gofiber/fiber/v2"
)

// DeliberationHandler exposes the three questions the deliberation
// engine answers. Every response is 200 with a verdict body — Allow and
// Deny are both successful answers to the question asked; only a
// malformed request or an internal failure produces a non-2xx status.
type DeliberationHandler struct {
	engine *deliberation.Engine
}

func NewDeliberationHandler(engine *deliberation.Engine) *DeliberationHandler {
	return &DeliberationHandler{engine: engine}
}

type verdictResponse struct {
	Allow            bool   `json:"allow"`
	DenyKind         string `json:"deny_kind,omitempty"`
	DenyDetail       string `json:"deny_detail,omitempty"`
	VerdictReference string `json:"verdict_reference"`
	PolicyVersion    string `json:"policy_version,omitempty"`
	Fingerprint      string `json:"fingerprint"`
	Signature        string `json:"signature"`
}

func toVerdictResponse(v deliberation.Verdict) verdictResponse {
	resp := verdictResponse{
		Allow:            v.Allow,
		VerdictReference: v.VerdictReference,
		PolicyVersion:    v.PolicyVersion,
		Fingerprint:      v.Fingerprint,
		Signature:        v.Signature,
	}
	if !v.Allow {
		resp.DenyKind = string(v.Reason.Kind)
		resp.DenyDetail = v.Reason.Detail
	}
	return resp
}

// wireTaskID parses the wire format's `task_id: [fn_id_or_"<main>",
// edge_index]` tuple (spec.md §6).
type wireTaskID struct {
	FnID      string
	EdgeIndex int
}

func (t *wireTaskID) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf(`task_id must be a [fn_id_or_"<main>", edge_index] tuple: %w`, err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("task_id must have exactly 2 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &t.FnID); err != nil {
		return fmt.Errorf("task_id[0] must be a string: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &t.EdgeIndex); err != nil {
		return fmt.Errorf("task_id[1] must be an integer: %w", err)
	}
	return nil
}

func (t wireTaskID) toWir() wir.TaskID {
	return wir.TaskID{FnID: t.FnID, EdgeIndex: t.EdgeIndex}
}

// callerContext threads the auth guard's validated JWT subject and the
// raw request body into the engine, so every audit record carries who
// asked and exactly what they sent (spec.md §4.G).
func callerContext(c *fiber.Ctx) deliberation.CallerContext {
	claims, _ := authguard.ClaimsFromContext(c)
	return deliberation.CallerContext{Caller: claims.Subject, RequestPayload: string(c.Body())}
}

type executeWorkflowRequest struct {
	UseCase  string            `json:"use_case"`
	Workflow wir.RawSubmission `json:"workflow"`
}

func (h *DeliberationHandler) ExecuteWorkflow(c *fiber.Ctx) error {
	var req executeWorkflowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.UseCase == "" {
		return badRequest(c, "use_case is required")
	}

	v, err := h.engine.ExecuteWorkflow(c.Context(), req.UseCase, req.Workflow, callerContext(c))
	if err != nil {
		return internalError(c, err.Error())
	}
	return c.JSON(toVerdictResponse(v))
}

type executeTaskRequest struct {
	UseCase  string            `json:"use_case"`
	Workflow wir.RawSubmission `json:"workflow"`
	TaskID   wireTaskID        `json:"task_id"`
}

func (h *DeliberationHandler) ExecuteTask(c *fiber.Ctx) error {
	var req executeTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.UseCase == "" {
		return badRequest(c, "use_case is required")
	}

	v, err := h.engine.ExecuteTask(c.Context(), req.UseCase, req.Workflow, req.TaskID.toWir(), callerContext(c))
	if err != nil {
		return internalError(c, err.Error())
	}
	return c.JSON(toVerdictResponse(v))
}

type accessDataRequest struct {
	UseCase  string            `json:"use_case"`
	Workflow wir.RawSubmission `json:"workflow"`
	TaskID   *wireTaskID       `json:"task_id,omitempty"`
	DataID   string            `json:"data_id"`
}

func (h *DeliberationHandler) AccessData(c *fiber.Ctx) error {
	var req accessDataRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.UseCase == "" || req.DataID == "" {
		return badRequest(c, "use_case and data_id are required")
	}

	var taskID *wir.TaskID
	if req.TaskID != nil {
		id := req.TaskID.toWir()
		taskID = &id
	}

	v, err := h.engine.AccessData(c.Context(), req.UseCase, req.Workflow, taskID, req.DataID, callerContext(c))
	if err != nil {
		return internalError(c, err.Error())
	}
	return c.JSON(toVerdictResponse(v))
}
