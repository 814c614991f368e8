package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/epi-checker/checker/internal/auditlog"
	"github.com/epi-checker/checker/internal/authguard"
	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/gofiber/fiber/v2"
)

// The six management verbs an audit record's verb column can carry
// (spec.md §4.G); the three deliberation verbs live next to
// deliberation.Engine.
const (
	VerbListPolicies = "list-policies"
	VerbAddPolicy    = "add-policy"
	VerbGetPolicy    = "get-policy"
	VerbGetActive    = "get-active"
	VerbSetActive    = "set-active"
	VerbUnsetActive  = "unset-active"
)

// ManagementAuditor records one management action. *auditlog.Logger
// satisfies it; declared as an interface here so tests can stub it
// without standing up a database.
type ManagementAuditor interface {
	RecordAdmin(ctx context.Context, input auditlog.AdminAuditInput) error
}

// ManagementHandler exposes the policy store's insert/list/get/activate/
// deactivate operations. Unlike DeliberationHandler, failures here are
// real HTTP errors: there is no "deny" answer to "create a policy
// version."
type ManagementHandler struct {
	store   *policystore.Store
	auditor ManagementAuditor
}

func NewManagementHandler(store *policystore.Store, auditor ManagementAuditor) *ManagementHandler {
	return &ManagementHandler{store: store, auditor: auditor}
}

// isStoreLookupError narrows a policystore error down to "not found"
// shapes the management handler needs to distinguish from infra failures.
func isStoreLookupError(err error) bool {
	return errors.Is(err, policystore.ErrNoActivePolicy) || errors.Is(err, policystore.ErrVersionNotFound)
}

// reasonerConnectorContext summarizes the backends a policy version's
// content can serve, in first-declared order: every distinct
// (reasoner, reasoner_version) pair its fragments are tagged with.
func reasonerConnectorContext(p policystore.Policy) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range p.Content {
		key := f.Reasoner + "/" + f.ReasonerVersion
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

type policySummary struct {
	Version                  int       `json:"version"`
	Creator                  string    `json:"creator"`
	CreatedAt                time.Time `json:"created_at"`
	VersionDescription       string    `json:"version_description"`
	ReasonerConnectorContext []string  `json:"reasoner_connector_context"`
}

func toPolicySummary(p policystore.Policy) policySummary {
	return policySummary{
		Version:                  p.Version,
		Creator:                  p.Creator,
		CreatedAt:                p.CreatedAt,
		VersionDescription:       p.VersionDescription,
		ReasonerConnectorContext: reasonerConnectorContext(p),
	}
}

func (h *ManagementHandler) auditAdmin(c *fiber.Ctx, verb, policyVersion string) {
	if h.auditor == nil {
		return
	}
	claims, _ := authguard.ClaimsFromContext(c)
	_ = h.auditor.RecordAdmin(c.Context(), auditlog.AdminAuditInput{
		Verb:           verb,
		Caller:         claims.Subject,
		RequestPayload: string(c.Body()),
		PolicyVersion:  policyVersion,
		Timestamp:      time.Now().UTC(),
	})
}

// ListPolicies returns every policy version in the library, oldest first.
func (h *ManagementHandler) ListPolicies(c *fiber.Ctx) error {
	policies, err := h.store.List()
	if err != nil {
		return internalError(c, err.Error())
	}
	h.auditAdmin(c, VerbListPolicies, "")

	summaries := make([]policySummary, len(policies))
	for i, p := range policies {
		summaries[i] = toPolicySummary(p)
	}
	return c.JSON(fiber.Map{"policies": summaries})
}

type addPolicyRequest struct {
	Description        string                 `json:"description"`
	VersionDescription string                 `json:"version_description"`
	Content            []policystore.Fragment `json:"content"`
}

// AddPolicy stores a new immutable policy version. The creator is the
// caller's own JWT identity, never a client-supplied field — a policy's
// provenance must be traceable to a real credential.
func (h *ManagementHandler) AddPolicy(c *fiber.Ctx) error {
	var req addPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.VersionDescription == "" {
		return badRequest(c, "version_description is required")
	}

	claims, _ := authguard.ClaimsFromContext(c)
	p, err := h.store.Insert(req.Description, req.VersionDescription, claims.Subject, req.Content)
	if err != nil {
		return internalError(c, err.Error())
	}
	h.auditAdmin(c, VerbAddPolicy, strconv.Itoa(p.Version))
	return c.Status(fiber.StatusCreated).JSON(p)
}

// GetPolicy returns one full policy version, content included.
func (h *ManagementHandler) GetPolicy(c *fiber.Ctx) error {
	version, err := strconv.Atoi(c.Params("version"))
	if err != nil {
		return badRequest(c, "version must be an integer")
	}

	p, err := h.store.Get(version)
	if err != nil {
		if isStoreLookupError(err) {
			return notFound(c, "policy version not found: "+c.Params("version"))
		}
		return internalError(c, err.Error())
	}
	h.auditAdmin(c, VerbGetPolicy, strconv.Itoa(version))
	return c.JSON(p)
}

// GetActivePolicy returns the library's current active version.
func (h *ManagementHandler) GetActivePolicy(c *fiber.Ctx) error {
	p, err := h.store.GetActive()
	if err != nil {
		if isStoreLookupError(err) {
			h.auditAdmin(c, VerbGetActive, "")
			return notFound(c, "no active policy")
		}
		return internalError(c, err.Error())
	}
	h.auditAdmin(c, VerbGetActive, strconv.Itoa(p.Version))
	return c.JSON(p)
}

type setActiveRequest struct {
	Version int `json:"version"`
}

// SetActive activates a policy version for the whole library.
func (h *ManagementHandler) SetActive(c *fiber.Ctx) error {
	var req setActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	claims, _ := authguard.ClaimsFromContext(c)
	if err := h.store.Activate(req.Version, claims.Subject); err != nil {
		if isStoreLookupError(err) {
			return notFound(c, "policy version not found")
		}
		return internalError(c, err.Error())
	}
	h.auditAdmin(c, VerbSetActive, strconv.Itoa(req.Version))
	return c.JSON(fiber.Map{"active_version": req.Version, "activated_at": time.Now().UTC()})
}

// UnsetActive deactivates the library, so deliberations fail closed
// with Deny(NoActivePolicy) until a new version is activated.
func (h *ManagementHandler) UnsetActive(c *fiber.Ctx) error {
	claims, _ := authguard.ClaimsFromContext(c)
	if err := h.store.Deactivate(claims.Subject); err != nil {
		return internalError(c, err.Error())
	}
	h.auditAdmin(c, VerbUnsetActive, "")
	return c.JSON(fiber.Map{"active_version": nil})
}
