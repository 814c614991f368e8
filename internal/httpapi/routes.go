package httpapi

import (
	"github.com/epi-checker/checker/internal/authguard"
	"github.com/epi-checker/checker/pkg/deliberation"
	"github.com/epi-checker/checker/pkg/policystore"
	"github.com/gofiber/fiber/v2"
)

// Setup configures every route this service exposes, grouped by the two
// independently guarded endpoint families the spec requires.
func Setup(app *fiber.App, engine *deliberation.Engine, store *policystore.Store, auditor ManagementAuditor, deliberationGuard, managementGuard *authguard.Guard) {
	v1 := app.Group("/v1")

	setupHealthRoutes(v1)
	setupDeliberationRoutes(v1, engine, deliberationGuard)
	setupManagementRoutes(v1, store, auditor, managementGuard)
}

func setupHealthRoutes(v1 fiber.Router) {
	h := NewHealthHandler()
	health := v1.Group("/health")

	health.Get("/", h.Status)
	health.Get("/ready", h.Ready)
	health.Get("/live", h.Live)
}

// setupDeliberationRoutes configures the /v1/deliberation/* family,
// guarded by the deliberation JWKS — the credential orchestrators use to
// ask questions, distinct from the credential that can rewrite policy.
func setupDeliberationRoutes(v1 fiber.Router, engine *deliberation.Engine, guard *authguard.Guard) {
	h := NewDeliberationHandler(engine)
	deliberationGroup := v1.Group("/deliberation", authguard.Middleware(guard))

	deliberationGroup.Post("/execute-workflow", h.ExecuteWorkflow)
	deliberationGroup.Post("/execute-task", h.ExecuteTask)
	deliberationGroup.Post("/access-data", h.AccessData)
}

// setupManagementRoutes configures the /v1/management/policies* family,
// guarded independently of deliberation, against the single global
// policy library (spec.md §6).
func setupManagementRoutes(v1 fiber.Router, store *policystore.Store, auditor ManagementAuditor, guard *authguard.Guard) {
	h := NewManagementHandler(store, auditor)
	management := v1.Group("/management", authguard.Middleware(guard))

	policies := management.Group("/policies")
	policies.Get("/", h.ListPolicies)
	policies.Post("/", h.AddPolicy)
	policies.Get("/active", h.GetActivePolicy)
	policies.Put("/active", h.SetActive)
	policies.Delete("/active", h.UnsetActive)
	policies.Get("/:version", h.GetPolicy)
}
