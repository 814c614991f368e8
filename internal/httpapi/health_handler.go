package httpapi

import "github.com/gofiber/fiber/v2"

// HealthHandler reports process liveness/readiness, independent of
// whether the policy library currently has an active version.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "service": "checker"})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ready", "service": "checker"})
}

func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive", "service": "checker"})
}
