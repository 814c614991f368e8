package authguard

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const localsClaimsKey = "authguard.claims"

// Middleware builds a Fiber handler that validates the Authorization
// header's bearer token against guard and stores the resulting Claims in
// Locals for downstream handlers.
func Middleware(guard *Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header && header != "" {
			// Header present but not bearer-prefixed: treat as missing
			// rather than guessing at the scheme.
			token = ""
		}

		claims, err := guard.Validate(c.Context(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(localsClaimsKey, claims)
		return c.Next()
	}
}

// ClaimsFromContext retrieves the Claims a Middleware stored on this
// request, if any ran.
func ClaimsFromContext(c *fiber.Ctx) (Claims, bool) {
	claims, ok := c.Locals(localsClaimsKey).(Claims)
	return claims, ok
}
