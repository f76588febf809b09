package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const principalLocal = "principal"

// Middleware validates the request's bearer credential and stores the
// principal for handlers. Missing or invalid credentials end the request with
// 401; an inactive principal with 403.
func Middleware(authenticator Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer credential")
		}

		principal, err := authenticator.Authenticate(c.Context(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid bearer credential")
		}
		if !principal.Active {
			return fiber.NewError(fiber.StatusForbidden, "inactive user")
		}

		c.Locals(principalLocal, principal)
		return c.Next()
	}
}

// PrincipalFromCtx returns the principal stored by Middleware.
func PrincipalFromCtx(c *fiber.Ctx) (*Principal, bool) {
	principal, ok := c.Locals(principalLocal).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	trimmed := strings.TrimSpace(header)
	if len(trimmed) <= len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(trimmed[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
