package ratelimit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shipbatch/shipbatch/internal/auth"
)

// Middleware enforces a per-principal request budget. It must run after the
// authentication middleware so the principal is already on the context. When
// the limiter itself fails the request is allowed through.
func Middleware(limiter RateLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		principal, ok := auth.PrincipalFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer credential")
		}

		allowed, err := limiter.Allow(c.Context(), strconv.FormatInt(principal.UserID, 10))
		if err != nil {
			return c.Next()
		}
		if !allowed {
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}

		return c.Next()
	}
}
