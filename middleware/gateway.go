package middleware

import (
	"crypto/subtle"
	"strings"

	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
)

// ServiceTokenAuth guards the admin API. The gateway sends "Bearer <token>";
// a raw token is accepted as well.
func ServiceTokenAuth(expectedToken string) fiber.Handler {
	if expectedToken == "" {
		utils.Log.Fatal("❌ SERVICE_TOKEN is not set, admin API cannot authenticate callers")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			authHeader = c.Get("X-Service-Token")
		}
		if authHeader == "" {
			utils.Log.WithField("path", c.Path()).Warn("🚫 [SERVICE_AUTH] missing token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "service token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			utils.Log.WithField("path", c.Path()).Warn("❌ [SERVICE_AUTH] invalid token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
			})
		}
		return c.Next()
	}
}
