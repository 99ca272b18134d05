// Package middleware provides HTTP middleware for the transfer API: caller
// authentication and permission checks on top of fiber.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"ocstransfer/internal/models"
	"ocstransfer/internal/utils"
	"ocstransfer/internal/utils/response"
)

// AuthMiddleware validates the caller's JWT and stores its claims in the
// request context under "claims".
type AuthMiddleware struct {
	secret string
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	if secret == "" {
		panic("jwt secret is required")
	}
	return &AuthMiddleware{secret: secret}
}

// Handler checks for a Bearer token with a valid signature and expiry.
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return response.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return response.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := utils.ParseToken(m.secret, strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		log.Warnw("token validation failed", "path", c.Path(), "error", err)
		return response.Error(c, fiber.StatusUnauthorized, "invalid token")
	}

	c.Locals("claims", claims)
	c.Locals("callerID", claims.CallerID())
	return c.Next()
}

// HasPermission returns a middleware that checks for a specific permission.
// Operators and the system role pass every check.
func HasPermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*models.CallerClaims)
		if !ok {
			return response.Unauthorized(c)
		}
		if claims.HasRole(models.RoleSystem) || claims.HasPermission(permission) {
			return c.Next()
		}
		log.Infow("permission denied", "caller", claims.CallerID(), "permission", permission)
		return response.Forbidden(c)
	}
}
