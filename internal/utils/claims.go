package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"ocstransfer/internal/models"
)

// GetCallerClaims extracts the caller claims stored by the auth middleware.
func GetCallerClaims(c *fiber.Ctx) (*models.CallerClaims, error) {
	v := c.Locals("claims")
	if v == nil {
		return nil, errors.New("claims not found in context")
	}

	claims, ok := v.(*models.CallerClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
