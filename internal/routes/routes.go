// Package routes defines the API routing configuration.
package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"ocstransfer/internal/handlers"
	"ocstransfer/internal/middleware"
	"ocstransfer/internal/models"
	"ocstransfer/internal/services/transfer"
)

// Dependencies are the collaborators the routes are served by. Metrics may
// be nil.
type Dependencies struct {
	Transfers transfer.Service
	Auth      *middleware.AuthMiddleware
	Health    *handlers.HealthHandler
	Metrics   http.Handler
}

// SetupRoutes registers the public probes and the authenticated transfer API.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	app.Get("/health", deps.Health.HealthCheck)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	transferHandler := handlers.NewTransferHandler(deps.Transfers)

	api := app.Group("/api", deps.Auth.Handler)
	api.Get("/denominations", transferHandler.Denominations)

	transfers := api.Group("/transfers")
	transfers.Post("/", middleware.HasPermission(models.PermissionTransferWrite), transferHandler.Submit)
	transfers.Post("/validate", middleware.HasPermission(models.PermissionTransferWrite), transferHandler.Validate)
	transfers.Get("/:id", middleware.HasPermission(models.PermissionTransferRead), transferHandler.Get)
}
