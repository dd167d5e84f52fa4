package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Ops            *handlers.OpsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", observability.MetricsHandler())

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/activity", cfg.Tickets.ListActivity)
	tickets.Post("/:id/status", cfg.Tickets.UpdateStatus)
	tickets.Post("/:id/reopen", cfg.Tickets.Reopen)
	tickets.Post("/:id/tat", auth.RequireElevated(), cfg.Tickets.SetTAT)
	tickets.Post("/:id/tat/extend", auth.RequireElevated(), cfg.Tickets.ExtendTAT)
	tickets.Post("/:id/forward", auth.RequireElevated(), cfg.Tickets.Forward)

	// scheduler entry points, also reachable for manual operations
	internal := app.Group("/internal", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	internal.Post("/escalations/run", cfg.Ops.RunEscalations)
	internal.Post("/outbox/flush", cfg.Ops.FlushOutbox)
}
