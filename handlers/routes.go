package handlers

import (
	"context"
	"io"

	"progression-gate/middleware"
	"progression-gate/services"

	"github.com/gofiber/fiber/v2"
)

// IconStore uploads badge icons and returns their public URL.
type IconStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

type Deps struct {
	Invitations *services.InvitationService
	Progression *services.ProgressionService
	Badges      *services.BadgeService
	Icons       IconStore // nil disables icon upload
}

// SetupRoutes mounts everything behind the gateway middleware already
// installed on app. The gateway forwards /api/v1/progression/s/... as /s/...
func SetupRoutes(app *fiber.App, d Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 🔐 /s requires user context, /s/admin additionally an admin role
	secured := app.Group("/s", middleware.UserContextMiddleware())
	admin := secured.Group("/admin", middleware.AdminOnly())

	setupInvitationRoutes(app, secured, admin, d.Invitations)
	setupProgressionRoutes(app, secured, admin, d.Progression)
	setupBadgeRoutes(app, secured, admin, d.Badges, d.Progression, d.Icons)
}
