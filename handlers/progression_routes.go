package handlers

import (
	"progression-gate/middleware"
	"progression-gate/services"

	"github.com/gofiber/fiber/v2"
)

type awardRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Action string `json:"action" validate:"required,max=64"`
}

type adminProgressionRequest struct {
	Level *int   `json:"level"`
	EXP   *int64 `json:"exp"`
}

func setupProgressionRoutes(public, secured, admin fiber.Router, svc *services.ProgressionService) {
	public.Get("/progression/levels", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"catalog_version": services.CatalogVersion,
			"levels":          services.Levels,
		})
	})

	public.Get("/progression/actions", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"catalog_version": services.CatalogVersion,
			"actions":         services.ListActions(),
		})
	})

	secured.Get("/user/progress", func(c *fiber.Ctx) error {
		sum, err := svc.Summary(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(sum)
	})

	// action handlers report completed actions here; a 429 only means no EXP
	secured.Post("/progression/award", middleware.ServiceOnly(), func(c *fiber.Ctx) error {
		var req awardRequest
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		res, err := svc.Award(c.UserContext(), req.UserID, services.ActionKey(req.Action))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	admin.Put("/users/:user_id/progression", func(c *fiber.Ctx) error {
		var req adminProgressionRequest
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		res, err := svc.AdminSetProgression(c.UserContext(), c.Params("user_id"), services.AdminProgressionInput{
			Level: req.Level,
			EXP:   req.EXP,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	admin.Get("/users/:user_id/progress", func(c *fiber.Ctx) error {
		sum, err := svc.Summary(c.UserContext(), c.Params("user_id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(sum)
	})
}
