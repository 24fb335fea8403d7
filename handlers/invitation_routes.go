package handlers

import (
	"progression-gate/middleware"
	"progression-gate/models"
	"progression-gate/services"

	"github.com/gofiber/fiber/v2"
)

type generateInvitationsRequest struct {
	MaxUses       int    `json:"max_uses"`
	ExpiresInDays int    `json:"expires_in_days"`
	Notes         string `json:"notes" validate:"max=500"`
	Code          string `json:"code"`
	Count         int    `json:"count"`
}

type consumeInvitationRequest struct {
	Code   string `json:"code" validate:"required"`
	UserID string `json:"user_id" validate:"required,max=64"`
}

func setupInvitationRoutes(public, secured, admin fiber.Router, svc *services.InvitationService) {
	// 🔓 registration form pre-check, never consumes
	public.Get("/invitations/:code/status", func(c *fiber.Ctx) error {
		v, err := svc.Get(c.UserContext(), c.Params("code"), false)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"code":   v.Code,
			"status": v.Status,
			"valid":  v.Status == models.InvitationActive,
		})
	})

	// called by the registration service once the new account exists
	secured.Post("/internal/invitations/consume", middleware.ServiceOnly(), func(c *fiber.Ctx) error {
		var req consumeInvitationRequest
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		v, err := svc.ValidateAndConsume(c.UserContext(), req.Code, req.UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"code":           v.Code,
			"status":         v.Status,
			"remaining_uses": v.RemainingUses,
		})
	})

	admin.Post("/invitations", func(c *fiber.Ctx) error {
		var req generateInvitationsRequest
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		codes, err := svc.Generate(c.UserContext(), services.GenerateInput{
			MaxUses:       req.MaxUses,
			ExpiresInDays: req.ExpiresInDays,
			Notes:         req.Notes,
			Code:          req.Code,
			Count:         req.Count,
			CreatedBy:     middleware.UserID(c),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"invitations": svc.Views(codes),
		})
	})

	admin.Get("/invitations", func(c *fiber.Ctx) error {
		page := c.QueryInt("page", 1)
		size := c.QueryInt("size", 20)
		views, total, err := svc.List(c.UserContext(), models.InvitationStatus(c.Query("status")), page, size)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"invitations": views,
			"total":       total,
			"page":        page,
			"size":        size,
		})
	})

	// registered before /:code so "stats" is not read as a code
	admin.Get("/invitations/stats", func(c *fiber.Ctx) error {
		stats, err := svc.Stats(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	admin.Get("/invitations/:code", func(c *fiber.Ctx) error {
		v, err := svc.Get(c.UserContext(), c.Params("code"), true)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(v)
	})

	admin.Post("/invitations/:code/revoke", func(c *fiber.Ctx) error {
		v, err := svc.Revoke(c.UserContext(), c.Params("code"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(v)
	})

	admin.Post("/invitations/:code/reactivate", func(c *fiber.Ctx) error {
		v, err := svc.Reactivate(c.UserContext(), c.Params("code"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(v)
	})
}
