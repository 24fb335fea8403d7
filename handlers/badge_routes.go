package handlers

import (
	"fmt"
	"log"
	"mime/multipart"
	"path/filepath"
	"strings"

	"progression-gate/middleware"
	"progression-gate/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const maxIconBytes = 1 << 20

var iconTypes = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

type awardBadgeRequest struct {
	BadgeKey string `json:"badge_key" validate:"required,max=64"`
}

type activeBadgeRequest struct {
	BadgeKey *string `json:"badge_key" validate:"omitempty,max=64"`
}

type defineBadgeRequest struct {
	Key         string `json:"key" form:"key" validate:"max=64"`
	Name        string `json:"name" form:"name" validate:"required,max=80"`
	Description string `json:"description" form:"description" validate:"max=500"`
	Rarity      string `json:"rarity" form:"rarity"`
	MinLevel    int    `json:"min_level" form:"min_level"`
}

func setupBadgeRoutes(public, secured, admin fiber.Router, badges *services.BadgeService, progression *services.ProgressionService, icons IconStore) {
	public.Get("/badges", func(c *fiber.Ctx) error {
		defs, err := badges.Catalog(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"badges": defs})
	})

	secured.Get("/user/badges", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		held, err := badges.UserBadges(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		prog, err := progression.GetProgress(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"badges":       held,
			"active_badge": prog.ActiveBadge,
		})
	})

	secured.Put("/user/badges/active", func(c *fiber.Ctx) error {
		return setActive(c, badges, middleware.UserID(c))
	})

	admin.Post("/users/:user_id/badges", func(c *fiber.Ctx) error {
		var req awardBadgeRequest
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		ub, err := badges.Award(c.UserContext(), c.Params("user_id"), req.BadgeKey, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(ub)
	})

	admin.Delete("/users/:user_id/badges/:badge_key", func(c *fiber.Ctx) error {
		cleared, err := badges.Remove(c.UserContext(), c.Params("user_id"), c.Params("badge_key"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"removed":        c.Params("badge_key"),
			"active_cleared": cleared,
		})
	})

	admin.Put("/users/:user_id/badges/active", func(c *fiber.Ctx) error {
		return setActive(c, badges, c.Params("user_id"))
	})

	// multipart with an optional "icon" file, or plain JSON without one
	admin.Post("/badges", func(c *fiber.Ctx) error {
		var req defineBadgeRequest
		if err := bind(c, &req); err != nil {
			return respondError(c, err)
		}
		in := services.DefineBadgeInput{
			Key:         strings.TrimSpace(req.Key),
			Name:        req.Name,
			Description: req.Description,
			Rarity:      req.Rarity,
			MinLevel:    req.MinLevel,
		}

		if fh, err := c.FormFile("icon"); err == nil {
			// nothing goes to R2 for a definition that would be rejected
			checked, err := badges.CheckDefinable(c.UserContext(), in)
			if err != nil {
				return respondError(c, err)
			}
			in.Key = checked.Key
			url, err := uploadIcon(c, icons, in.Key, fh)
			if err != nil {
				return respondError(c, err)
			}
			in.IconURL = url
		}

		def, err := badges.Define(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(def)
	})
}

func setActive(c *fiber.Ctx, badges *services.BadgeService, userID string) error {
	var req activeBadgeRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := badges.SetActive(c.UserContext(), userID, req.BadgeKey); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"active_badge": req.BadgeKey})
}

func uploadIcon(c *fiber.Ctx, icons IconStore, badgeKey string, fh *multipart.FileHeader) (string, error) {
	if icons == nil {
		return "", &requestError{status: fiber.StatusServiceUnavailable, code: "icon_upload_disabled", msg: "R2 is not configured"}
	}
	contentType := fh.Header.Get("Content-Type")
	ext, ok := iconTypes[contentType]
	if !ok {
		return "", &requestError{status: fiber.StatusUnprocessableEntity, code: "invalid_icon",
			msg: fmt.Sprintf("unsupported icon type %q (%s)", contentType, filepath.Ext(fh.Filename))}
	}
	if fh.Size > maxIconBytes {
		return "", &requestError{status: fiber.StatusUnprocessableEntity, code: "invalid_icon",
			msg: fmt.Sprintf("icon is %d bytes, limit is %d", fh.Size, maxIconBytes)}
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open icon: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("badges/%s-%s%s", badgeKey, uuid.NewString()[:8], ext)
	url, err := icons.Upload(c.UserContext(), key, contentType, f)
	if err != nil {
		return "", err
	}
	log.Printf("☁️ [BADGE] Icon for %s uploaded → %s", badgeKey, url)
	return url, nil
}
