package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleService    = "service" // backend callers: registration, action handlers

	maxUserIDLength = 64
)

// UserContextMiddleware extracts user identity and roles set by Gateway.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "missing X-User-ID: request must come through gateway with auth context",
			})
		}
		if len(userID) > maxUserIDLength {
			log.Printf("❌ [USER_CTX] X-User-ID of %d bytes rejected on %s", len(userID), c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_user_id",
				"message": "X-User-ID is longer than 64 characters",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)
		return c.Next()
	}
}

// AdminOnly must run after UserContextMiddleware.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, RoleAdmin, RoleSuperAdmin) {
			log.Printf("🚫 [USER_CTX] %s denied admin route %s (roles=%v)", UserID(c), c.Path(), Roles(c))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "admin role required",
			})
		}
		return c.Next()
	}
}

// ServiceOnly admits backend services acting on behalf of other users.
// Must run after UserContextMiddleware.
func ServiceOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, RoleService) {
			log.Printf("🚫 [USER_CTX] %s denied service route %s (roles=%v)", UserID(c), c.Path(), Roles(c))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "service role required",
			})
		}
		return c.Next()
	}
}

func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func Roles(c *fiber.Ctx) []string {
	roles, _ := c.Locals("user_roles").([]string)
	return roles
}

// HasRole reports whether the caller holds any of roles.
func HasRole(c *fiber.Ctx, roles ...string) bool {
	for _, have := range Roles(c) {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
