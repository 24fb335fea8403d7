package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func buildTestApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret"))
	s := app.Group("/s", UserContextMiddleware())
	s.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": UserID(c), "roles": Roles(c)})
	})
	s.Post("/internal/ping", ServiceOnly(), func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	s.Group("/admin", AdminOnly()).Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	return app
}

func TestMiddlewareChain(t *testing.T) {
	app := buildTestApp()
	cases := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"no gateway token", http.MethodGet, "/s/whoami", nil, http.StatusUnauthorized},
		{"raw gateway token", http.MethodGet, "/s/whoami", map[string]string{"Authorization": "secret", "X-User-ID": "u1"}, http.StatusOK},
		{"no user id", http.MethodGet, "/s/whoami", map[string]string{"Authorization": "Bearer secret"}, http.StatusUnauthorized},
		{"plain user on admin", http.MethodGet, "/s/admin/ping", map[string]string{"Authorization": "Bearer secret", "X-User-ID": "u1", "X-User-Roles": "user"}, http.StatusForbidden},
		{"admin", http.MethodGet, "/s/admin/ping", map[string]string{"Authorization": "Bearer secret", "X-User-ID": "u1", "X-User-Roles": "user, admin"}, http.StatusOK},
		{"super admin", http.MethodGet, "/s/admin/ping", map[string]string{"Authorization": "Bearer secret", "X-User-ID": "u1", "X-User-Roles": "super_admin"}, http.StatusOK},
		{"oversized user id", http.MethodGet, "/s/whoami", map[string]string{"Authorization": "Bearer secret", "X-User-ID": strings.Repeat("x", 65)}, http.StatusBadRequest},
		{"user on service route", http.MethodPost, "/s/internal/ping", map[string]string{"Authorization": "Bearer secret", "X-User-ID": "u1", "X-User-Roles": "user"}, http.StatusForbidden},
		{"admin on service route", http.MethodPost, "/s/internal/ping", map[string]string{"Authorization": "Bearer secret", "X-User-ID": "u1", "X-User-Roles": "admin"}, http.StatusForbidden},
		{"service", http.MethodPost, "/s/internal/ping", map[string]string{"Authorization": "Bearer secret", "X-User-ID": "registration", "X-User-Roles": "service"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("got %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}
