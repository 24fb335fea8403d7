package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"progression-gate/middleware"
	"progression-gate/services"
	"progression-gate/storage"
	"progression-gate/storage/storagetest"

	"github.com/gofiber/fiber/v2"
)

type fakeIcons struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeIcons) Upload(_ context.Context, key, _ string, body io.Reader) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	return "https://cdn.test/" + key, nil
}

// buildTestApp wires the real services over an in-memory database.
func buildTestApp(t *testing.T, icons IconStore) *fiber.App {
	t.Helper()
	db := storagetest.OpenSQLite(t)
	badges := services.NewBadgeService(db)
	app := fiber.New()
	app.Use(middleware.GatewayAuthMiddleware("gw-secret"))
	SetupRoutes(app, Deps{
		Invitations: services.NewInvitationService(storage.NewInvitationStore(db)),
		Progression: services.NewProgressionService(db, storage.NewGormDailyCounter(db), badges, nil),
		Badges:      badges,
		Icons:       icons,
	})
	return app
}

type caller struct {
	userID string
	roles  string
}

var (
	anonymous = caller{}
	player    = caller{userID: "user-1", roles: "user"}
	operator  = caller{userID: "admin-1", roles: "user,admin"}
	backend   = caller{userID: "registration-svc", roles: "service"}
)

func call(t *testing.T, app *fiber.App, who caller, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, app, who, req)
}

func send(t *testing.T, app *fiber.App, who caller, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	req.Header.Set("Authorization", "Bearer gw-secret")
	if who.userID != "" {
		req.Header.Set("X-User-ID", who.userID)
		req.Header.Set("X-User-Roles", who.roles)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestGatewayTokenRequired(t *testing.T) {
	app := buildTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d", resp.StatusCode)
	}

	if code, _ := call(t, app, anonymous, http.MethodGet, "/health", nil); code != http.StatusOK {
		t.Fatalf("valid token: got %d", code)
	}
}

func TestAdminRoutesRBAC(t *testing.T) {
	app := buildTestApp(t, nil)

	if code, _ := call(t, app, anonymous, http.MethodGet, "/s/admin/invitations", nil); code != http.StatusUnauthorized {
		t.Fatalf("no user context: got %d", code)
	}
	code, body := call(t, app, player, http.MethodGet, "/s/admin/invitations", nil)
	if code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("user role: got %d %v", code, body)
	}
	if code, _ := call(t, app, operator, http.MethodGet, "/s/admin/invitations", nil); code != http.StatusOK {
		t.Fatalf("admin role: got %d", code)
	}
	// users cannot award themselves EXP or spend codes for other accounts
	code, body = call(t, app, player, http.MethodPost, "/s/progression/award",
		map[string]string{"user_id": "user-1", "action": "sell_character"})
	if code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("user award: got %d %v", code, body)
	}
	code, body = call(t, app, player, http.MethodPost, "/s/internal/invitations/consume",
		map[string]string{"code": "ANY", "user_id": "someone"})
	if code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("user consume: got %d %v", code, body)
	}
	if code, _ := call(t, app, operator, http.MethodPost, "/s/progression/award",
		map[string]string{"user_id": "user-1", "action": "daily_login"}); code != http.StatusForbidden {
		t.Fatalf("admin award: got %d", code)
	}
	if code, _ := call(t, app, backend, http.MethodPost, "/s/progression/award",
		map[string]string{"user_id": "user-1", "action": "daily_login"}); code != http.StatusOK {
		t.Fatalf("service award: got %d", code)
	}

	superAdmin := caller{userID: "root", roles: "super_admin"}
	if code, _ := call(t, app, superAdmin, http.MethodGet, "/s/admin/invitations/stats", nil); code != http.StatusOK {
		t.Fatalf("super_admin role: got %d", code)
	}
}

func TestInvitationFlowOverHTTP(t *testing.T) {
	app := buildTestApp(t, nil)

	code, body := call(t, app, operator, http.MethodPost, "/s/admin/invitations",
		map[string]interface{}{"max_uses": 1, "code": "launch-day"})
	if code != http.StatusCreated {
		t.Fatalf("generate: %d %v", code, body)
	}
	invs := body["invitations"].([]interface{})
	if len(invs) != 1 || invs[0].(map[string]interface{})["code"] != "LAUNCH-DAY" {
		t.Fatalf("generated = %v", invs)
	}

	code, body = call(t, app, anonymous, http.MethodGet, "/invitations/launch-day/status", nil)
	if code != http.StatusOK || body["valid"] != true || body["status"] != "active" {
		t.Fatalf("pre-check: %d %v", code, body)
	}

	consume := map[string]string{"code": "LAUNCH-DAY", "user_id": "new-user-7"}
	code, body = call(t, app, backend, http.MethodPost, "/s/internal/invitations/consume", consume)
	if code != http.StatusOK || body["status"] != "exhausted" {
		t.Fatalf("consume: %d %v", code, body)
	}
	// registration retries for the same account are answered, not rejected
	code, body = call(t, app, backend, http.MethodPost, "/s/internal/invitations/consume", consume)
	if code != http.StatusOK || body["use_count"] != float64(1) {
		t.Fatalf("retried consume: %d %v", code, body)
	}
	code, body = call(t, app, backend, http.MethodPost, "/s/internal/invitations/consume",
		map[string]string{"code": "LAUNCH-DAY", "user_id": "new-user-8"})
	if code != http.StatusConflict || body["error"] != "exhausted" {
		t.Fatalf("second consumer: %d %v", code, body)
	}

	code, body = call(t, app, operator, http.MethodGet, "/s/admin/invitations/LAUNCH-DAY", nil)
	if code != http.StatusOK {
		t.Fatalf("detail: %d %v", code, body)
	}
	usedBy := body["used_by"].([]interface{})
	if len(usedBy) != 1 || usedBy[0].(map[string]interface{})["user_id"] != "new-user-7" {
		t.Fatalf("used_by = %v", usedBy)
	}

	if code, body = call(t, app, operator, http.MethodPost, "/s/admin/invitations/LAUNCH-DAY/reactivate", nil); code != http.StatusConflict || body["error"] != "not_revoked" {
		t.Fatalf("reactivate unrevoked: %d %v", code, body)
	}
	if code, body = call(t, app, operator, http.MethodPost, "/s/admin/invitations/LAUNCH-DAY/revoke", nil); code != http.StatusOK || body["status"] != "revoked" {
		t.Fatalf("revoke: %d %v", code, body)
	}

	code, body = call(t, app, operator, http.MethodGet, "/s/admin/invitations/stats", nil)
	if code != http.StatusOK || body["revoked"] != float64(1) {
		t.Fatalf("stats: %d %v", code, body)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	app := buildTestApp(t, nil)
	cases := []struct {
		name   string
		who    caller
		method string
		path   string
		body   interface{}
		status int
		reason string
	}{
		{"unknown code", anonymous, http.MethodGet, "/invitations/NOPE/status", nil, http.StatusNotFound, "not_found"},
		{"bad max_uses", operator, http.MethodPost, "/s/admin/invitations", map[string]int{"max_uses": 0}, http.StatusUnprocessableEntity, "invalid_max_uses"},
		{"bad status filter", operator, http.MethodGet, "/s/admin/invitations?status=weird", nil, http.StatusUnprocessableEntity, "invalid_status"},
		{"missing action", backend, http.MethodPost, "/s/progression/award", map[string]string{"user_id": "user-1"}, http.StatusUnprocessableEntity, "invalid_request"},
		{"unknown action", backend, http.MethodPost, "/s/progression/award", map[string]string{"user_id": "user-1", "action": "moonwalk"}, http.StatusUnprocessableEntity, "unknown_action"},
		{"bad level", operator, http.MethodPut, "/s/admin/users/u9/progression", map[string]int{"level": 9}, http.StatusUnprocessableEntity, "invalid_level"},
		{"unknown badge", operator, http.MethodPost, "/s/admin/users/u9/badges", map[string]string{"badge_key": "ghost"}, http.StatusUnprocessableEntity, "unknown_badge"},
		{"remove unheld", operator, http.MethodDelete, "/s/admin/users/u9/badges/pioneer", nil, http.StatusConflict, "not_held"},
		{"activate unheld", player, http.MethodPut, "/s/user/badges/active", map[string]string{"badge_key": "legend"}, http.StatusConflict, "not_held"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := call(t, app, tc.who, tc.method, tc.path, tc.body)
			if code != tc.status || body["error"] != tc.reason {
				t.Fatalf("got %d %v, want %d %s", code, body, tc.status, tc.reason)
			}
		})
	}
}

func TestAwardOverHTTP(t *testing.T) {
	app := buildTestApp(t, nil)

	login := map[string]string{"user_id": "user-1", "action": "daily_login"}
	code, body := call(t, app, backend, http.MethodPost, "/s/progression/award", login)
	if code != http.StatusOK || body["exp_granted"] != float64(10) {
		t.Fatalf("first login: %d %v", code, body)
	}
	code, body = call(t, app, backend, http.MethodPost, "/s/progression/award", login)
	if code != http.StatusTooManyRequests || body["error"] != "daily_limit_reached" {
		t.Fatalf("second login: %d %v", code, body)
	}

	code, body = call(t, app, player, http.MethodGet, "/s/user/progress", nil)
	if code != http.StatusOK || body["exp"] != float64(10) || body["level_name"] != "Newcomer" {
		t.Fatalf("progress: %d %v", code, body)
	}
	grants := body["grants_today"].(map[string]interface{})
	if grants["daily_login"] != float64(1) {
		t.Fatalf("grants_today = %v", grants)
	}
}

func TestAdminProgressionOverHTTP(t *testing.T) {
	app := buildTestApp(t, nil)

	code, body := call(t, app, operator, http.MethodPut, "/s/admin/users/u42/progression",
		map[string]int{"level": 5, "exp": 320})
	if code != http.StatusOK || body["level_adjusted"] != true {
		t.Fatalf("override: %d %v", code, body)
	}
	prog := body["progress"].(map[string]interface{})
	if prog["level"] != float64(3) || prog["exp"] != float64(320) {
		t.Fatalf("progress = %v", prog)
	}

	code, body = call(t, app, operator, http.MethodGet, "/s/admin/users/u42/progress", nil)
	if code != http.StatusOK {
		t.Fatalf("admin progress: %d %v", code, body)
	}
	if badges := body["badges"].([]interface{}); len(badges) != 2 {
		t.Fatalf("level badges = %v", badges)
	}
}

func TestBadgeAdminAndSelfService(t *testing.T) {
	app := buildTestApp(t, nil)

	if code, body := call(t, app, operator, http.MethodPost, "/s/admin/users/user-1/badges", map[string]string{"badge_key": "pioneer"}); code != http.StatusCreated {
		t.Fatalf("award: %d %v", code, body)
	}
	if code, body := call(t, app, operator, http.MethodPost, "/s/admin/users/user-1/badges", map[string]string{"badge_key": "pioneer"}); code != http.StatusConflict || body["error"] != "already_held" {
		t.Fatalf("second award: %d %v", code, body)
	}
	if code, body := call(t, app, player, http.MethodPut, "/s/user/badges/active", map[string]string{"badge_key": "pioneer"}); code != http.StatusOK {
		t.Fatalf("activate: %d %v", code, body)
	}

	code, body := call(t, app, player, http.MethodGet, "/s/user/badges", nil)
	if code != http.StatusOK || body["active_badge"] != "pioneer" {
		t.Fatalf("user badges: %d %v", code, body)
	}

	code, body = call(t, app, operator, http.MethodDelete, "/s/admin/users/user-1/badges/pioneer", nil)
	if code != http.StatusOK || body["active_cleared"] != true {
		t.Fatalf("remove: %d %v", code, body)
	}
	if _, body = call(t, app, player, http.MethodGet, "/s/user/badges", nil); body["active_badge"] != nil {
		t.Fatalf("active badge after removal = %v", body["active_badge"])
	}
}

func multipartBadge(t *testing.T, fields map[string]string, iconType string, icon []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if icon != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="icon"; filename="icon.png"`)
		h.Set("Content-Type", iconType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(icon); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/s/admin/badges", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestDefineBadgeWithIcon(t *testing.T) {
	icons := &fakeIcons{}
	app := buildTestApp(t, icons)

	req := multipartBadge(t, map[string]string{"name": "Night Owl", "rarity": "epic"}, "image/png", []byte("\x89PNG fake"))
	code, body := send(t, app, operator, req)
	if code != http.StatusCreated {
		t.Fatalf("define: %d %v", code, body)
	}
	if body["key"] != "night-owl" || !strings.HasPrefix(body["icon_url"].(string), "https://cdn.test/badges/night-owl-") {
		t.Fatalf("defined = %v", body)
	}
	if len(icons.keys) != 1 {
		t.Fatalf("uploads = %v", icons.keys)
	}

	req = multipartBadge(t, map[string]string{"name": "Night Owl"}, "", nil)
	if code, body = send(t, app, operator, req); code != http.StatusConflict || body["error"] != "badge_exists" {
		t.Fatalf("duplicate: %d %v", code, body)
	}

	// rejected definitions never reach R2
	req = multipartBadge(t, map[string]string{"name": "Night Owl"}, "image/png", []byte("\x89PNG other"))
	if code, body = send(t, app, operator, req); code != http.StatusConflict || body["error"] != "badge_exists" {
		t.Fatalf("duplicate with icon: %d %v", code, body)
	}
	req = multipartBadge(t, map[string]string{"name": "Shiny", "key": "Has Spaces"}, "image/png", []byte("\x89PNG"))
	if code, body = send(t, app, operator, req); code != http.StatusUnprocessableEntity || body["error"] != "invalid_badge" {
		t.Fatalf("bad key with icon: %d %v", code, body)
	}
	if len(icons.keys) != 1 {
		t.Fatalf("rejected definitions uploaded icons: %v", icons.keys)
	}

	req = multipartBadge(t, map[string]string{"name": "Gif Lover"}, "image/gif", []byte("GIF89a"))
	if code, body = send(t, app, operator, req); code != http.StatusUnprocessableEntity || body["error"] != "invalid_icon" {
		t.Fatalf("gif icon: %d %v", code, body)
	}

	code, body = call(t, app, anonymous, http.MethodGet, "/badges", nil)
	if code != http.StatusOK || len(body["badges"].([]interface{})) != 7 {
		t.Fatalf("catalog: %d %v", code, body)
	}
}

func TestDefineBadgeIconUploadDisabled(t *testing.T) {
	app := buildTestApp(t, nil)
	req := multipartBadge(t, map[string]string{"name": "Night Owl"}, "image/png", []byte("png"))
	if code, body := send(t, app, operator, req); code != http.StatusServiceUnavailable || body["error"] != "icon_upload_disabled" {
		t.Fatalf("got %d %v", code, body)
	}
}
