package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"progression-gate/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func statusFor(r services.Reason) int {
	switch {
	case r.IsValidation():
		return fiber.StatusUnprocessableEntity
	case r == services.ReasonNotFound:
		return fiber.StatusNotFound
	case r == services.ReasonDailyLimitReached:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusConflict
	}
}

// requestError is a malformed request rejected before reaching a service.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.code + ": " + e.msg }

// respondError renders engine failures by reason; anything else is a 500.
func respondError(c *fiber.Ctx, err error) error {
	var re *requestError
	if errors.As(err, &re) {
		return c.Status(re.status).JSON(fiber.Map{"error": re.code, "message": re.msg})
	}
	if reason, ok := services.ReasonOf(err); ok {
		log.Printf("⚠️ [HTTP] %s %s → %s", c.Method(), c.Path(), err)
		return c.Status(statusFor(reason)).JSON(fiber.Map{
			"error":   string(reason),
			"message": err.Error(),
		})
	}
	log.Printf("❌ [HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": "internal server error",
	})
}

// bind parses the JSON body into req and runs its validate tags.
func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return &requestError{status: fiber.StatusBadRequest, code: "invalid_body", msg: err.Error()}
	}
	if err := validate.Struct(req); err != nil {
		return &requestError{status: fiber.StatusUnprocessableEntity, code: "invalid_request", msg: describeValidation(err)}
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
