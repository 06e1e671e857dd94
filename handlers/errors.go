package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"game-reward-ledger/ledger"
)

// statusFor maps a ledger error class to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateSession), errors.Is(err, ledger.ErrState):
		return fiber.StatusConflict
	case errors.Is(err, ledger.ErrExternalCall):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorBody(err error) fiber.Map {
	body := fiber.Map{"error": err.Error()}
	if kind := ledger.KindOf(err); kind != nil {
		body["code"] = kind.Code()
	}
	var le *ledger.Error
	if errors.As(err, &le) {
		if le.SessionID != "" {
			body["session_id"] = le.SessionID
		}
		if le.Index != ledger.NoIndex {
			body["entry"] = le.Index
		}
	}
	if ledger.IsRetriable(err) {
		body["retriable"] = true
	}
	return body
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [API] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error", "cause": err.Error()})
	}
	return c.Status(status).JSON(errorBody(err))
}
