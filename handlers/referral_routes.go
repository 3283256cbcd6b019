// handlers/referral_routes.go
package handlers

import (
	"referral-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

// ReferralHandler exposes the live crediting paths to upstream services.
type ReferralHandler struct {
	Svc *services.ReferralService
}

func SetupReferralRoutes(app *fiber.App, svc *services.ReferralService) {
	h := &ReferralHandler{Svc: svc}

	referrals := app.Group("/s/referrals")
	referrals.Post("/registration", h.Registration)
	referrals.Post("/topup", h.Topup)
	referrals.Post("/purchase", h.Purchase)
}

type referralEventRequest struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}

func (h *ReferralHandler) Registration(c *fiber.Ctx) error {
	var req referralEventRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}

	if err := h.Svc.ProcessRegistration(req.UserID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ReferralHandler) Topup(c *fiber.Ctx) error {
	var req referralEventRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}
	if req.AmountCents <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount_cents must be positive"})
	}

	if err := h.Svc.ProcessTopup(req.UserID, req.AmountCents); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ReferralHandler) Purchase(c *fiber.Ctx) error {
	var req referralEventRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}
	if req.AmountCents <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount_cents must be positive"})
	}

	if err := h.Svc.ProcessPurchase(req.UserID, req.AmountCents); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true})
}
