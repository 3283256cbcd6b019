// handlers/contest_routes.go
package handlers

import (
	"errors"

	"referral-reward-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ContestHandler adapts the contest engine to the admin HTTP surface.
type ContestHandler struct {
	Svc *services.ContestService
}

func SetupContestRoutes(app *fiber.App, svc *services.ContestService) {
	h := &ContestHandler{Svc: svc}

	contests := app.Group("/s/contests")
	contests.Post("/", h.Create)
	contests.Get("/", h.List)
	contests.Get("/:id", h.Get)
	contests.Post("/:id/sync", h.Sync)
	contests.Post("/:id/cleanup", h.Cleanup)
	contests.Get("/:id/leaderboard", h.Leaderboard)
	contests.Get("/:id/stats", h.Stats)
	contests.Post("/:id/virtual", h.AddVirtual)
	contests.Get("/:id/virtual", h.ListVirtual)
	contests.Delete("/:id/virtual/:vid", h.DeleteVirtual)
}

func notFoundOr500(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "contest not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func (h *ContestHandler) Create(c *fiber.Ctx) error {
	var params services.CreateContestParams
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	contest, err := h.Svc.CreateContest(params)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(contest)
}

func (h *ContestHandler) List(c *fiber.Ctx) error {
	contests, err := h.Svc.ListContests(c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(contests)
}

func (h *ContestHandler) Get(c *fiber.Ctx) error {
	contest, err := h.Svc.GetContest(c.Params("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(contest)
}

func (h *ContestHandler) Sync(c *fiber.Ctx) error {
	stats, err := h.Svc.SyncContest(c.Params("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(stats)
}

func (h *ContestHandler) Cleanup(c *fiber.Ctx) error {
	stats, err := h.Svc.CleanupContest(c.Params("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(stats)
}

func (h *ContestHandler) Leaderboard(c *fiber.Ctx) error {
	entries, err := h.Svc.Leaderboard(c.Params("id"), c.QueryInt("limit", 0))
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (h *ContestHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.Svc.Stats(c.Params("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.JSON(stats)
}

type virtualRequest struct {
	DisplayName      string `json:"display_name"`
	ReferralCount    int64  `json:"referral_count"`
	TotalAmountCents int64  `json:"total_amount_cents"`
}

func (h *ContestHandler) AddVirtual(c *fiber.Ctx) error {
	var req virtualRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.DisplayName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "display_name is required"})
	}

	vp, err := h.Svc.AddVirtualParticipant(c.Params("id"), req.DisplayName, req.ReferralCount, req.TotalAmountCents)
	if err != nil {
		return notFoundOr500(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(vp)
}

func (h *ContestHandler) ListVirtual(c *fiber.Ctx) error {
	vps, err := h.Svc.ListVirtualParticipants(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(vps)
}

func (h *ContestHandler) DeleteVirtual(c *fiber.Ctx) error {
	deleted, err := h.Svc.DeleteVirtualParticipant(c.Params("vid"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "virtual participant not found"})
	}
	return c.JSON(fiber.Map{"deleted": true})
}
