// handlers/diagnostics_routes.go
package handlers

import (
	"fmt"
	"time"

	"referral-reward-system/services"
	"referral-reward-system/utils"

	"github.com/gofiber/fiber/v2"
)

// DiagnosticsHandler adapts the diagnostic service to the admin HTTP surface.
type DiagnosticsHandler struct {
	Svc *services.DiagnosticService
}

func SetupDiagnosticsRoutes(app *fiber.App, svc *services.DiagnosticService) {
	h := &DiagnosticsHandler{Svc: svc}

	diag := app.Group("/s/diagnostics")
	diag.Post("/run", h.Run)
	diag.Get("/today", h.Today)
	diag.Post("/analyze-file", h.AnalyzeFile)
	diag.Post("/analyze-archive", h.AnalyzeArchive)
	diag.Post("/fixes/preview", h.PreviewFixes)
	diag.Post("/fixes/apply", h.ApplyFixes)
	diag.Get("/missing-bonuses", h.MissingBonuses)
	diag.Post("/missing-bonuses/apply", h.FixMissingBonuses)
}

type analyzeRequest struct {
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Path           string `json:"path,omitempty"`
	Key            string `json:"key,omitempty"`
	SkipDateFilter bool   `json:"skip_date_filter,omitempty"`
}

// parseWindow accepts date-only or RFC3339 bounds; a date-only end is widened
// to cover the whole day.
func parseWindow(startRaw, endRaw string) (time.Time, time.Time, error) {
	parse := func(raw string) (time.Time, bool, error) {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t.UTC(), true, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid time %q (want YYYY-MM-DD or RFC3339)", raw)
		}
		return t.UTC(), false, nil
	}

	start, _, err := parse(startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, dateOnly, err := parse(endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if dateOnly {
		end = end.Add(24 * time.Hour)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return start, end, nil
}

func (h *DiagnosticsHandler) Run(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	report, err := h.Svc.AnalyzePeriod(start, end)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

func (h *DiagnosticsHandler) Today(c *fiber.Ctx) error {
	report, err := h.Svc.AnalyzeToday()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

func (h *DiagnosticsHandler) AnalyzeFile(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path is required"})
	}
	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	report, err := h.Svc.AnalyzeFile(req.Path, start, end, req.SkipDateFilter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

func (h *DiagnosticsHandler) AnalyzeArchive(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key is required"})
	}
	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	body, err := utils.OpenLogArchive(c.Context(), req.Key)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	defer body.Close()

	// Archives span arbitrary dates, so the prefix filter is off.
	report, err := h.Svc.AnalyzeReader(body, start, end, true)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

type fixRequest struct {
	analyzeRequest
	Cases []services.LostReferral `json:"cases,omitempty"`
}

// resolveCases takes explicit cases from the body, or re-runs the analysis
// over the given window when none were supplied.
func (h *DiagnosticsHandler) resolveCases(req fixRequest) ([]services.LostReferral, error) {
	if len(req.Cases) > 0 {
		return req.Cases, nil
	}
	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	report, err := h.Svc.AnalyzePeriod(start, end)
	if err != nil {
		return nil, err
	}
	return report.Lost, nil
}

func (h *DiagnosticsHandler) PreviewFixes(c *fiber.Ctx) error {
	var req fixRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	cases, err := h.resolveCases(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	report, err := h.Svc.PreviewFixes(c.Context(), cases)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

func (h *DiagnosticsHandler) ApplyFixes(c *fiber.Ctx) error {
	var req fixRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	cases, err := h.resolveCases(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	report, err := h.Svc.ApplyFixes(c.Context(), cases)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

func (h *DiagnosticsHandler) MissingBonuses(c *fiber.Ctx) error {
	missing, err := h.Svc.CheckMissingBonuses()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"count": len(missing), "missing": missing})
}

func (h *DiagnosticsHandler) FixMissingBonuses(c *fiber.Ctx) error {
	preview := c.QueryBool("preview", false)
	report, err := h.Svc.FixMissingBonuses(c.Context(), preview)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}
