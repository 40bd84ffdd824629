// handlers/tracking_routes.go
package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"quest-reward-system/geo"
	"quest-reward-system/middleware"
	"quest-reward-system/services"
	"quest-reward-system/tracking"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// TrackingHandler adapts the HTTP push feed of position samples to
// presence-tracking sessions.
type TrackingHandler struct {
	// BaseCtx bounds every session's lifetime to the process.
	BaseCtx  context.Context
	Registry *tracking.Registry
	Quests   *services.QuestService
	Ledger   *services.LedgerService
}

type sampleRequest struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	AccuracyMeters float64  `json:"accuracy_meters"`
	CapturedAtMs   int64    `json:"captured_at_ms"`
	Altitude       *float64 `json:"altitude,omitempty"`
}

// SetupTrackingRoutes registers the watch-session endpoints.
func SetupTrackingRoutes(app *fiber.App, h *TrackingHandler) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/quests/:id/track/start", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		questID := c.Params("id")

		quest, err := h.Quests.Get(questID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quest not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}

		// Ledger check first: a finished quest never gets a second watch.
		if _, err := h.Ledger.StartAttempt(userID, questID); err != nil {
			switch {
			case errors.Is(err, services.ErrAlreadyCompleted):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "quest already completed"})
			case errors.Is(err, services.ErrQuestNotActive):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quest is not published"})
			case errors.Is(err, services.ErrQuestNotFound):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quest not found"})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start attempt"})
			}
		}

		var sess *tracking.Session
		sess = tracking.NewSession(
			userID, questID,
			geo.Point{Latitude: quest.Latitude, Longitude: quest.Longitude},
			quest.VerificationRadiusMeters,
			func(u, q string) {
				if _, err := h.Ledger.RecordVerified(u, q); err != nil {
					log.Printf("🚨 Failed to record verification: user=%s quest=%s: %v", u, q, err)
				}
			},
			tracking.WithRelease(func() {
				// Abandoned (not completed) watches free the attempt for retry.
				if sess.State() == tracking.StateAborted {
					if err := h.Ledger.AbandonAttempt(userID, questID); err != nil {
						log.Printf("⚠️ Failed to abandon attempt: user=%s quest=%s: %v", userID, questID, err)
					}
				}
			}),
		)

		if err := h.Registry.Start(h.BaseCtx, sess); err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a tracking session is already active"})
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"state":         sess.State(),
			"radius_meters": quest.VerificationRadiusMeters,
			"dwell_ms":      tracking.DwellDuration.Milliseconds(),
		})
	})

	secured.Post("/quests/:id/track/sample", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		questID := c.Params("id")

		var req sampleRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		smp := tracking.Sample{
			Latitude:       req.Latitude,
			Longitude:      req.Longitude,
			AccuracyMeters: req.AccuracyMeters,
			CapturedAt:     time.UnixMilli(req.CapturedAtMs),
			Altitude:       req.Altitude,
		}
		if err := h.Registry.Push(userID, questID, smp); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no active tracking session"})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
	})

	secured.Post("/quests/:id/track/cancel", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		questID := c.Params("id")

		if err := h.Registry.Cancel(userID, questID); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no active tracking session"})
		}
		return c.JSON(fiber.Map{"state": tracking.StateAborted})
	})

	secured.Get("/quests/:id/track/status", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		questID := c.Params("id")

		if sess, ok := h.Registry.Session(userID, questID); ok {
			resp := fiber.Map{
				"state": sess.State(),
				"drops": sess.Drops(),
			}
			if started := sess.DwellStartedAt(); started != nil {
				resp["dwell_started_at"] = started
			}
			return c.JSON(resp)
		}

		// No live session: report the ledger's view.
		completion, err := h.Ledger.CompletionFor(userID, questID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no session or completion for this quest"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(fiber.Map{"completion_status": completion.Status})
	})
}
