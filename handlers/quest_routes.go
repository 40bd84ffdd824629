// handlers/quest_routes.go
package handlers

import (
	"errors"
	"strconv"

	"quest-reward-system/geo"
	"quest-reward-system/middleware"
	"quest-reward-system/models"
	"quest-reward-system/services"
	"quest-reward-system/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupQuestRoutes registers the public catalog, proof uploads, and the admin
// quest CRUD surface.
func SetupQuestRoutes(app *fiber.App, questService *services.QuestService, ledgerService *services.LedgerService) {
	// Public catalog — gateway-authenticated but no user context required.
	app.Get("/quests", func(c *fiber.Ctx) error {
		var near *geo.Point
		latStr, lonStr := c.Query("lat"), c.Query("lon")
		if latStr != "" && lonStr != "" {
			lat, errLat := strconv.ParseFloat(latStr, 64)
			lon, errLon := strconv.ParseFloat(lonStr, 64)
			if errLat != nil || errLon != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid lat/lon"})
			}
			near = &geo.Point{Latitude: lat, Longitude: lon}
		}

		quests, err := questService.ListPublished(near)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list quests"})
		}
		return c.JSON(quests)
	})

	app.Get("/quests/:slug", func(c *fiber.Ctx) error {
		quest, err := questService.GetBySlug(c.Params("slug"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quest not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(quest)
	})

	// Proof photo upload — requires user context.
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/quests/:id/proof", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		questID := c.Params("id")

		completion, err := ledgerService.CompletionFor(userID, questID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no completion for this quest"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		if completion.Status == models.CompletionStatusRejected {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "completion was rejected"})
		}

		fileHeader, err := c.FormFile("photo")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "photo file required"})
		}

		key := utils.ProofObjectKey(completion.ID, fileHeader.Filename)
		url, err := utils.UploadProofPhoto(fileHeader, key)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upload failed", "cause": err.Error()})
		}

		photo, err := ledgerService.AttachProof(completion.ID, key, url)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to record proof"})
		}
		return c.Status(fiber.StatusCreated).JSON(photo)
	})

	// Admin CRUD.
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	admin.Post("/quests", func(c *fiber.Ctx) error {
		var in services.QuestInput
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		quest, err := questService.Create(in)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(quest)
	})

	admin.Put("/quests/:id", func(c *fiber.Ctx) error {
		var in services.QuestInput
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		quest, err := questService.Update(c.Params("id"), in)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quest not found"})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(quest)
	})

	admin.Patch("/quests/:id/status", func(c *fiber.Ctx) error {
		var req struct {
			Status models.QuestStatus `json:"status"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		quest, err := questService.SetStatus(c.Params("id"), req.Status)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quest not found"})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(quest)
	})
}
