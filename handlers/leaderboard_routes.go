// handlers/leaderboard_routes.go
package handlers

import (
	"errors"
	"strconv"
	"time"

	"quest-reward-system/middleware"
	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// seasonFromQuery resolves the ?season= parameter, defaulting to all-time.
// Shorthand values resolve to the current bucket.
func seasonFromQuery(c *fiber.Ctx) string {
	now := time.Now().UTC()
	switch season := c.Query("season", services.SeasonAllTime); season {
	case "monthly":
		return services.MonthlySeasonKey(now)
	case "weekly":
		return services.WeeklySeasonKey(now)
	default:
		return season
	}
}

// SetupLeaderboardRoutes registers the ranking surface.
func SetupLeaderboardRoutes(app *fiber.App, leaderboardService *services.LeaderboardService) {
	app.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))

		entries, err := leaderboardService.Top(seasonFromQuery(c), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch leaderboard"})
		}
		return c.JSON(entries)
	})

	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Entries ranked around the caller, ±5 places.
	secured.Get("/leaderboard/me", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		entries, err := leaderboardService.UserWindow(seasonFromQuery(c), userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no leaderboard entry yet"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch leaderboard"})
		}
		return c.JSON(entries)
	})
}
