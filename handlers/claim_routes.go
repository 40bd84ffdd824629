// handlers/claim_routes.go
package handlers

import (
	"context"
	"errors"
	"math/big"

	"quest-reward-system/chain"
	"quest-reward-system/middleware"
	"quest-reward-system/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

// BalanceReader serves on-chain reward token balances; satisfied by
// chain.SettlementClient (reads go through its TTL cache).
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
}

// SetupClaimRoutes registers the reward settlement surface consumed by the UI.
func SetupClaimRoutes(app *fiber.App, claimService *services.ClaimService, balances BalanceReader) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Pending batch, recomputed from the ledger on every call. Returns null
	// when there is nothing to claim.
	secured.Get("/claims/pending", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		batch, err := claimService.PendingClaims(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to compute pending claims"})
		}
		if batch == nil {
			return c.JSON(nil)
		}
		return c.JSON(batch)
	})

	secured.Post("/claims", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			ToAddress string `json:"to_address"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		result, err := claimService.Claim(c.Context(), userID, req.ToAddress)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrNoClaimableRewards):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no claimable rewards"})
			case errors.Is(err, services.ErrInvalidAddress):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid destination address"})
			case errors.Is(err, chain.ErrSettlementUnavailable):
				// All RPC endpoints exhausted — the claim is untouched and
				// safely retryable with backoff.
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "settlement temporarily unavailable"})
			case errors.Is(err, chain.ErrTransferFailed):
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "transfer failed", "cause": err.Error()})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "claim failed", "cause": err.Error()})
			}
		}
		return c.JSON(result)
	})

	// On-chain balance of the supplied wallet, served from the TTL cache when
	// fresh.
	secured.Get("/claims/balance", func(c *fiber.Ctx) error {
		address := c.Query("address")
		if !common.IsHexAddress(address) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid address"})
		}

		balance, err := balances.BalanceOf(c.Context(), common.HexToAddress(address))
		if err != nil {
			if errors.Is(err, chain.ErrSettlementUnavailable) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "settlement temporarily unavailable"})
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "balance lookup failed"})
		}
		return c.JSON(fiber.Map{"address": common.HexToAddress(address).Hex(), "balance": balance.String()})
	})

	secured.Get("/claims/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		txs, err := claimService.History(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch history"})
		}
		return c.JSON(txs)
	})
}
