package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"quest-reward-system/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"
)

// ReceiptSource fetches transaction receipts; satisfied by chain.SettlementClient.
type ReceiptSource interface {
	Receipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// ReceiptReconciler is the asynchronous half of settlement: submissions return
// as soon as the network accepts them, and this worker later flips each
// ChainTransaction to Confirmed or Failed. It is the sole writer of final
// on-chain identifiers (block numbers) — nothing provisional is ever exposed.
type ReceiptReconciler struct {
	DB        *gorm.DB
	Chain     ReceiptSource
	BatchSize int
}

// NewReceiptReconciler builds the worker.
func NewReceiptReconciler(db *gorm.DB, chain ReceiptSource) *ReceiptReconciler {
	return &ReceiptReconciler{DB: db, Chain: chain, BatchSize: 50}
}

// PollReceipts runs the reconciliation loop until ctx is cancelled.
func PollReceipts(ctx context.Context, r *ReceiptReconciler, pollInterval time.Duration) {
	log.Println("Starting receipt reconciliation loop...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Receipt reconciliation stopped.")
			return
		case <-ticker.C:
			confirmed, failed, err := r.ReconcileOnce(ctx)
			if err != nil {
				// Rows stay Pending and the same window is retried next tick.
				log.Printf("❌ Receipt poll round failed: %v", err)
				continue
			}
			if confirmed+failed > 0 {
				log.Printf("✅ Reconciled receipts: %d confirmed, %d failed", confirmed, failed)
			}
		}
	}
}

// ReconcileOnce processes one batch of pending transactions. Transactions not
// yet mined are skipped; endpoint failures skip the row without mutating it.
func (r *ReceiptReconciler) ReconcileOnce(ctx context.Context) (confirmed, failed int, err error) {
	var pending []models.ChainTransaction
	if err := r.DB.
		Where("status = ?", models.ChainTxStatusPending).
		Order("created_at ASC").
		Limit(r.BatchSize).
		Find(&pending).Error; err != nil {
		return 0, 0, err
	}

	for _, tx := range pending {
		receipt, rErr := r.Chain.Receipt(ctx, common.HexToHash(tx.TxHash))
		if rErr != nil {
			if errors.Is(rErr, ethereum.NotFound) {
				continue // not mined yet
			}
			log.Printf("⚠️ Receipt lookup failed for %s: %v", tx.TxHash, rErr)
			continue
		}
		if receipt == nil {
			continue
		}

		updates := map[string]interface{}{}
		if receipt.Status == gethtypes.ReceiptStatusSuccessful {
			updates["status"] = models.ChainTxStatusConfirmed
			if receipt.BlockNumber != nil {
				updates["block_number"] = receipt.BlockNumber.Uint64()
			}
			confirmed++
		} else {
			// The ledger rows stay ClaimSettled — the payout obligation is
			// recorded; the Failed audit row is the operator's signal.
			updates["status"] = models.ChainTxStatusFailed
			failed++
			log.Printf("🚨 Transaction %s failed on-chain (user=%s amount=%d)",
				tx.TxHash, tx.ExternalUserID, tx.Amount)
		}

		if uErr := r.DB.Model(&models.ChainTransaction{}).
			Where("id = ? AND status = ?", tx.ID, models.ChainTxStatusPending).
			Updates(updates).Error; uErr != nil {
			log.Printf("❌ Failed to update transaction %s: %v", tx.TxHash, uErr)
		}
	}
	return confirmed, failed, nil
}
