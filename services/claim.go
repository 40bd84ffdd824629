package services

import (
	"context"
	"errors"
	"log"
	"math/big"

	"quest-reward-system/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Claim failures.
var (
	// ErrNoClaimableRewards: the recomputed batch is empty. Terminal for this
	// call, not an error state for the system.
	ErrNoClaimableRewards = errors.New("claims: no claimable rewards")
	ErrInvalidAddress     = errors.New("claims: invalid destination address")
)

// SettlementSubmitter is the slice of the chain client the aggregator needs.
type SettlementSubmitter interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
	MintBadge(ctx context.Context, to common.Address, tokenURI string) (common.Hash, error)
	TreasuryAddress() common.Address
}

// PendingClaimBatch is ephemeral: always recomputed fresh from the ledger,
// never independently authoritative.
type PendingClaimBatch struct {
	UserID      string                   `json:"user_id"`
	TotalAmount int64                    `json:"total_amount"`
	Members     []models.QuestCompletion `json:"members"`
}

// MemberIDs returns the completion ids forming the batch.
func (b *PendingClaimBatch) MemberIDs() []string {
	ids := make([]string, len(b.Members))
	for i, m := range b.Members {
		ids[i] = m.ID
	}
	return ids
}

// ClaimResult is returned to the caller as soon as the network accepted the
// settlement transaction.
type ClaimResult struct {
	TxHash string `json:"tx_hash"`
	Amount int64  `json:"amount"`
}

// ClaimService aggregates verified-but-unpaid completions into one idempotent
// settlement transaction per user.
type ClaimService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Chain  SettlementSubmitter
	Bus    *Bus
}

// NewClaimService wires the aggregator.
func NewClaimService(db *gorm.DB, ledger *LedgerService, chain SettlementSubmitter, bus *Bus) *ClaimService {
	return &ClaimService{DB: db, Ledger: ledger, Chain: chain, Bus: bus}
}

// PendingClaims recomputes the claim batch from the ledger. Returns nil when
// nothing is claimable.
func (s *ClaimService) PendingClaims(userID string) (*PendingClaimBatch, error) {
	rows, err := s.Ledger.UnclaimedFor(userID)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, r := range rows {
		total += r.RewardTokens
	}
	if len(rows) == 0 || total <= 0 {
		return nil, nil
	}
	return &PendingClaimBatch{UserID: userID, TotalAmount: total, Members: rows}, nil
}

// Claim settles the user's outstanding rewards:
//
//  1. Recompute the batch fresh from the ledger (never trust a cached hint).
//  2. Empty batch → ErrNoClaimableRewards; this terminates the reconciliation
//     loop between stale caller state and ledger truth.
//  3. Submit the transfer. A failure before a hash exists mutates nothing, so
//     the identical batch is recomputed on retry.
//  4. Once a hash exists, flip every member to ClaimSettled: the commit point
//     that makes the claim at-most-once. Confirmation is reconciled
//     asynchronously and deliberately does not block this call.
func (s *ClaimService) Claim(ctx context.Context, userID, toAddress string) (*ClaimResult, error) {
	batch, err := s.PendingClaims(userID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrNoClaimableRewards
	}
	if !common.IsHexAddress(toAddress) {
		return nil, ErrInvalidAddress
	}
	to := common.HexToAddress(toAddress)

	txHash, err := s.Chain.Transfer(ctx, to, big.NewInt(batch.TotalAmount))
	if err != nil {
		// No hash, no ledger mutation: safe re-entry.
		return nil, err
	}

	settled, err := s.Ledger.MarkSettled(batch.MemberIDs(), txHash.Hex())
	if err != nil {
		// The transfer is on the wire but the ledger write failed. The audit
		// row below is also unavailable, so shout for operator reconciliation.
		log.Printf("🚨 Ledger settle failed after transfer %s (user=%s amount=%d): %v",
			txHash.Hex(), userID, batch.TotalAmount, err)
		return nil, err
	}
	if settled < int64(len(batch.Members)) {
		log.Printf("⚠️ Claim settled %d of %d members (concurrent claim?): user=%s tx=%s",
			settled, len(batch.Members), userID, txHash.Hex())
	}

	record := models.ChainTransaction{
		ID:             uuid.NewString(),
		TxHash:         txHash.Hex(),
		Kind:           models.ChainTxKindTransfer,
		Status:         models.ChainTxStatusPending,
		ExternalUserID: userID,
		Amount:         batch.TotalAmount,
		FromAddress:    s.Chain.TreasuryAddress().Hex(),
		ToAddress:      to.Hex(),
	}
	if err := s.DB.Create(&record).Error; err != nil {
		log.Printf("🚨 Failed to record chain transaction %s: %v", txHash.Hex(), err)
	}

	log.Printf("💸 Claim settled: user=%s amount=%d tx=%s members=%d",
		userID, batch.TotalAmount, txHash.Hex(), len(batch.Members))

	if s.Bus != nil {
		s.Bus.Publish(Event{Type: EventClaimSettled, UserID: userID, TxHash: txHash.Hex(), Amount: batch.TotalAmount})
	}

	s.mintBadges(ctx, userID, to, batch.Members)

	return &ClaimResult{TxHash: txHash.Hex(), Amount: batch.TotalAmount}, nil
}

// mintBadges submits an NFT mint for every settled member whose quest carries
// a badge URI. The claim is already settled, so mint failures are recorded
// for retry by operators rather than failing the call.
func (s *ClaimService) mintBadges(ctx context.Context, userID string, to common.Address, members []models.QuestCompletion) {
	questIDs := make([]string, len(members))
	for i, m := range members {
		questIDs[i] = m.QuestID
	}
	var quests []models.Quest
	if err := s.DB.Where("id IN ? AND badge_token_uri <> ''", questIDs).Find(&quests).Error; err != nil {
		log.Printf("⚠️ Badge lookup failed for user=%s: %v", userID, err)
		return
	}
	for _, q := range quests {
		hash, err := s.Chain.MintBadge(ctx, to, q.BadgeTokenURI)
		if err != nil {
			log.Printf("⚠️ Badge mint failed: user=%s quest=%s: %v", userID, q.ID, err)
			continue
		}
		record := models.ChainTransaction{
			ID:             uuid.NewString(),
			TxHash:         hash.Hex(),
			Kind:           models.ChainTxKindMint,
			Status:         models.ChainTxStatusPending,
			ExternalUserID: userID,
			FromAddress:    s.Chain.TreasuryAddress().Hex(),
			ToAddress:      to.Hex(),
			TokenURI:       q.BadgeTokenURI,
		}
		if err := s.DB.Create(&record).Error; err != nil {
			log.Printf("🚨 Failed to record badge mint %s: %v", hash.Hex(), err)
		}
		log.Printf("🎖️ Badge mint submitted: user=%s quest=%s tx=%s", userID, q.ID, hash.Hex())
	}
}

// History lists the user's chain transactions, newest first.
func (s *ClaimService) History(userID string) ([]models.ChainTransaction, error) {
	var txs []models.ChainTransaction
	err := s.DB.Where("external_user_id = ?", userID).Order("created_at DESC").Find(&txs).Error
	return txs, err
}
