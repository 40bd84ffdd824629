package models

import "time"

// CompletionStatus is the lifecycle of a (user, quest) attempt
type CompletionStatus string

const (
	CompletionStatusPending      CompletionStatus = "pending"
	CompletionStatusInProgress   CompletionStatus = "in_progress"
	CompletionStatusVerified     CompletionStatus = "verified"
	CompletionStatusRejected     CompletionStatus = "rejected"
	CompletionStatusClaimSettled CompletionStatus = "claim_settled"
)

// QuestCompletion is the authoritative ledger row for one (user, quest) pair.
// At most one row exists per pair; status transitions are guarded by the
// current status (conditional updates, see LedgerService / ClaimService).
type QuestCompletion struct {
	ID             string           `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string           `gorm:"not null;uniqueIndex:idx_user_quest" json:"external_user_id"`
	QuestID        string           `gorm:"not null;uniqueIndex:idx_user_quest" json:"quest_id"`
	Status         CompletionStatus `gorm:"not null;default:'pending';index" json:"status"`
	VerifiedAt     *time.Time       `json:"verified_at,omitempty"`

	// Reward snapshot copied from the Quest at verification time
	RewardXP     int64 `gorm:"not null;default:0" json:"reward_xp"`
	RewardTokens int64 `gorm:"not null;default:0" json:"reward_tokens"`

	// Stamped by the claim settlement commit
	ClaimTxHash string `gorm:"index" json:"claim_tx_hash,omitempty"`

	Timestamps
}
