package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"quest-reward-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger failures.
var (
	ErrQuestNotFound    = errors.New("ledger: quest not found")
	ErrQuestNotActive   = errors.New("ledger: quest is not published")
	ErrAlreadyCompleted = errors.New("ledger: quest already completed by this user")
)

// LedgerService owns the quest_completions table: the authoritative record
// of per-user, per-quest verification outcomes and earned amounts. All status
// transitions are conditional updates guarded by the expected prior status.
type LedgerService struct {
	DB  *gorm.DB
	Bus *Bus
}

// NewLedgerService wires the ledger to its store and event bus.
func NewLedgerService(db *gorm.DB, bus *Bus) *LedgerService {
	return &LedgerService{DB: db, Bus: bus}
}

// StartAttempt creates or revives the completion row for a new watch session.
// Fails with ErrAlreadyCompleted once the row is Verified or ClaimSettled;
// this is the ledger check that enforces one watch per (user, quest).
func (s *LedgerService) StartAttempt(userID, questID string) (*models.QuestCompletion, error) {
	var row models.QuestCompletion
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var quest models.Quest
		if err := tx.First(&quest, "id = ?", questID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestNotFound
			}
			return err
		}
		if quest.Status != models.QuestStatusPublished {
			return ErrQuestNotActive
		}

		err := tx.Where("external_user_id = ? AND quest_id = ?", userID, questID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = models.QuestCompletion{
				ID:             uuid.NewString(),
				ExternalUserID: userID,
				QuestID:        questID,
				Status:         models.CompletionStatusInProgress,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		switch row.Status {
		case models.CompletionStatusVerified, models.CompletionStatusClaimSettled:
			return ErrAlreadyCompleted
		case models.CompletionStatusInProgress:
			return nil // idempotent; the session registry guards concurrency
		default: // pending, rejected: the user may retry
			row.Status = models.CompletionStatusInProgress
			return tx.Model(&row).Update("status", models.CompletionStatusInProgress).Error
		}
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// AbandonAttempt returns an in-progress row to Pending after a cancelled
// session. Conditional: a concurrently verified row is left untouched.
func (s *LedgerService) AbandonAttempt(userID, questID string) error {
	return s.DB.Model(&models.QuestCompletion{}).
		Where("external_user_id = ? AND quest_id = ? AND status = ?",
			userID, questID, models.CompletionStatusInProgress).
		Update("status", models.CompletionStatusPending).Error
}

// MarkRejected flags a completion for operator review. Verified and settled
// rows cannot be rejected.
func (s *LedgerService) MarkRejected(userID, questID string) error {
	res := s.DB.Model(&models.QuestCompletion{}).
		Where("external_user_id = ? AND quest_id = ? AND status IN ?",
			userID, questID,
			[]models.CompletionStatus{models.CompletionStatusPending, models.CompletionStatusInProgress}).
		Update("status", models.CompletionStatusRejected)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

// RecordVerified marks the (user, quest) pair verified and snapshots the
// quest's reward amounts onto the row, so later quest edits never change
// already-earned rewards. A retransmitted completion event is an idempotent
// no-op returning the existing row.
func (s *LedgerService) RecordVerified(userID, questID string) (*models.QuestCompletion, error) {
	var row models.QuestCompletion
	var duplicate bool

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var quest models.Quest
		if err := tx.First(&quest, "id = ?", questID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestNotFound
			}
			return err
		}

		now := time.Now().UTC()
		err := tx.Where("external_user_id = ? AND quest_id = ?", userID, questID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = models.QuestCompletion{
				ID:             uuid.NewString(),
				ExternalUserID: userID,
				QuestID:        questID,
				Status:         models.CompletionStatusVerified,
				VerifiedAt:     &now,
				RewardXP:       quest.RewardXP,
				RewardTokens:   quest.RewardTokens,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		if row.Status == models.CompletionStatusVerified || row.Status == models.CompletionStatusClaimSettled {
			duplicate = true
			return nil
		}

		// Conditional flip keyed on the prior status: if a concurrent writer
		// got there first, re-read and treat as duplicate.
		res := tx.Model(&models.QuestCompletion{}).
			Where("id = ? AND status IN ?", row.ID,
				[]models.CompletionStatus{
					models.CompletionStatusPending,
					models.CompletionStatusInProgress,
					models.CompletionStatusRejected,
				}).
			Updates(map[string]interface{}{
				"status":        models.CompletionStatusVerified,
				"verified_at":   now,
				"reward_xp":     quest.RewardXP,
				"reward_tokens": quest.RewardTokens,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			duplicate = true
		}
		return tx.First(&row, "id = ?", row.ID).Error
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		log.Printf("↩️ Duplicate completion event ignored: user=%s quest=%s", userID, questID)
		return &row, nil
	}

	log.Printf("🏆 Quest verified: user=%s quest=%s xp=%d tokens=%d", userID, questID, row.RewardXP, row.RewardTokens)
	if s.Bus != nil {
		s.Bus.Publish(Event{Type: EventQuestVerified, UserID: userID, QuestID: questID, Amount: row.RewardTokens})
	}
	return &row, nil
}

// UnclaimedFor returns the Verified-but-unsettled completions for a user,
// oldest verification first. This query is the reconciliation step: claim
// batches are always recomputed from it, never cached.
func (s *LedgerService) UnclaimedFor(userID string) ([]models.QuestCompletion, error) {
	var rows []models.QuestCompletion
	err := s.DB.
		Where("external_user_id = ? AND status = ?", userID, models.CompletionStatusVerified).
		Order("verified_at ASC").
		Find(&rows).Error
	return rows, err
}

// MarkSettled flips the batch members Verified→ClaimSettled and stamps the
// transaction hash. The status guard makes the claim at-most-once: members a
// concurrent claim already settled are not counted.
func (s *LedgerService) MarkSettled(completionIDs []string, txHash string) (int64, error) {
	if len(completionIDs) == 0 {
		return 0, nil
	}
	res := s.DB.Model(&models.QuestCompletion{}).
		Where("id IN ? AND status = ?", completionIDs, models.CompletionStatusVerified).
		Updates(map[string]interface{}{
			"status":        models.CompletionStatusClaimSettled,
			"claim_tx_hash": txHash,
		})
	return res.RowsAffected, res.Error
}

// Snapshot is the per-user aggregate consumed by the leaderboard.
type Snapshot struct {
	TotalXP         int64 `json:"total_xp"`
	QuestsCompleted int64 `json:"quests_completed"`
	TokensEarned    int64 `json:"tokens_earned"`
}

// earnedStatuses: rewards count from verification onward; settling a claim
// must not change a user's standing.
var earnedStatuses = []models.CompletionStatus{
	models.CompletionStatusVerified,
	models.CompletionStatusClaimSettled,
}

// SnapshotFor aggregates one user's earned totals.
func (s *LedgerService) SnapshotFor(userID string) (Snapshot, error) {
	var snap Snapshot
	err := s.DB.Model(&models.QuestCompletion{}).
		Select("COALESCE(SUM(reward_xp),0) AS total_xp, COUNT(*) AS quests_completed, COALESCE(SUM(reward_tokens),0) AS tokens_earned").
		Where("external_user_id = ? AND status IN ?", userID, earnedStatuses).
		Scan(&snap).Error
	return snap, err
}

// UserSnapshot is one member of a season bucket, carrying the first-activity
// timestamp used as the insertion-order tie-break.
type UserSnapshot struct {
	ExternalUserID  string    `json:"external_user_id"`
	TotalXP         int64     `json:"total_xp"`
	QuestsCompleted int64     `json:"quests_completed"`
	TokensEarned    int64     `json:"tokens_earned"`
	FirstVerifiedAt time.Time `json:"first_verified_at"`
}

// SnapshotsSince aggregates all users with activity in the window, ordered by
// first verification (ledger insertion order). A zero since means all-time.
func (s *LedgerService) SnapshotsSince(since time.Time) ([]UserSnapshot, error) {
	q := s.DB.Model(&models.QuestCompletion{}).
		Select("external_user_id, COALESCE(SUM(reward_xp),0) AS total_xp, COUNT(*) AS quests_completed, COALESCE(SUM(reward_tokens),0) AS tokens_earned, MIN(verified_at) AS first_verified_at").
		Where("status IN ?", earnedStatuses).
		Group("external_user_id").
		Order("first_verified_at ASC")
	if !since.IsZero() {
		q = q.Where("verified_at >= ?", since)
	}
	var out []UserSnapshot
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("ledger: snapshot query: %w", err)
	}
	return out, nil
}

// CompletionFor fetches the row for one (user, quest) pair.
func (s *LedgerService) CompletionFor(userID, questID string) (*models.QuestCompletion, error) {
	var row models.QuestCompletion
	err := s.DB.Where("external_user_id = ? AND quest_id = ?", userID, questID).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// AttachProof records an uploaded proof photo against a completion.
func (s *LedgerService) AttachProof(completionID, objectKey, url string) (*models.ProofPhoto, error) {
	photo := models.ProofPhoto{
		ID:           uuid.NewString(),
		CompletionID: completionID,
		ObjectKey:    objectKey,
		URL:          url,
	}
	if err := s.DB.Create(&photo).Error; err != nil {
		return nil, err
	}
	return &photo, nil
}
