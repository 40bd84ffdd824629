package services

import (
	"fmt"
	"log"
	"sort"
	"time"

	"quest-reward-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeasonAllTime is the unbounded bucket; monthly and weekly keys are derived
// from the wall clock at computation time.
const SeasonAllTime = "all-time"

// MonthlySeasonKey returns the bucket key for t's calendar month.
func MonthlySeasonKey(t time.Time) string {
	return fmt.Sprintf("monthly-%d-%d", t.Year(), int(t.Month()))
}

// WeeklySeasonKey returns the bucket key for t's week of the month (1-based,
// day 1–7 is week 1).
func WeeklySeasonKey(t time.Time) string {
	return fmt.Sprintf("weekly-%d-%d-%d", t.Year(), int(t.Month()), (t.Day()-1)/7+1)
}

// LeaderboardService recomputes season-bucketed ranks from ledger snapshots.
// Recomputation is total, never incremental, so partial updates can never
// drift ranks.
type LeaderboardService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

// NewLeaderboardService wires the ranker.
func NewLeaderboardService(db *gorm.DB, ledger *LedgerService) *LeaderboardService {
	return &LeaderboardService{DB: db, Ledger: ledger}
}

// AttachBus recomputes all current buckets after every ledger mutation.
func (s *LeaderboardService) AttachBus(bus *Bus) {
	bus.Subscribe(func(evt Event) {
		if err := s.RecomputeAll(time.Now().UTC()); err != nil {
			log.Printf("⚠️ Leaderboard recompute after %s failed: %v", evt.Type, err)
		}
	})
}

// rankSnapshots orders members by (totalXp desc, questsCompleted desc,
// tokensEarned desc). The input arrives in ledger insertion order and the
// sort is stable, so insertion order is the final tie-break — two identical
// snapshots always rank identically.
func rankSnapshots(snaps []UserSnapshot) []UserSnapshot {
	ranked := make([]UserSnapshot, len(snaps))
	copy(ranked, snaps)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalXP != b.TotalXP {
			return a.TotalXP > b.TotalXP
		}
		if a.QuestsCompleted != b.QuestsCompleted {
			return a.QuestsCompleted > b.QuestsCompleted
		}
		return a.TokensEarned > b.TokensEarned
	})
	return ranked
}

// seasonWindowStart derives the activity window for the bucket containing asOf.
func seasonWindowStart(seasonKey string, asOf time.Time) time.Time {
	switch seasonKey {
	case MonthlySeasonKey(asOf):
		return time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	case WeeklySeasonKey(asOf):
		week := (asOf.Day() - 1) / 7
		return time.Date(asOf.Year(), asOf.Month(), week*7+1, 0, 0, 0, 0, time.UTC)
	default: // all-time
		return time.Time{}
	}
}

// Recompute rebuilds one season bucket from ledger snapshots and upserts the
// full ranking. Users appear in a bucket lazily, on their first nonzero
// activity inside the window.
func (s *LeaderboardService) Recompute(seasonKey string, asOf time.Time) error {
	snaps, err := s.Ledger.SnapshotsSince(seasonWindowStart(seasonKey, asOf))
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}

	ranked := rankSnapshots(snaps)
	entries := make([]models.LeaderboardEntry, len(ranked))
	for i, snap := range ranked {
		entries[i] = models.LeaderboardEntry{
			ID:              uuid.NewString(),
			ExternalUserID:  snap.ExternalUserID,
			SeasonKey:       seasonKey,
			Rank:            i + 1,
			TotalXP:         snap.TotalXP,
			QuestsCompleted: snap.QuestsCompleted,
			TokensEarned:    snap.TokensEarned,
			ComputedAt:      asOf,
		}
	}

	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}, {Name: "season_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"rank", "total_xp", "quests_completed", "tokens_earned", "computed_at", "updated_at",
		}),
	}).Create(&entries).Error
}

// RecomputeAll rebuilds the three buckets current at asOf.
func (s *LeaderboardService) RecomputeAll(asOf time.Time) error {
	for _, key := range []string{SeasonAllTime, MonthlySeasonKey(asOf), WeeklySeasonKey(asOf)} {
		if err := s.Recompute(key, asOf); err != nil {
			return fmt.Errorf("recompute %s: %w", key, err)
		}
	}
	return nil
}

// Top returns the highest-ranked entries of a bucket.
func (s *LeaderboardService) Top(seasonKey string, limit int) ([]models.LeaderboardEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var entries []models.LeaderboardEntry
	err := s.DB.Where("season_key = ?", seasonKey).
		Order("rank ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// UserWindow returns the entries ranked around the user, ±5 places.
func (s *LeaderboardService) UserWindow(seasonKey, userID string) ([]models.LeaderboardEntry, error) {
	var mine models.LeaderboardEntry
	if err := s.DB.Where("season_key = ? AND external_user_id = ?", seasonKey, userID).
		First(&mine).Error; err != nil {
		return nil, err
	}

	lower := mine.Rank - 5
	if lower < 1 {
		lower = 1
	}
	upper := mine.Rank + 5

	var entries []models.LeaderboardEntry
	err := s.DB.Where("season_key = ? AND rank BETWEEN ? AND ?", seasonKey, lower, upper).
		Order("rank ASC").
		Find(&entries).Error
	return entries, err
}
