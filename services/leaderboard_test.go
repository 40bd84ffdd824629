package services

import (
	"fmt"
	"testing"
	"time"

	"quest-reward-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeasonKeys(t *testing.T) {
	// March 8 falls in week 2 (days 8..14).
	at := time.Date(2026, time.March, 8, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "monthly-2026-3", MonthlySeasonKey(at))
	assert.Equal(t, "weekly-2026-3-2", WeeklySeasonKey(at))

	// Day 1 and day 7 share week 1; day 29+ lands in week 5.
	assert.Equal(t, "weekly-2026-3-1", WeeklySeasonKey(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "weekly-2026-3-1", WeeklySeasonKey(time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "weekly-2026-3-5", WeeklySeasonKey(time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)))
}

func TestRankSnapshotsThreeKeySort(t *testing.T) {
	snaps := []UserSnapshot{
		{ExternalUserID: "low-xp", TotalXP: 100, QuestsCompleted: 9, TokensEarned: 99},
		{ExternalUserID: "xp-ties-more-quests", TotalXP: 500, QuestsCompleted: 5, TokensEarned: 1},
		{ExternalUserID: "top-xp", TotalXP: 900, QuestsCompleted: 1, TokensEarned: 0},
		{ExternalUserID: "xp-quest-tie-more-tokens", TotalXP: 500, QuestsCompleted: 4, TokensEarned: 50},
		{ExternalUserID: "xp-quest-tie-fewer-tokens", TotalXP: 500, QuestsCompleted: 4, TokensEarned: 10},
	}

	ranked := rankSnapshots(snaps)
	order := make([]string, len(ranked))
	for i, s := range ranked {
		order[i] = s.ExternalUserID
	}
	assert.Equal(t, []string{
		"top-xp",
		"xp-ties-more-quests",
		"xp-quest-tie-more-tokens",
		"xp-quest-tie-fewer-tokens",
		"low-xp",
	}, order)
}

func TestRankSnapshotsFullTieKeepsInsertionOrder(t *testing.T) {
	snaps := []UserSnapshot{
		{ExternalUserID: "earlier", TotalXP: 500, QuestsCompleted: 3, TokensEarned: 30},
		{ExternalUserID: "later", TotalXP: 500, QuestsCompleted: 3, TokensEarned: 30},
	}

	// Identical snapshots rank by ledger insertion order, and repeated
	// recomputes never swap them.
	for i := 0; i < 10; i++ {
		ranked := rankSnapshots(snaps)
		require.Equal(t, "earlier", ranked[0].ExternalUserID)
		require.Equal(t, "later", ranked[1].ExternalUserID)
	}
}

func TestRecomputeUpsertsRanks(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	board := NewLeaderboardService(db, ledger)

	big := seedQuest(t, db, 500, 50)
	small := seedQuest(t, db, 100, 10)

	_, err := ledger.RecordVerified("alice", big.ID)
	require.NoError(t, err)
	_, err = ledger.RecordVerified("bob", small.ID)
	require.NoError(t, err)

	asOf := time.Now().UTC()
	require.NoError(t, board.Recompute(SeasonAllTime, asOf))

	entries, err := board.Top(SeasonAllTime, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].ExternalUserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "bob", entries[1].ExternalUserID)
	assert.Equal(t, 2, entries[1].Rank)

	// Bob overtakes; the recompute must overwrite in place, not duplicate.
	_, err = ledger.RecordVerified("bob", big.ID)
	require.NoError(t, err)
	require.NoError(t, board.Recompute(SeasonAllTime, asOf))

	entries, err = board.Top(SeasonAllTime, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].ExternalUserID)
	assert.Equal(t, int64(600), entries[0].TotalXP)
	assert.Equal(t, "alice", entries[1].ExternalUserID)

	var count int64
	require.NoError(t, db.Model(&models.LeaderboardEntry{}).
		Where("season_key = ?", SeasonAllTime).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRecomputeAllBuildsThreeBuckets(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	board := NewLeaderboardService(db, ledger)
	quest := seedQuest(t, db, 100, 10)

	_, err := ledger.RecordVerified("alice", quest.ID)
	require.NoError(t, err)

	asOf := time.Now().UTC()
	require.NoError(t, board.RecomputeAll(asOf))

	for _, key := range []string{SeasonAllTime, MonthlySeasonKey(asOf), WeeklySeasonKey(asOf)} {
		entries, err := board.Top(key, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1, "bucket %s", key)
		assert.Equal(t, "alice", entries[0].ExternalUserID)
	}
}

func TestUserWindowAroundRank(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	board := NewLeaderboardService(db, ledger)

	entries := make([]models.LeaderboardEntry, 0, 20)
	for i := 1; i <= 20; i++ {
		entries = append(entries, models.LeaderboardEntry{
			ID:             newEntryID(i),
			ExternalUserID: userAtRank(i),
			SeasonKey:      SeasonAllTime,
			Rank:           i,
			TotalXP:        int64(2000 - i),
			ComputedAt:     time.Now().UTC(),
		})
	}
	require.NoError(t, db.Create(&entries).Error)

	window, err := board.UserWindow(SeasonAllTime, userAtRank(10))
	require.NoError(t, err)
	require.Len(t, window, 11)
	assert.Equal(t, 5, window[0].Rank)
	assert.Equal(t, 15, window[len(window)-1].Rank)

	// Near the top the window is clamped at rank 1.
	window, err = board.UserWindow(SeasonAllTime, userAtRank(2))
	require.NoError(t, err)
	require.Len(t, window, 7)
	assert.Equal(t, 1, window[0].Rank)
}

func newEntryID(i int) string { return fmt.Sprintf("entry-%02d", i) }
func userAtRank(i int) string { return fmt.Sprintf("user-%02d", i) }
