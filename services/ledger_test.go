package services

import (
	"testing"

	"quest-reward-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAttemptLifecycle(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	quest := seedQuest(t, db, 100, 15)

	row, err := ledger.StartAttempt("user-1", quest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusInProgress, row.Status)

	// Starting again while in progress is idempotent.
	again, err := ledger.StartAttempt("user-1", quest.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID)

	// Abandoning returns the row to pending, so the user can retry.
	require.NoError(t, ledger.AbandonAttempt("user-1", quest.ID))
	stored, err := ledger.CompletionFor("user-1", quest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusPending, stored.Status)

	revived, err := ledger.StartAttempt("user-1", quest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusInProgress, revived.Status)
}

func TestStartAttemptRejectsUnpublishedQuest(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	quest := seedQuest(t, db, 100, 15)
	require.NoError(t, db.Model(quest).Update("status", models.QuestStatusDraft).Error)

	_, err := ledger.StartAttempt("user-1", quest.ID)
	assert.ErrorIs(t, err, ErrQuestNotActive)

	_, err = ledger.StartAttempt("user-1", "no-such-quest")
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

func TestStartAttemptBlocksCompletedQuest(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	quest := seedQuest(t, db, 100, 15)

	_, err := ledger.RecordVerified("user-1", quest.ID)
	require.NoError(t, err)

	_, err = ledger.StartAttempt("user-1", quest.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestRecordVerifiedSnapshotsRewards(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	quest := seedQuest(t, db, 100, 15)

	row, err := ledger.RecordVerified("user-1", quest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusVerified, row.Status)
	assert.Equal(t, int64(100), row.RewardXP)
	assert.Equal(t, int64(15), row.RewardTokens)
	require.NotNil(t, row.VerifiedAt)

	// Editing the quest afterwards must not touch earned amounts.
	require.NoError(t, db.Model(quest).Updates(map[string]interface{}{
		"reward_xp": 9000, "reward_tokens": 9000,
	}).Error)

	stored, err := ledger.CompletionFor("user-1", quest.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.RewardXP)
	assert.Equal(t, int64(15), stored.RewardTokens)
}

func TestRecordVerifiedIsIdempotent(t *testing.T) {
	db := testDB(t)
	bus := NewBus()
	ledger := NewLedgerService(db, bus)
	quest := seedQuest(t, db, 100, 15)

	var events int
	bus.Subscribe(func(evt Event) {
		if evt.Type == EventQuestVerified {
			events++
		}
	})

	first, err := ledger.RecordVerified("user-1", quest.ID)
	require.NoError(t, err)

	// Retransmitted completion event: same row back, no second publish.
	second, err := ledger.RecordVerified("user-1", quest.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.VerifiedAt.UnixMilli(), second.VerifiedAt.UnixMilli())
	assert.Equal(t, 1, events)

	var count int64
	require.NoError(t, db.Model(&models.QuestCompletion{}).
		Where("external_user_id = ? AND quest_id = ?", "user-1", quest.ID).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMarkSettledGuardsOnVerifiedStatus(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	questA := seedQuest(t, db, 100, 15)
	questB := seedQuest(t, db, 50, 5)

	a, err := ledger.RecordVerified("user-1", questA.ID)
	require.NoError(t, err)
	b, err := ledger.RecordVerified("user-1", questB.ID)
	require.NoError(t, err)

	settled, err := ledger.MarkSettled([]string{a.ID, b.ID}, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), settled)

	// Already-settled members do not count a second time.
	settled, err = ledger.MarkSettled([]string{a.ID, b.ID}, "0xdef")
	require.NoError(t, err)
	assert.Equal(t, int64(0), settled)

	stored, err := ledger.CompletionFor("user-1", questA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionStatusClaimSettled, stored.Status)
	assert.Equal(t, "0xabc", stored.ClaimTxHash)
}

func TestSnapshotCountsSettledCompletions(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	questA := seedQuest(t, db, 100, 15)
	questB := seedQuest(t, db, 50, 5)

	a, err := ledger.RecordVerified("user-1", questA.ID)
	require.NoError(t, err)
	_, err = ledger.RecordVerified("user-1", questB.ID)
	require.NoError(t, err)

	// Settling a claim must not change the user's standing.
	_, err = ledger.MarkSettled([]string{a.ID}, "0xabc")
	require.NoError(t, err)

	snap, err := ledger.SnapshotFor("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), snap.TotalXP)
	assert.Equal(t, int64(2), snap.QuestsCompleted)
	assert.Equal(t, int64(20), snap.TokensEarned)
}

func TestUnclaimedForOrdersOldestFirst(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerService(db, NewBus())
	questA := seedQuest(t, db, 100, 15)
	questB := seedQuest(t, db, 50, 5)

	_, err := ledger.RecordVerified("user-1", questA.ID)
	require.NoError(t, err)
	_, err = ledger.RecordVerified("user-1", questB.ID)
	require.NoError(t, err)

	rows, err := ledger.UnclaimedFor("user-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, questA.ID, rows[0].QuestID)
	assert.Equal(t, questB.ID, rows[1].QuestID)
}
