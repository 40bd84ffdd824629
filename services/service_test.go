package services

import (
	"testing"

	"quest-reward-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB opens an in-memory store with the full schema migrated.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Quest{},
		&models.QuestCompletion{},
		&models.ChainTransaction{},
		&models.LeaderboardEntry{},
		&models.ProofPhoto{},
	))
	return db
}

func seedQuest(t *testing.T, db *gorm.DB, xp, tokens int64) *models.Quest {
	t.Helper()
	quest := models.Quest{
		ID:                       uuid.NewString(),
		Slug:                     "quest-" + uuid.NewString(),
		Title:                    "Test Quest",
		Latitude:                 48.8584,
		Longitude:                2.2945,
		VerificationRadiusMeters: 75,
		RewardXP:                 xp,
		RewardTokens:             tokens,
		Status:                   models.QuestStatusPublished,
	}
	require.NoError(t, db.Create(&quest).Error)
	return &quest
}
