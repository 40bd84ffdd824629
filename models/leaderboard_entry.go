package models

import "time"

// LeaderboardEntry is recomputed in full per season bucket, never patched
// incrementally. Unique on (external_user_id, season_key).
type LeaderboardEntry struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID  string    `gorm:"not null;uniqueIndex:idx_user_season" json:"external_user_id"`
	SeasonKey       string    `gorm:"not null;uniqueIndex:idx_user_season;index" json:"season_key"` // all-time, monthly-YYYY-M, weekly-YYYY-M-W
	Rank            int       `gorm:"not null" json:"rank"`
	TotalXP         int64     `gorm:"not null;default:0" json:"total_xp"`
	QuestsCompleted int64     `gorm:"not null;default:0" json:"quests_completed"`
	TokensEarned    int64     `gorm:"not null;default:0" json:"tokens_earned"`
	ComputedAt      time.Time `json:"computed_at"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
