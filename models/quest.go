package models

import (
	"time"

	"gorm.io/gorm"
)

// QuestStatus indicates the publishing status of a quest
type QuestStatus string

const (
	QuestStatusDraft     QuestStatus = "draft"
	QuestStatusPublished QuestStatus = "published"
	QuestStatusArchived  QuestStatus = "archived"
)

// Quest is a geofenced challenge created by the content service.
// Reward amounts are snapshotted onto completions at verification time,
// so editing a quest never changes already-earned rewards.
type Quest struct {
	ID                       string      `gorm:"primaryKey;type:uuid" json:"id"`
	Slug                     string      `gorm:"uniqueIndex;not null" json:"slug"`
	Title                    string      `gorm:"not null" json:"title"`
	Description              string      `gorm:"type:text" json:"description"`
	Latitude                 float64     `gorm:"not null" json:"latitude"`
	Longitude                float64     `gorm:"not null" json:"longitude"`
	VerificationRadiusMeters float64     `gorm:"not null;default:75" json:"verification_radius_meters"`
	RewardXP                 int64       `gorm:"not null;default:0" json:"reward_xp"`
	RewardTokens             int64       `gorm:"not null;default:0" json:"reward_tokens"`
	BadgeTokenURI            string      `gorm:"type:text" json:"badge_token_uri,omitempty"` // non-empty → NFT badge minted on claim
	Status                   QuestStatus `gorm:"not null;default:'draft';index" json:"status"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
