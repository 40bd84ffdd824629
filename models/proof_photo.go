package models

import "time"

// ProofPhoto is optional user-submitted evidence attached to a completion,
// stored in R2. The photo never influences verification (GPS dwell does); it
// exists for community display and operator review of rejected sessions.
type ProofPhoto struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	CompletionID string    `gorm:"not null;index" json:"completion_id"`
	ObjectKey    string    `gorm:"not null" json:"object_key"`
	URL          string    `gorm:"type:text;not null" json:"url"`
	UploadedAt   time.Time `json:"uploaded_at" gorm:"autoCreateTime"`
}
