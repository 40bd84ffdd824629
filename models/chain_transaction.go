package models

import "time"

// ChainTxStatus tracks asynchronous confirmation of a submitted transaction
type ChainTxStatus string

const (
	ChainTxStatusPending   ChainTxStatus = "pending"
	ChainTxStatusConfirmed ChainTxStatus = "confirmed"
	ChainTxStatusFailed    ChainTxStatus = "failed"
)

// ChainTxKind distinguishes reward transfers from badge mints
type ChainTxKind string

const (
	ChainTxKindTransfer ChainTxKind = "transfer"
	ChainTxKindMint     ChainTxKind = "mint"
)

// ChainTransaction is the append-only audit record of every on-chain
// submission. Rows are never deleted; the receipt reconciler is the only
// writer of Status and BlockNumber after creation.
type ChainTransaction struct {
	ID             string        `gorm:"primaryKey;type:uuid" json:"id"`
	TxHash         string        `gorm:"uniqueIndex;not null" json:"tx_hash"`
	Kind           ChainTxKind   `gorm:"not null;default:'transfer'" json:"kind"`
	Status         ChainTxStatus `gorm:"not null;default:'pending';index" json:"status"`
	ExternalUserID string        `gorm:"index" json:"external_user_id"`
	Amount         int64         `gorm:"not null;default:0" json:"amount"`
	FromAddress    string        `gorm:"not null" json:"from_address"`
	ToAddress      string        `gorm:"not null;index" json:"to_address"`
	TokenURI       string        `gorm:"type:text" json:"token_uri,omitempty"` // mint only
	BlockNumber    *uint64       `json:"block_number,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
