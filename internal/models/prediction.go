package models

import (
	"time"
)

// Prediction is one user's single stake on one round. The ledger program
// enforces at most one prediction per (round, user); the composite unique
// index mirrors that constraint locally.
type Prediction struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Address  string `gorm:"type:text;uniqueIndex;not null"`
	RoundID  uint64 `gorm:"not null;uniqueIndex:idx_predictions_round_user;index"`
	User     string `gorm:"type:text;not null;uniqueIndex:idx_predictions_round_user;index"`
	Outcome  uint8  `gorm:"not null"`
	Amount   uint64 `gorm:"not null"`
	PlacedAt int64  `gorm:"not null"`

	IsWinner  *bool  `gorm:"default:null"`
	Payout    uint64 `gorm:"not null;default:0"`
	IsClaimed bool   `gorm:"not null;default:false"`
	ClaimedAt *int64 `gorm:"default:null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Prediction) TableName() string {
	return "predictions"
}

type PredictionArchive struct {
	Prediction
	ArchivedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PredictionArchive) TableName() string {
	return "predictions_archive"
}
