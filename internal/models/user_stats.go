package models

import (
	"time"
)

// UserStats is the per-user aggregate maintained by the projector.
// current_streak resets to zero on any loss; best_streak never decreases.
type UserStats struct {
	User             string  `gorm:"primaryKey;type:text"`
	TotalPredictions uint32  `gorm:"not null;default:0"`
	TotalWins        uint32  `gorm:"not null;default:0"`
	TotalLosses      uint32  `gorm:"not null;default:0"`
	TotalWagered     uint64  `gorm:"not null;default:0"`
	TotalWon         uint64  `gorm:"not null;default:0"`
	NetProfit        int64   `gorm:"not null;default:0"`
	CurrentStreak    uint32  `gorm:"not null;default:0"`
	BestStreak       uint32  `gorm:"not null;default:0"`
	Rank             *uint32 `gorm:"default:null;index"`
	ReputationScore  int64   `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (UserStats) TableName() string {
	return "user_stats"
}
