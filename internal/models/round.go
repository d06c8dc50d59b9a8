package models

import (
	"time"
)

// Round status values. Transitions only move forward along
// pending -> active -> betting_closed -> settled, with a side exit to
// cancelled from any non-terminal state.
const (
	RoundStatusPending       = "pending"
	RoundStatusActive        = "active"
	RoundStatusBettingClosed = "betting_closed"
	RoundStatusSettled       = "settled"
	RoundStatusCancelled     = "cancelled"
)

// Verification methods supported by the ledger program.
const (
	VerificationPythPrice   = "pyth_price"
	VerificationOnChainData = "onchain_data"
	VerificationExternalAPI = "external_api"
	VerificationVRF         = "switchboard_vrf"
)

// Round is the off-chain projection of one on-chain round account.
type Round struct {
	RoundID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Address       string `gorm:"type:text;uniqueIndex;not null"`
	Question      string `gorm:"type:text;not null"`
	Category      string `gorm:"type:text"`
	NumOutcomes   uint8  `gorm:"not null;default:2"`
	BettingStart  int64  `gorm:"not null"`
	BettingEnd    int64  `gorm:"not null;index"`
	EndTime       int64  `gorm:"not null;index"`
	Status        string `gorm:"type:varchar(20);not null;index"`
	TotalPool     uint64 `gorm:"not null;default:0"`
	TotalBets     uint32 `gorm:"not null;default:0"`
	WinningOutcome *int16 `gorm:"default:null"`
	WinningPool   uint64 `gorm:"not null;default:0"`
	PlatformFee   uint64 `gorm:"not null;default:0"`
	Verification  string `gorm:"type:varchar(30);not null"`
	TargetValue   int64  `gorm:"not null;default:0"`
	DataSource    string `gorm:"type:text"`
	Oracle        string `gorm:"type:text"`
	IsCancelled   bool   `gorm:"not null;default:false"`
	CreatedBy     string `gorm:"type:text"`
	SettledAt     *int64 `gorm:"default:null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Round) TableName() string {
	return "rounds"
}

// RoundArchive mirrors Round for cold storage. Rows are moved here by the
// cleanup task once a round is settled or cancelled and past retention.
type RoundArchive struct {
	Round
	ArchivedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (RoundArchive) TableName() string {
	return "rounds_archive"
}
