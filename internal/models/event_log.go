package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventLogEntry is the append-only audit record of every decoded ledger
// event. The (signature, log_index) unique index doubles as the
// idempotent-delivery guard: re-projecting a replayed transaction hits the
// constraint and the projector skips the event.
type EventLogEntry struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	EventType string         `gorm:"type:varchar(40);not null;index"`
	RoundID   *uint64        `gorm:"index"`
	User      *string        `gorm:"type:text;index"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Signature string         `gorm:"type:text;not null;uniqueIndex:idx_events_sig_log"`
	LogIndex  int            `gorm:"not null;uniqueIndex:idx_events_sig_log"`
	Slot      uint64         `gorm:"not null;index"`
	BlockTime int64          `gorm:"not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (EventLogEntry) TableName() string {
	return "events_log"
}
