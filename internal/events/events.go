package events

import (
	"zeitgeist/internal/ledger"
)

// Event type names as persisted in the event log and published on the
// notification bus.
const (
	TypeRoundCreated     = "RoundCreated"
	TypePredictionPlaced = "PredictionPlaced"
	TypeBettingClosed    = "BettingClosed"
	TypeRoundSettled     = "RoundSettled"
	TypeWinningsClaimed  = "WinningsClaimed"
	TypeRoundCancelled   = "RoundCancelled"
)

// Event is one decoded program event plus its ledger position. Signature
// and LogIndex together identify the emission uniquely; the pair is the
// dedupe key for replays.
type Event struct {
	Type      string
	Signature string
	LogIndex  int
	Slot      uint64
	BlockTime int64
	Payload   any
}

// RoundID extracts the round the event belongs to, when it has one.
func (e *Event) RoundID() (uint64, bool) {
	switch p := e.Payload.(type) {
	case *RoundCreated:
		return p.RoundID, true
	case *PredictionPlaced:
		return p.RoundID, true
	case *BettingClosed:
		return p.RoundID, true
	case *RoundSettled:
		return p.RoundID, true
	case *WinningsClaimed:
		return p.RoundID, true
	case *RoundCancelled:
		return p.RoundID, true
	}
	return 0, false
}

// User extracts the wallet the event concerns, when it has one.
func (e *Event) User() (ledger.PublicKey, bool) {
	switch p := e.Payload.(type) {
	case *PredictionPlaced:
		return p.User, true
	case *WinningsClaimed:
		return p.User, true
	}
	return ledger.PublicKey{}, false
}

type RoundCreated struct {
	RoundID     uint64           `json:"round_id"`
	Creator     ledger.PublicKey `json:"creator"`
	StartTime   int64            `json:"start_time"`
	EndTime     int64            `json:"end_time"`
	NumOutcomes uint8            `json:"num_outcomes"`
	Description string           `json:"description"`
}

type PredictionPlaced struct {
	RoundID   uint64           `json:"round_id"`
	User      ledger.PublicKey `json:"user"`
	Outcome   uint8            `json:"outcome"`
	Amount    uint64           `json:"amount"`
	Timestamp int64            `json:"timestamp"`
}

type BettingClosed struct {
	RoundID          uint64 `json:"round_id"`
	TotalPool        uint64 `json:"total_pool"`
	TotalPredictions uint32 `json:"total_predictions"`
	Timestamp        int64  `json:"timestamp"`
}

type RoundSettled struct {
	RoundID        uint64 `json:"round_id"`
	WinningOutcome uint8  `json:"winning_outcome"`
	TotalPool      uint64 `json:"total_pool"`
	WinningPool    uint64 `json:"winning_pool"`
	PlatformFee    uint64 `json:"platform_fee"`
	Timestamp      int64  `json:"timestamp"`
}

type WinningsClaimed struct {
	RoundID   uint64           `json:"round_id"`
	User      ledger.PublicKey `json:"user"`
	Amount    uint64           `json:"amount"`
	Timestamp int64            `json:"timestamp"`
}

type RoundCancelled struct {
	RoundID   uint64 `json:"round_id"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}
