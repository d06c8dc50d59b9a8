package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"zeitgeist/internal/models"
)

type ListRoundsParams struct {
	Status string
	Limit  int
	Offset int
}

type ListEventsParams struct {
	EventType string
	RoundID   *uint64
	Limit     int
	Offset    int
}

type RoundDetails struct {
	Category     string
	Verification string
	TargetValue  int64
	DataSource   string
	Oracle       string
}

type RoundStats struct {
	Total       int64
	Active      int64
	Settled     int64
	TotalVolume uint64
}

type GlobalStats struct {
	TotalUsers       int64
	TotalPredictions int64
	TotalVolume      uint64
	TotalWinnings    uint64
}

type RoundRepository interface {
	// InsertRound inserts the round if its id is not already known.
	// Returns false without error when the row already existed.
	InsertRound(ctx context.Context, item *models.Round) (bool, error)
	GetRound(ctx context.Context, roundID uint64) (*models.Round, error)
	ListRounds(ctx context.Context, params ListRoundsParams) ([]models.Round, error)
	CountRounds(ctx context.Context, params ListRoundsParams) (int64, error)
	ListRoundsReadyToClose(ctx context.Context, now int64) ([]models.Round, error)
	ListRoundsReadyToSettle(ctx context.Context, now int64) ([]models.Round, error)
	UpdateRoundStatus(ctx context.Context, roundID uint64, status string) error
	// UpdateRoundDetails fills metadata the on-ledger event does not
	// carry (category, verification, target, data source, oracle).
	UpdateRoundDetails(ctx context.Context, roundID uint64, details RoundDetails) error
	UpdateRoundPool(ctx context.Context, roundID uint64, totalPool uint64, totalBets uint32) error
	MarkRoundSettled(ctx context.Context, roundID uint64, outcome int16, winningPool, platformFee uint64, settledAt int64) error
	MarkRoundCancelled(ctx context.Context, roundID uint64) error
	GetRoundStats(ctx context.Context) (RoundStats, error)
}

type PredictionRepository interface {
	// InsertPrediction inserts unless the (round, user) pair already has
	// a row. Returns false without error on conflict.
	InsertPrediction(ctx context.Context, item *models.Prediction) (bool, error)
	GetPredictionByAddress(ctx context.Context, address string) (*models.Prediction, error)
	ListPredictionsByRound(ctx context.Context, roundID uint64, limit, offset int) ([]models.Prediction, error)
	ListPredictionsByUser(ctx context.Context, user string, limit, offset int) ([]models.Prediction, error)
	ListUnclaimedWinnings(ctx context.Context, user string) ([]models.Prediction, error)
	SumPredictionsByOutcome(ctx context.Context, roundID uint64, outcome uint8) (uint64, error)
	SumPredictions(ctx context.Context, roundID uint64) (uint64, int64, error)
	MarkPredictionWinner(ctx context.Context, address string, payout uint64) error
	MarkPredictionLoser(ctx context.Context, address string) error
	MarkPredictionClaimed(ctx context.Context, address string, claimedAt int64) error
}

type UserStatsRepository interface {
	GetUserStats(ctx context.Context, user string) (*models.UserStats, error)
	// RecordPrediction lazily creates the row on first prediction.
	RecordPrediction(ctx context.Context, user string, amount uint64) error
	RecordWin(ctx context.Context, user string, payout uint64) error
	RecordLoss(ctx context.Context, user string, amount uint64) error
	RecomputeRanks(ctx context.Context) error
	ListLeaderboard(ctx context.Context, limit, offset int) ([]models.UserStats, error)
	ListTopWinners(ctx context.Context, limit int) ([]models.UserStats, error)
	ListTopStreaks(ctx context.Context, limit int) ([]models.UserStats, error)
	GetGlobalStats(ctx context.Context) (GlobalStats, error)
}

type EventLogRepository interface {
	// AppendEvent inserts the audit row. Returns false without error when
	// the (signature, log_index) pair was already recorded; callers use
	// that as the duplicate-delivery signal.
	AppendEvent(ctx context.Context, item *models.EventLogEntry) (bool, error)
	ListEvents(ctx context.Context, params ListEventsParams) ([]models.EventLogEntry, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ArchiveRepository interface {
	// ArchiveRounds moves settled/cancelled rounds older than cutoff,
	// together with their predictions, into the archive tables within one
	// transaction. Returns the number of rounds and predictions moved.
	ArchiveRounds(ctx context.Context, cutoff time.Time) (int64, int64, error)
}

type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	RoundRepository
	PredictionRepository
	UserStatsRepository
	EventLogRepository
	ArchiveRepository
}
