package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zeitgeist/internal/models"
	"zeitgeist/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- rounds ------------------------------------------------------------------

func (s *Store) InsertRound(ctx context.Context, item *models.Round) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetRound(ctx context.Context, roundID uint64) (*models.Round, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Round
	err := s.db.WithContext(ctx).First(&item, "round_id = ?", roundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRounds(ctx context.Context, params repository.ListRoundsParams) ([]models.Round, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Round{})
	if strings.TrimSpace(params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(params.Status))
	}
	limit := normalizeLimit(params.Limit, 50)
	var items []models.Round
	if err := query.Order("round_id desc").Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRounds(ctx context.Context, params repository.ListRoundsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Round{})
	if strings.TrimSpace(params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(params.Status))
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ListRoundsReadyToClose(ctx context.Context, now int64) ([]models.Round, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Round
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RoundStatusActive).
		Where("betting_end <= ?", now).
		Order("betting_end asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListRoundsReadyToSettle(ctx context.Context, now int64) ([]models.Round, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Round
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RoundStatusBettingClosed).
		Where("end_time <= ?", now).
		Order("end_time asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateRoundStatus(ctx context.Context, roundID uint64, status string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ?", roundID).
		Update("status", status).Error
}

func (s *Store) UpdateRoundDetails(ctx context.Context, roundID uint64, details repository.RoundDetails) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ?", roundID).
		Updates(map[string]any{
			"category":     details.Category,
			"verification": details.Verification,
			"target_value": details.TargetValue,
			"data_source":  details.DataSource,
			"oracle":       details.Oracle,
		}).Error
}

func (s *Store) UpdateRoundPool(ctx context.Context, roundID uint64, totalPool uint64, totalBets uint32) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ?", roundID).
		Updates(map[string]any{
			"total_pool": totalPool,
			"total_bets": totalBets,
		}).Error
}

func (s *Store) MarkRoundSettled(ctx context.Context, roundID uint64, outcome int16, winningPool, platformFee uint64, settledAt int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	// winning_outcome is written at most once; a second settle event for
	// the same round leaves the original values in place.
	return s.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ?", roundID).
		Where("winning_outcome IS NULL").
		Updates(map[string]any{
			"status":          models.RoundStatusSettled,
			"winning_outcome": outcome,
			"winning_pool":    winningPool,
			"platform_fee":    platformFee,
			"settled_at":      settledAt,
		}).Error
}

func (s *Store) MarkRoundCancelled(ctx context.Context, roundID uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ?", roundID).
		Where("status <> ?", models.RoundStatusSettled).
		Updates(map[string]any{
			"status":       models.RoundStatusCancelled,
			"is_cancelled": true,
		}).Error
}

func (s *Store) GetRoundStats(ctx context.Context) (repository.RoundStats, error) {
	if s == nil || s.db == nil {
		return repository.RoundStats{}, nil
	}
	var row struct {
		Total       int64
		Active      int64
		Settled     int64
		TotalVolume uint64
	}
	err := s.db.WithContext(ctx).Model(&models.Round{}).
		Select(`COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = ?) as active,
			COUNT(*) FILTER (WHERE status = ?) as settled,
			COALESCE(SUM(total_pool), 0) as total_volume`,
			models.RoundStatusActive, models.RoundStatusSettled).
		Scan(&row).Error
	if err != nil {
		return repository.RoundStats{}, err
	}
	return repository.RoundStats{
		Total:       row.Total,
		Active:      row.Active,
		Settled:     row.Settled,
		TotalVolume: row.TotalVolume,
	}, nil
}

// --- predictions -------------------------------------------------------------

func (s *Store) InsertPrediction(ctx context.Context, item *models.Prediction) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetPredictionByAddress(ctx context.Context, address string) (*models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Prediction
	err := s.db.WithContext(ctx).First(&item, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPredictionsByRound(ctx context.Context, roundID uint64, limit, offset int) ([]models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Prediction
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("placed_at desc").
		Limit(normalizeLimit(limit, 100)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPredictionsByUser(ctx context.Context, user string, limit, offset int) ([]models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Prediction
	err := s.db.WithContext(ctx).
		Where("\"user\" = ?", user).
		Order("placed_at desc").
		Limit(normalizeLimit(limit, 50)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListUnclaimedWinnings(ctx context.Context, user string) ([]models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Prediction
	err := s.db.WithContext(ctx).
		Where("\"user\" = ?", user).
		Where("is_winner = ?", true).
		Where("is_claimed = ?", false).
		Order("placed_at desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SumPredictionsByOutcome(ctx context.Context, roundID uint64, outcome uint8) (uint64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total uint64
	err := s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("round_id = ?", roundID).
		Where("outcome = ?", outcome).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) SumPredictions(ctx context.Context, roundID uint64) (uint64, int64, error) {
	if s == nil || s.db == nil {
		return 0, 0, nil
	}
	var row struct {
		Total uint64
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("round_id = ?", roundID).
		Select("COALESCE(SUM(amount), 0) as total, COUNT(*) as count").
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}

func (s *Store) MarkPredictionWinner(ctx context.Context, address string, payout uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("address = ?", address).
		Updates(map[string]any{
			"is_winner": true,
			"payout":    payout,
		}).Error
}

func (s *Store) MarkPredictionLoser(ctx context.Context, address string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("address = ?", address).
		Updates(map[string]any{
			"is_winner": false,
			"payout":    0,
		}).Error
}

func (s *Store) MarkPredictionClaimed(ctx context.Context, address string, claimedAt int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("address = ?", address).
		Updates(map[string]any{
			"is_claimed": true,
			"claimed_at": claimedAt,
		}).Error
}

// --- user stats --------------------------------------------------------------

func (s *Store) GetUserStats(ctx context.Context, user string) (*models.UserStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UserStats
	err := s.db.WithContext(ctx).First(&item, "\"user\" = ?", user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) RecordPrediction(ctx context.Context, user string, amount uint64) error {
	if s == nil || s.db == nil || strings.TrimSpace(user) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO user_stats ("user", total_predictions, total_wagered, created_at, updated_at)
		VALUES (?, 1, ?, NOW(), NOW())
		ON CONFLICT ("user") DO UPDATE SET
			total_predictions = user_stats.total_predictions + 1,
			total_wagered = user_stats.total_wagered + EXCLUDED.total_wagered,
			updated_at = NOW()`,
		user, amount).Error
}

func (s *Store) RecordWin(ctx context.Context, user string, payout uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Exec(`
		UPDATE user_stats SET
			total_wins = total_wins + 1,
			total_won = total_won + ?,
			net_profit = net_profit + ?,
			current_streak = current_streak + 1,
			best_streak = GREATEST(best_streak, current_streak + 1),
			reputation_score = reputation_score + 10,
			updated_at = NOW()
		WHERE "user" = ?`,
		payout, payout, user).Error
}

func (s *Store) RecordLoss(ctx context.Context, user string, amount uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Exec(`
		UPDATE user_stats SET
			total_losses = total_losses + 1,
			net_profit = net_profit - ?,
			current_streak = 0,
			updated_at = NOW()
		WHERE "user" = ?`,
		amount, user).Error
}

func (s *Store) RecomputeRanks(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Exec(`
		UPDATE user_stats SET rank = ranked.rank
		FROM (
			SELECT "user", ROW_NUMBER() OVER (ORDER BY net_profit DESC, total_wins DESC) as rank
			FROM user_stats
			WHERE total_predictions > 0
		) ranked
		WHERE user_stats."user" = ranked."user"`).Error
}

func (s *Store) ListLeaderboard(ctx context.Context, limit, offset int) ([]models.UserStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.UserStats
	err := s.db.WithContext(ctx).
		Where("total_predictions > 0").
		Order("net_profit desc, total_wins desc").
		Limit(normalizeLimit(limit, 100)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTopWinners(ctx context.Context, limit int) ([]models.UserStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.UserStats
	err := s.db.WithContext(ctx).
		Where("total_wins > 0").
		Order("total_won desc").
		Limit(normalizeLimit(limit, 10)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTopStreaks(ctx context.Context, limit int) ([]models.UserStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.UserStats
	err := s.db.WithContext(ctx).
		Where("best_streak > 0").
		Order("best_streak desc, current_streak desc").
		Limit(normalizeLimit(limit, 10)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetGlobalStats(ctx context.Context) (repository.GlobalStats, error) {
	if s == nil || s.db == nil {
		return repository.GlobalStats{}, nil
	}
	var row struct {
		TotalUsers       int64
		TotalPredictions int64
		TotalVolume      uint64
		TotalWinnings    uint64
	}
	err := s.db.WithContext(ctx).Model(&models.UserStats{}).
		Select(`COUNT(*) as total_users,
			COALESCE(SUM(total_predictions), 0) as total_predictions,
			COALESCE(SUM(total_wagered), 0) as total_volume,
			COALESCE(SUM(total_won), 0) as total_winnings`).
		Scan(&row).Error
	if err != nil {
		return repository.GlobalStats{}, err
	}
	return repository.GlobalStats{
		TotalUsers:       row.TotalUsers,
		TotalPredictions: row.TotalPredictions,
		TotalVolume:      row.TotalVolume,
		TotalWinnings:    row.TotalWinnings,
	}, nil
}

// --- event log ---------------------------------------------------------------

func (s *Store) AppendEvent(ctx context.Context, item *models.EventLogEntry) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}, {Name: "log_index"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.EventLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.EventLogEntry{})
	if strings.TrimSpace(params.EventType) != "" {
		query = query.Where("event_type = ?", strings.TrimSpace(params.EventType))
	}
	if params.RoundID != nil {
		query = query.Where("round_id = ?", *params.RoundID)
	}
	var items []models.EventLogEntry
	err := query.Order("id desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.EventLogEntry{})
	return res.RowsAffected, res.Error
}

// --- archival ----------------------------------------------------------------

func (s *Store) ArchiveRounds(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	if s == nil || s.db == nil {
		return 0, 0, nil
	}
	var rounds, predictions int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			INSERT INTO rounds_archive
			SELECT *, NOW() as archived_at FROM rounds
			WHERE status IN (?, ?) AND updated_at < ?`,
			models.RoundStatusSettled, models.RoundStatusCancelled, cutoff)
		if res.Error != nil {
			return res.Error
		}
		rounds = res.RowsAffected
		if rounds == 0 {
			return nil
		}
		res = tx.Exec(`
			INSERT INTO predictions_archive
			SELECT *, NOW() as archived_at FROM predictions
			WHERE round_id IN (
				SELECT round_id FROM rounds
				WHERE status IN (?, ?) AND updated_at < ?
			)`,
			models.RoundStatusSettled, models.RoundStatusCancelled, cutoff)
		if res.Error != nil {
			return res.Error
		}
		predictions = res.RowsAffected
		if err := tx.Exec(`
			DELETE FROM predictions WHERE round_id IN (
				SELECT round_id FROM rounds
				WHERE status IN (?, ?) AND updated_at < ?
			)`,
			models.RoundStatusSettled, models.RoundStatusCancelled, cutoff).Error; err != nil {
			return err
		}
		return tx.Exec(`
			DELETE FROM rounds
			WHERE status IN (?, ?) AND updated_at < ?`,
			models.RoundStatusSettled, models.RoundStatusCancelled, cutoff).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return rounds, predictions, nil
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
