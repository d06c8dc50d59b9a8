package projector

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"zeitgeist/internal/models"
	"zeitgeist/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It implements the full interface but projector tests use only a subset.
type stubRepo struct {
	rounds      map[uint64]*models.Round
	predictions map[string]*models.Prediction
	stats       map[string]*models.UserStats
	seenEvents  map[string]bool
	eventRows   []models.EventLogEntry

	ranksRecomputed int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		rounds:      map[uint64]*models.Round{},
		predictions: map[string]*models.Prediction{},
		stats:       map[string]*models.UserStats{},
		seenEvents:  map[string]bool{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) InsertRound(ctx context.Context, item *models.Round) (bool, error) {
	if _, ok := s.rounds[item.RoundID]; ok {
		return false, nil
	}
	clone := *item
	s.rounds[item.RoundID] = &clone
	return true, nil
}

func (s *stubRepo) GetRound(ctx context.Context, roundID uint64) (*models.Round, error) {
	return s.rounds[roundID], nil
}

func (s *stubRepo) ListRounds(ctx context.Context, params repository.ListRoundsParams) ([]models.Round, error) {
	var out []models.Round
	for _, r := range s.rounds {
		if params.Status == "" || r.Status == params.Status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubRepo) CountRounds(ctx context.Context, params repository.ListRoundsParams) (int64, error) {
	items, _ := s.ListRounds(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) ListRoundsReadyToClose(ctx context.Context, now int64) ([]models.Round, error) {
	var out []models.Round
	for _, r := range s.rounds {
		if r.Status == models.RoundStatusActive && r.BettingEnd <= now {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubRepo) ListRoundsReadyToSettle(ctx context.Context, now int64) ([]models.Round, error) {
	var out []models.Round
	for _, r := range s.rounds {
		if r.Status == models.RoundStatusBettingClosed && r.EndTime <= now {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateRoundStatus(ctx context.Context, roundID uint64, status string) error {
	if r, ok := s.rounds[roundID]; ok {
		r.Status = status
	}
	return nil
}

func (s *stubRepo) UpdateRoundDetails(ctx context.Context, roundID uint64, details repository.RoundDetails) error {
	if r, ok := s.rounds[roundID]; ok {
		r.Category = details.Category
		r.Verification = details.Verification
		r.TargetValue = details.TargetValue
		r.DataSource = details.DataSource
		r.Oracle = details.Oracle
	}
	return nil
}

func (s *stubRepo) UpdateRoundPool(ctx context.Context, roundID uint64, totalPool uint64, totalBets uint32) error {
	if r, ok := s.rounds[roundID]; ok {
		r.TotalPool = totalPool
		r.TotalBets = totalBets
	}
	return nil
}

func (s *stubRepo) MarkRoundSettled(ctx context.Context, roundID uint64, outcome int16, winningPool, platformFee uint64, settledAt int64) error {
	r, ok := s.rounds[roundID]
	if !ok || r.WinningOutcome != nil {
		return nil
	}
	r.Status = models.RoundStatusSettled
	r.WinningOutcome = &outcome
	r.WinningPool = winningPool
	r.PlatformFee = platformFee
	r.SettledAt = &settledAt
	return nil
}

func (s *stubRepo) MarkRoundCancelled(ctx context.Context, roundID uint64) error {
	if r, ok := s.rounds[roundID]; ok && r.Status != models.RoundStatusSettled {
		r.Status = models.RoundStatusCancelled
		r.IsCancelled = true
	}
	return nil
}

func (s *stubRepo) GetRoundStats(ctx context.Context) (repository.RoundStats, error) {
	return repository.RoundStats{}, nil
}

func (s *stubRepo) InsertPrediction(ctx context.Context, item *models.Prediction) (bool, error) {
	for _, p := range s.predictions {
		if p.RoundID == item.RoundID && p.User == item.User {
			return false, nil
		}
	}
	clone := *item
	s.predictions[item.Address] = &clone
	return true, nil
}

func (s *stubRepo) GetPredictionByAddress(ctx context.Context, address string) (*models.Prediction, error) {
	return s.predictions[address], nil
}

func (s *stubRepo) ListPredictionsByRound(ctx context.Context, roundID uint64, limit, offset int) ([]models.Prediction, error) {
	var out []models.Prediction
	for _, p := range s.predictions {
		if p.RoundID == roundID {
			out = append(out, *p)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) ListPredictionsByUser(ctx context.Context, user string, limit, offset int) ([]models.Prediction, error) {
	var out []models.Prediction
	for _, p := range s.predictions {
		if p.User == user {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubRepo) ListUnclaimedWinnings(ctx context.Context, user string) ([]models.Prediction, error) {
	var out []models.Prediction
	for _, p := range s.predictions {
		if p.User == user && p.IsWinner != nil && *p.IsWinner && !p.IsClaimed {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubRepo) SumPredictionsByOutcome(ctx context.Context, roundID uint64, outcome uint8) (uint64, error) {
	var sum uint64
	for _, p := range s.predictions {
		if p.RoundID == roundID && p.Outcome == outcome {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (s *stubRepo) SumPredictions(ctx context.Context, roundID uint64) (uint64, int64, error) {
	var sum uint64
	var count int64
	for _, p := range s.predictions {
		if p.RoundID == roundID {
			sum += p.Amount
			count++
		}
	}
	return sum, count, nil
}

func (s *stubRepo) MarkPredictionWinner(ctx context.Context, address string, payout uint64) error {
	if p, ok := s.predictions[address]; ok {
		win := true
		p.IsWinner = &win
		p.Payout = payout
	}
	return nil
}

func (s *stubRepo) MarkPredictionLoser(ctx context.Context, address string) error {
	if p, ok := s.predictions[address]; ok {
		lose := false
		p.IsWinner = &lose
	}
	return nil
}

func (s *stubRepo) MarkPredictionClaimed(ctx context.Context, address string, claimedAt int64) error {
	if p, ok := s.predictions[address]; ok {
		p.IsClaimed = true
		p.ClaimedAt = &claimedAt
	}
	return nil
}

func (s *stubRepo) GetUserStats(ctx context.Context, user string) (*models.UserStats, error) {
	return s.stats[user], nil
}

func (s *stubRepo) userStats(user string) *models.UserStats {
	if st, ok := s.stats[user]; ok {
		return st
	}
	st := &models.UserStats{User: user}
	s.stats[user] = st
	return st
}

func (s *stubRepo) RecordPrediction(ctx context.Context, user string, amount uint64) error {
	st := s.userStats(user)
	st.TotalPredictions++
	st.TotalWagered += amount
	return nil
}

func (s *stubRepo) RecordWin(ctx context.Context, user string, payout uint64) error {
	st := s.userStats(user)
	st.TotalWins++
	st.TotalWon += payout
	st.NetProfit += int64(payout)
	st.CurrentStreak++
	if st.CurrentStreak > st.BestStreak {
		st.BestStreak = st.CurrentStreak
	}
	return nil
}

func (s *stubRepo) RecordLoss(ctx context.Context, user string, amount uint64) error {
	st := s.userStats(user)
	st.TotalLosses++
	st.NetProfit -= int64(amount)
	st.CurrentStreak = 0
	return nil
}

func (s *stubRepo) RecomputeRanks(ctx context.Context) error {
	s.ranksRecomputed++
	return nil
}

func (s *stubRepo) ListLeaderboard(ctx context.Context, limit, offset int) ([]models.UserStats, error) {
	return nil, nil
}

func (s *stubRepo) ListTopWinners(ctx context.Context, limit int) ([]models.UserStats, error) {
	return nil, nil
}

func (s *stubRepo) ListTopStreaks(ctx context.Context, limit int) ([]models.UserStats, error) {
	return nil, nil
}

func (s *stubRepo) GetGlobalStats(ctx context.Context) (repository.GlobalStats, error) {
	return repository.GlobalStats{}, nil
}

func (s *stubRepo) AppendEvent(ctx context.Context, item *models.EventLogEntry) (bool, error) {
	key := fmt.Sprintf("%s|%d", item.Signature, item.LogIndex)
	if s.seenEvents[key] {
		return false, nil
	}
	s.seenEvents[key] = true
	s.eventRows = append(s.eventRows, *item)
	return true, nil
}

func (s *stubRepo) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.EventLogEntry, error) {
	return s.eventRows, nil
}

func (s *stubRepo) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *stubRepo) ArchiveRounds(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	return 0, 0, nil
}
