package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"zeitgeist/internal/config"
	cronrunner "zeitgeist/internal/cron"
	"zeitgeist/internal/ledger"
	"zeitgeist/internal/models"
	"zeitgeist/internal/notify"
	"zeitgeist/internal/oracle"
	"zeitgeist/internal/repository"
)

// LedgerClient is the slice of the instruction facade the scheduler
// drives.
type LedgerClient interface {
	Authority() ledger.PublicKey
	CreateRound(ctx context.Context, p ledger.CreateRoundParams) (string, error)
	CloseBetting(ctx context.Context, roundID uint64) (string, error)
	SettleRound(ctx context.Context, roundID uint64, winningPool uint64) (string, error)
	CurrentSlot(ctx context.Context) (uint64, error)
}

type PriceSource interface {
	LatestPrices(ctx context.Context, feeds []oracle.Feed) ([]oracle.Price, error)
}

type Notifier interface {
	Publish(topic string, payload any)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type Options struct {
	Config config.SchedulerConfig
	Repo   repository.Repository
	Ledger LedgerClient
	Addrs  ledger.Addresses
	Prices PriceSource
	Feeds  []oracle.Feed
	Cache  *oracle.Cache
	Notify Notifier
	Clock  Clock
	Logger *zap.Logger
}

// Scheduler owns the periodic lifecycle work: opening rounds, closing
// betting windows, settling expired rounds, refreshing oracle prices,
// and nightly retention. Every task treats the ledger as the source of
// truth; the database only changes through projected events, except for
// round metadata the events do not carry.
type Scheduler struct {
	cfg    config.SchedulerConfig
	repo   repository.Repository
	ledger LedgerClient
	addrs  ledger.Addresses
	prices PriceSource
	feeds  []oracle.Feed
	cache  *oracle.Cache
	notify Notifier
	clock  Clock
	logger *zap.Logger
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    opts.Config,
		repo:   opts.Repo,
		ledger: opts.Ledger,
		addrs:  opts.Addrs,
		prices: opts.Prices,
		feeds:  opts.Feeds,
		cache:  opts.Cache,
		notify: opts.Notify,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
}

// Register adds every enabled task to the runner.
func (s *Scheduler) Register(r *cronrunner.Runner) error {
	if s.cfg.RoundCreator.Enabled {
		if _, err := r.Add(everySpec(s.cfg.RoundCreator.Interval), s.RunRoundCreator); err != nil {
			return fmt.Errorf("register round creator: %w", err)
		}
	}
	if s.cfg.BettingCloser.Enabled {
		if _, err := r.Add(everySpec(s.cfg.BettingCloser.Interval), s.RunBettingCloser); err != nil {
			return fmt.Errorf("register betting closer: %w", err)
		}
	}
	if s.cfg.Settlement.Enabled {
		if _, err := r.Add(everySpec(s.cfg.Settlement.Interval), s.RunSettlement); err != nil {
			return fmt.Errorf("register settlement: %w", err)
		}
	}
	if s.cfg.PriceMonitor.Enabled {
		if _, err := r.Add(everySpec(s.cfg.PriceMonitor.Interval), s.RunPriceMonitor); err != nil {
			return fmt.Errorf("register price monitor: %w", err)
		}
	}
	if s.cfg.Cleanup.Enabled {
		if _, err := r.Add(s.cfg.Cleanup.Schedule, s.RunCleanup); err != nil {
			return fmt.Errorf("register cleanup: %w", err)
		}
	}
	return nil
}

func everySpec(interval time.Duration) string {
	if interval <= 0 {
		interval = time.Minute
	}
	return "@every " + interval.String()
}

// RunRoundCreator opens the next round. Round ids are the creation unix
// second, which keeps them unique at one round per tick and sortable.
func (s *Scheduler) RunRoundCreator(ctx context.Context) {
	cfg := s.cfg.RoundCreator
	now := s.clock.Now().Unix()
	roundID := uint64(now)

	target := cfg.DefaultTarget
	if price, ok := s.cache.Get(cfg.Symbol); ok {
		target = price.Price.Shift(2).Round(0).IntPart()
	}
	question := fmt.Sprintf("Will %s close above $%s?",
		cfg.Symbol, decimal.NewFromInt(target).Shift(-2).StringFixed(2))

	var dataSource ledger.PublicKey
	if cfg.DataSource != "" {
		parsed, err := ledger.PublicKeyFromBase58(cfg.DataSource)
		if err != nil {
			s.logger.Error("invalid data source pubkey", zap.String("value", cfg.DataSource), zap.Error(err))
			return
		}
		dataSource = parsed
	}

	endTime := now + int64(cfg.RoundDuration/time.Second)
	sig, err := s.ledger.CreateRound(ctx, ledger.CreateRoundParams{
		RoundID:      roundID,
		StartTime:    now,
		EndTime:      endTime,
		NumOutcomes:  2,
		Question:     question,
		Verification: ledger.VerifyPythPrice,
		TargetValue:  target,
		DataSource:   dataSource,
		Oracle:       s.ledger.Authority(),
	})
	if err != nil {
		if ledger.IsProgramRejection(err) {
			s.logger.Debug("round already exists", zap.Uint64("round_id", roundID))
			return
		}
		s.logger.Error("create round failed", zap.Uint64("round_id", roundID), zap.Error(err))
		return
	}
	s.logger.Info("round created",
		zap.Uint64("round_id", roundID),
		zap.Int64("target_cents", target),
		zap.String("signature", sig))

	// The RoundCreated event carries none of the oracle metadata, so
	// write it here. The indexer may or may not have projected the row
	// yet; cover both orders.
	addr, _, err := s.addrs.Round(roundID)
	if err != nil {
		s.logger.Error("derive round address failed", zap.Uint64("round_id", roundID), zap.Error(err))
		return
	}
	round := &models.Round{
		RoundID:      roundID,
		Address:      addr.String(),
		Question:     question,
		Category:     cfg.Category,
		NumOutcomes:  2,
		BettingStart: now,
		BettingEnd:   endTime,
		EndTime:      endTime,
		Status:       models.RoundStatusActive,
		Verification: models.VerificationPythPrice,
		TargetValue:  target,
		DataSource:   cfg.DataSource,
		Oracle:       s.ledger.Authority().String(),
		CreatedBy:    s.ledger.Authority().String(),
	}
	created, err := s.repo.InsertRound(ctx, round)
	if err != nil {
		s.logger.Error("insert round failed", zap.Uint64("round_id", roundID), zap.Error(err))
		return
	}
	if !created {
		err = s.repo.UpdateRoundDetails(ctx, roundID, repository.RoundDetails{
			Category:     cfg.Category,
			Verification: models.VerificationPythPrice,
			TargetValue:  target,
			DataSource:   cfg.DataSource,
			Oracle:       s.ledger.Authority().String(),
		})
		if err != nil {
			s.logger.Error("update round details failed", zap.Uint64("round_id", roundID), zap.Error(err))
		}
	}
}

// RunBettingCloser closes every round whose betting window has elapsed.
// The database is not touched here; the BettingClosed event does that.
func (s *Scheduler) RunBettingCloser(ctx context.Context) {
	now := s.clock.Now().Unix()
	rounds, err := s.repo.ListRoundsReadyToClose(ctx, now)
	if err != nil {
		s.logger.Error("list rounds ready to close failed", zap.Error(err))
		return
	}
	for _, round := range rounds {
		sig, err := s.ledger.CloseBetting(ctx, round.RoundID)
		if err != nil {
			if ledger.IsProgramRejection(err) {
				s.logger.Debug("betting already closed", zap.Uint64("round_id", round.RoundID))
				continue
			}
			s.logger.Error("close betting failed", zap.Uint64("round_id", round.RoundID), zap.Error(err))
			continue
		}
		s.logger.Info("betting closed", zap.Uint64("round_id", round.RoundID), zap.String("signature", sig))
	}
}

// RunSettlement settles rounds past their end time. The winning pool is
// summed from indexed predictions; the program verifies and emits the
// final RoundSettled numbers.
func (s *Scheduler) RunSettlement(ctx context.Context) {
	now := s.clock.Now().Unix()
	rounds, err := s.repo.ListRoundsReadyToSettle(ctx, now)
	if err != nil {
		s.logger.Error("list rounds ready to settle failed", zap.Error(err))
		return
	}
	for _, round := range rounds {
		outcome, ok := s.resolveOutcome(ctx, &round)
		if !ok {
			continue
		}
		winningPool, err := s.repo.SumPredictionsByOutcome(ctx, round.RoundID, outcome)
		if err != nil {
			s.logger.Error("sum winning pool failed", zap.Uint64("round_id", round.RoundID), zap.Error(err))
			continue
		}
		sig, err := s.ledger.SettleRound(ctx, round.RoundID, winningPool)
		if err != nil {
			if ledger.IsProgramRejection(err) {
				s.logger.Debug("round already settled", zap.Uint64("round_id", round.RoundID))
				continue
			}
			s.logger.Error("settle round failed", zap.Uint64("round_id", round.RoundID), zap.Error(err))
			continue
		}
		s.logger.Info("round settled",
			zap.Uint64("round_id", round.RoundID),
			zap.Uint8("winning_outcome", outcome),
			zap.Uint64("winning_pool", winningPool),
			zap.String("signature", sig))
	}
}

// resolveOutcome decides the winning side for a round that is due.
// Outcome 0 is yes (metric at or above target), 1 is no. Rounds whose
// verification the orchestrator cannot resolve are left for manual
// settlement.
func (s *Scheduler) resolveOutcome(ctx context.Context, round *models.Round) (uint8, bool) {
	switch round.Verification {
	case models.VerificationPythPrice:
		price, ok := s.cache.Get(s.cfg.RoundCreator.Symbol)
		if !ok {
			s.logger.Warn("no oracle price cached, deferring settlement",
				zap.Uint64("round_id", round.RoundID),
				zap.String("symbol", s.cfg.RoundCreator.Symbol))
			return 0, false
		}
		if price.Price.Shift(2).Round(0).IntPart() >= round.TargetValue {
			return 0, true
		}
		return 1, true
	case models.VerificationOnChainData:
		slot, err := s.ledger.CurrentSlot(ctx)
		if err != nil {
			s.logger.Warn("slot fetch failed, deferring settlement",
				zap.Uint64("round_id", round.RoundID), zap.Error(err))
			return 0, false
		}
		if round.TargetValue >= 0 && slot >= uint64(round.TargetValue) {
			return 0, true
		}
		return 1, true
	default:
		s.logger.Warn("unsupported verification method, manual settlement required",
			zap.Uint64("round_id", round.RoundID),
			zap.String("verification", round.Verification))
		return 0, false
	}
}

// RunPriceMonitor refreshes the oracle cache and pushes updates to live
// subscribers.
func (s *Scheduler) RunPriceMonitor(ctx context.Context) {
	if len(s.feeds) == 0 {
		return
	}
	prices, err := s.prices.LatestPrices(ctx, s.feeds)
	if err != nil {
		s.logger.Warn("oracle fetch failed", zap.Error(err))
		return
	}
	for _, price := range prices {
		s.cache.Set(price)
		if s.notify != nil {
			s.notify.Publish(notify.TopicPriceUpdate, price)
		}
	}
}

// RunCleanup applies retention: old events are deleted, old finished
// rounds move to the archive tables.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	now := s.clock.Now()
	if s.cfg.Cleanup.EventRetention > 0 {
		cutoff := now.Add(-s.cfg.Cleanup.EventRetention)
		deleted, err := s.repo.DeleteEventsBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("event cleanup failed", zap.Error(err))
		} else if deleted > 0 {
			s.logger.Info("events pruned", zap.Int64("deleted", deleted))
		}
	}
	if s.cfg.Cleanup.RoundRetention > 0 {
		cutoff := now.Add(-s.cfg.Cleanup.RoundRetention)
		rounds, predictions, err := s.repo.ArchiveRounds(ctx, cutoff)
		if err != nil {
			s.logger.Error("round archival failed", zap.Error(err))
		} else if rounds > 0 {
			s.logger.Info("rounds archived",
				zap.Int64("rounds", rounds),
				zap.Int64("predictions", predictions))
		}
	}
}
