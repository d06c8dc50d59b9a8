package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"math/bits"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"zeitgeist/internal/events"
	"zeitgeist/internal/ledger"
	"zeitgeist/internal/models"
	"zeitgeist/internal/repository"
)

// Notifier fan-outs projection results to live subscribers. Publishing
// is fire-and-forget; a slow subscriber never blocks projection.
type Notifier interface {
	Publish(topic string, payload any)
}

// Topics published after successful projection.
const (
	TopicRoundCreated      = "round:created"
	TopicRoundUpdated      = "round:updated"
	TopicRoundBettingClose = "round:betting_closed"
	TopicRoundSettled      = "round:settled"
	TopicPredictionPlaced  = "prediction:placed"
	TopicPoolUpdated       = "pool:updated"
	TopicWinningsAvailable = "winnings:available"
)

// Projector applies decoded ledger events to the relational projection.
// Every event is journaled first; the journal's (signature, log_index)
// uniqueness makes replays after reconnect no-ops.
type Projector struct {
	repo   repository.Repository
	addrs  ledger.Addresses
	notify Notifier
	logger *zap.Logger
}

func New(repo repository.Repository, addrs ledger.Addresses, notify Notifier, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		repo:   repo,
		addrs:  addrs,
		notify: notify,
		logger: logger,
	}
}

// Apply journals the event and runs its projection rule. A duplicate
// event is skipped silently. Rule failures are logged and swallowed so
// one bad event cannot stall the stream; journal failures are returned
// because nothing was recorded.
func (p *Projector) Apply(ctx context.Context, ev *events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	entry := &models.EventLogEntry{
		EventType: ev.Type,
		Payload:   datatypes.JSON(payload),
		Signature: ev.Signature,
		LogIndex:  ev.LogIndex,
		Slot:      ev.Slot,
		BlockTime: ev.BlockTime,
	}
	if id, ok := ev.RoundID(); ok {
		entry.RoundID = &id
	}
	if user, ok := ev.User(); ok {
		s := user.String()
		entry.User = &s
	}
	created, err := p.repo.AppendEvent(ctx, entry)
	if err != nil {
		return fmt.Errorf("append event %s[%d]: %w", ev.Signature, ev.LogIndex, err)
	}
	if !created {
		p.logger.Debug("duplicate event skipped",
			zap.String("type", ev.Type),
			zap.String("signature", ev.Signature),
			zap.Int("log_index", ev.LogIndex))
		return nil
	}

	if err := p.project(ctx, ev); err != nil {
		p.logger.Error("projection rule failed",
			zap.String("type", ev.Type),
			zap.String("signature", ev.Signature),
			zap.Error(err))
	}
	return nil
}

func (p *Projector) project(ctx context.Context, ev *events.Event) error {
	switch payload := ev.Payload.(type) {
	case *events.RoundCreated:
		return p.onRoundCreated(ctx, payload)
	case *events.PredictionPlaced:
		return p.onPredictionPlaced(ctx, payload)
	case *events.BettingClosed:
		return p.onBettingClosed(ctx, payload)
	case *events.RoundSettled:
		return p.onRoundSettled(ctx, payload)
	case *events.WinningsClaimed:
		return p.onWinningsClaimed(ctx, payload)
	case *events.RoundCancelled:
		return p.onRoundCancelled(ctx, payload)
	default:
		p.logger.Warn("no projection rule for event", zap.String("type", ev.Type))
		return nil
	}
}

func (p *Projector) onRoundCreated(ctx context.Context, ev *events.RoundCreated) error {
	addr, _, err := p.addrs.Round(ev.RoundID)
	if err != nil {
		return err
	}
	round := &models.Round{
		RoundID:      ev.RoundID,
		Address:      addr.String(),
		Question:     ev.Description,
		NumOutcomes:  ev.NumOutcomes,
		BettingStart: ev.StartTime,
		BettingEnd:   ev.EndTime,
		EndTime:      ev.EndTime,
		Status:       models.RoundStatusActive,
		CreatedBy:    ev.Creator.String(),
	}
	created, err := p.repo.InsertRound(ctx, round)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	p.publish(TopicRoundCreated, round)
	return nil
}

func (p *Projector) onPredictionPlaced(ctx context.Context, ev *events.PredictionPlaced) error {
	addr, _, err := p.addrs.Prediction(ev.RoundID, ev.User)
	if err != nil {
		return err
	}
	prediction := &models.Prediction{
		Address:  addr.String(),
		RoundID:  ev.RoundID,
		User:     ev.User.String(),
		Outcome:  ev.Outcome,
		Amount:   ev.Amount,
		PlacedAt: ev.Timestamp,
	}
	created, err := p.repo.InsertPrediction(ctx, prediction)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if err := p.repo.RecordPrediction(ctx, prediction.User, ev.Amount); err != nil {
		return err
	}
	totalPool, totalBets, err := p.repo.SumPredictions(ctx, ev.RoundID)
	if err != nil {
		return err
	}
	if err := p.repo.UpdateRoundPool(ctx, ev.RoundID, totalPool, uint32(totalBets)); err != nil {
		return err
	}
	p.publish(TopicPredictionPlaced, prediction)
	p.publish(TopicPoolUpdated, map[string]any{
		"round_id":   ev.RoundID,
		"total_pool": totalPool,
		"total_bets": totalBets,
	})
	return nil
}

func (p *Projector) onBettingClosed(ctx context.Context, ev *events.BettingClosed) error {
	if err := p.repo.UpdateRoundStatus(ctx, ev.RoundID, models.RoundStatusBettingClosed); err != nil {
		return err
	}
	if err := p.repo.UpdateRoundPool(ctx, ev.RoundID, ev.TotalPool, ev.TotalPredictions); err != nil {
		return err
	}
	p.publish(TopicRoundBettingClose, ev)
	return nil
}

func (p *Projector) onRoundSettled(ctx context.Context, ev *events.RoundSettled) error {
	err := p.repo.MarkRoundSettled(ctx, ev.RoundID, int16(ev.WinningOutcome), ev.WinningPool, ev.PlatformFee, ev.Timestamp)
	if err != nil {
		return err
	}

	distributable := ev.TotalPool - ev.PlatformFee
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		predictions, err := p.repo.ListPredictionsByRound(ctx, ev.RoundID, pageSize, offset)
		if err != nil {
			return err
		}
		for i := range predictions {
			pred := &predictions[i]
			if pred.Outcome == ev.WinningOutcome {
				payout := uint64(0)
				if ev.WinningPool > 0 {
					payout = mulDiv(pred.Amount, distributable, ev.WinningPool)
				}
				if err := p.repo.MarkPredictionWinner(ctx, pred.Address, payout); err != nil {
					return err
				}
				if err := p.repo.RecordWin(ctx, pred.User, payout); err != nil {
					return err
				}
				p.publish(TopicWinningsAvailable, map[string]any{
					"round_id": ev.RoundID,
					"user":     pred.User,
					"amount":   payout,
				})
			} else {
				if err := p.repo.MarkPredictionLoser(ctx, pred.Address); err != nil {
					return err
				}
				if err := p.repo.RecordLoss(ctx, pred.User, pred.Amount); err != nil {
					return err
				}
			}
		}
		if len(predictions) < pageSize {
			break
		}
	}

	if err := p.repo.RecomputeRanks(ctx); err != nil {
		return err
	}
	p.publish(TopicRoundSettled, ev)
	return nil
}

func (p *Projector) onWinningsClaimed(ctx context.Context, ev *events.WinningsClaimed) error {
	addr, _, err := p.addrs.Prediction(ev.RoundID, ev.User)
	if err != nil {
		return err
	}
	if err := p.repo.MarkPredictionClaimed(ctx, addr.String(), ev.Timestamp); err != nil {
		return err
	}
	p.publish(TopicRoundUpdated, ev)
	return nil
}

func (p *Projector) onRoundCancelled(ctx context.Context, ev *events.RoundCancelled) error {
	if err := p.repo.MarkRoundCancelled(ctx, ev.RoundID); err != nil {
		return err
	}
	p.publish(TopicRoundUpdated, ev)
	return nil
}

func (p *Projector) publish(topic string, payload any) {
	if p.notify == nil {
		return
	}
	p.notify.Publish(topic, payload)
}

// mulDiv computes floor(a*b/d) through a 128-bit intermediate so large
// pools cannot overflow. The quotient always fits: a is one stake inside
// the d pool, so a*b/d <= b.
func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, d)
	return q
}
