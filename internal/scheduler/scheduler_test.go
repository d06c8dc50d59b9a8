package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"zeitgeist/internal/config"
	"zeitgeist/internal/ledger"
	"zeitgeist/internal/models"
	"zeitgeist/internal/oracle"
	"zeitgeist/internal/repository"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// fakeLedger records instruction calls and returns scripted errors.
type fakeLedger struct {
	authority ledger.PublicKey
	slot      uint64

	createErr error
	closeErr  error
	settleErr error

	createCalls []ledger.CreateRoundParams
	closeCalls  []uint64
	settleCalls []struct {
		roundID     uint64
		winningPool uint64
	}
}

func (f *fakeLedger) Authority() ledger.PublicKey { return f.authority }

func (f *fakeLedger) CreateRound(ctx context.Context, p ledger.CreateRoundParams) (string, error) {
	f.createCalls = append(f.createCalls, p)
	if f.createErr != nil {
		return "", f.createErr
	}
	return "createSig", nil
}

func (f *fakeLedger) CloseBetting(ctx context.Context, roundID uint64) (string, error) {
	f.closeCalls = append(f.closeCalls, roundID)
	if f.closeErr != nil {
		return "", f.closeErr
	}
	return "closeSig", nil
}

func (f *fakeLedger) SettleRound(ctx context.Context, roundID uint64, winningPool uint64) (string, error) {
	f.settleCalls = append(f.settleCalls, struct {
		roundID     uint64
		winningPool uint64
	}{roundID, winningPool})
	if f.settleErr != nil {
		return "", f.settleErr
	}
	return "settleSig", nil
}

func (f *fakeLedger) CurrentSlot(ctx context.Context) (uint64, error) { return f.slot, nil }

// stubRepo implements the scheduler's slice of the repository. Unused
// methods come from the embedded interface and panic if reached.
type stubRepo struct {
	repository.Repository

	rounds       map[uint64]*models.Round
	predictions  []models.Prediction
	details      map[uint64]repository.RoundDetails
	eventCutoff  time.Time
	roundCutoff  time.Time
	eventsPruned bool
	archived     bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		rounds:  map[uint64]*models.Round{},
		details: map[uint64]repository.RoundDetails{},
	}
}

func (s *stubRepo) InsertRound(ctx context.Context, item *models.Round) (bool, error) {
	if _, ok := s.rounds[item.RoundID]; ok {
		return false, nil
	}
	clone := *item
	s.rounds[item.RoundID] = &clone
	return true, nil
}

func (s *stubRepo) UpdateRoundDetails(ctx context.Context, roundID uint64, details repository.RoundDetails) error {
	s.details[roundID] = details
	return nil
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

func (s *stubRepo) SumPredictionsByOutcome(ctx context.Context, roundID uint64, outcome uint8) (uint64, error) {
	var sum uint64
	for _, p := range s.predictions {
		if p.RoundID == roundID && p.Outcome == outcome {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (s *stubRepo) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.eventsPruned = true
	s.eventCutoff = cutoff
	return 3, nil
}

func (s *stubRepo) ArchiveRounds(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	s.archived = true
	s.roundCutoff = cutoff
	return 2, 5, nil
}

func testAuthority() ledger.PublicKey {
	var pk ledger.PublicKey
	copy(pk[:], bytes.Repeat([]byte{0x22}, 32))
	return pk
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled: true,
		RoundCreator: config.RoundCreatorConfig{
			Enabled:       true,
			Interval:      time.Minute,
			RoundDuration: time.Minute,
			Category:      "price",
			Symbol:        "SOL/USD",
			DefaultTarget: 15000,
		},
		Cleanup: config.CleanupConfig{
			Enabled:        true,
			RoundRetention: 720 * time.Hour,
			EventRetention: 240 * time.Hour,
		},
	}
}

func newTestScheduler(repo *stubRepo, fl *fakeLedger, cache *oracle.Cache, now time.Time) *Scheduler {
	if cache == nil {
		cache = oracle.NewCache()
	}
	return New(Options{
		Config: testConfig(),
		Repo:   repo,
		Ledger: fl,
		Addrs:  ledger.Addresses{ProgramID: testAuthority()},
		Cache:  cache,
		Clock:  fixedClock{at: now},
	})
}

func TestRunRoundCreator_TargetFromCachedPrice(t *testing.T) {
	repo := newStubRepo()
	fl := &fakeLedger{authority: testAuthority()}
	cache := oracle.NewCache()
	cache.Set(oracle.Price{Symbol: "SOL/USD", Price: decimal.NewFromFloat(150.25)})
	now := time.Unix(1700001000, 0)

	sched := newTestScheduler(repo, fl, cache, now)
	sched.RunRoundCreator(context.Background())

	if len(fl.createCalls) != 1 {
		t.Fatalf("create calls=%d want 1", len(fl.createCalls))
	}
	call := fl.createCalls[0]
	if call.RoundID != 1700001000 {
		t.Fatalf("round id=%d want creation second", call.RoundID)
	}
	if call.TargetValue != 15025 {
		t.Fatalf("target=%d want 15025 cents", call.TargetValue)
	}
	if call.EndTime != now.Unix()+60 {
		t.Fatalf("end time=%d", call.EndTime)
	}
	if call.Question != "Will SOL/USD close above $150.25?" {
		t.Fatalf("question=%q", call.Question)
	}

	round := repo.rounds[1700001000]
	if round == nil {
		t.Fatalf("metadata row not inserted")
	}
	if round.Verification != models.VerificationPythPrice || round.TargetValue != 15025 {
		t.Fatalf("round metadata: %+v", round)
	}
	if round.Oracle != testAuthority().String() {
		t.Fatalf("oracle=%s", round.Oracle)
	}
}

func TestRunRoundCreator_DefaultTargetWithoutPrice(t *testing.T) {
	repo := newStubRepo()
	fl := &fakeLedger{authority: testAuthority()}

	sched := newTestScheduler(repo, fl, nil, time.Unix(1700001000, 0))
	sched.RunRoundCreator(context.Background())

	if len(fl.createCalls) != 1 {
		t.Fatalf("create calls=%d want 1", len(fl.createCalls))
	}
	if fl.createCalls[0].TargetValue != 15000 {
		t.Fatalf("target=%d want configured default", fl.createCalls[0].TargetValue)
	}
}

func TestRunRoundCreator_UpdatesDetailsWhenRowExists(t *testing.T) {
	repo := newStubRepo()
	fl := &fakeLedger{authority: testAuthority()}
	now := time.Unix(1700001000, 0)

	// The indexer projected the bare event row first.
	repo.rounds[1700001000] = &models.Round{RoundID: 1700001000, Status: models.RoundStatusActive}

	sched := newTestScheduler(repo, fl, nil, now)
	sched.RunRoundCreator(context.Background())

	details, ok := repo.details[1700001000]
	if !ok {
		t.Fatalf("details not backfilled on existing row")
	}
	if details.Verification != models.VerificationPythPrice || details.TargetValue != 15000 {
		t.Fatalf("details: %+v", details)
	}
}

func TestRunRoundCreator_BenignRejection(t *testing.T) {
	repo := newStubRepo()
	fl := &fakeLedger{
		authority: testAuthority(),
		createErr: errors.New("rpc: transaction simulation failed: custom program error: 0x0"),
	}

	sched := newTestScheduler(repo, fl, nil, time.Unix(1700001000, 0))
	sched.RunRoundCreator(context.Background())

	if len(repo.rounds) != 0 {
		t.Fatalf("row inserted despite rejected instruction")
	}
}

func TestRunBettingCloser(t *testing.T) {
	repo := newStubRepo()
	repo.rounds[1] = &models.Round{RoundID: 1, Status: models.RoundStatusActive, BettingEnd: 100}
	repo.rounds[2] = &models.Round{RoundID: 2, Status: models.RoundStatusActive, BettingEnd: 500}
	fl := &fakeLedger{authority: testAuthority()}

	sched := newTestScheduler(repo, fl, nil, time.Unix(200, 0))
	sched.RunBettingCloser(context.Background())

	if len(fl.closeCalls) != 1 || fl.closeCalls[0] != 1 {
		t.Fatalf("close calls=%v want [1]", fl.closeCalls)
	}
}

func TestRunSettlement_PriceAboveTarget(t *testing.T) {
	repo := newStubRepo()
	repo.rounds[7] = &models.Round{
		RoundID:      7,
		Status:       models.RoundStatusBettingClosed,
		EndTime:      100,
		Verification: models.VerificationPythPrice,
		TargetValue:  15000,
	}
	repo.predictions = []models.Prediction{
		{RoundID: 7, Outcome: 0, Amount: 400},
		{RoundID: 7, Outcome: 0, Amount: 100},
		{RoundID: 7, Outcome: 1, Amount: 900},
	}
	fl := &fakeLedger{authority: testAuthority()}
	cache := oracle.NewCache()
	cache.Set(oracle.Price{Symbol: "SOL/USD", Price: decimal.NewFromFloat(151.00)})

	sched := newTestScheduler(repo, fl, cache, time.Unix(200, 0))
	sched.RunSettlement(context.Background())

	if len(fl.settleCalls) != 1 {
		t.Fatalf("settle calls=%d want 1", len(fl.settleCalls))
	}
	// Price at or above target means outcome 0 wins; its pool is 500.
	if fl.settleCalls[0].roundID != 7 || fl.settleCalls[0].winningPool != 500 {
		t.Fatalf("settle call=%+v", fl.settleCalls[0])
	}
}

func TestRunSettlement_PriceBelowTarget(t *testing.T) {
	repo := newStubRepo()
	repo.rounds[8] = &models.Round{
		RoundID:      8,
		Status:       models.RoundStatusBettingClosed,
		EndTime:      100,
		Verification: models.VerificationPythPrice,
		TargetValue:  15000,
	}
	repo.predictions = []models.Prediction{
		{RoundID: 8, Outcome: 0, Amount: 400},
		{RoundID: 8, Outcome: 1, Amount: 900},
	}
	fl := &fakeLedger{authority: testAuthority()}
	cache := oracle.NewCache()
	cache.Set(oracle.Price{Symbol: "SOL/USD", Price: decimal.NewFromFloat(149.99)})

	sched := newTestScheduler(repo, fl, cache, time.Unix(200, 0))
	sched.RunSettlement(context.Background())

	if len(fl.settleCalls) != 1 || fl.settleCalls[0].winningPool != 900 {
		t.Fatalf("settle calls=%+v want no pool 900", fl.settleCalls)
	}
}

func TestRunSettlement_DefersWithoutCachedPrice(t *testing.T) {
	repo := newStubRepo()
	repo.rounds[9] = &models.Round{
		RoundID:      9,
		Status:       models.RoundStatusBettingClosed,
		EndTime:      100,
		Verification: models.VerificationPythPrice,
		TargetValue:  15000,
	}
	fl := &fakeLedger{authority: testAuthority()}

	sched := newTestScheduler(repo, fl, nil, time.Unix(200, 0))
	sched.RunSettlement(context.Background())

	if len(fl.settleCalls) != 0 {
		t.Fatalf("settled without an oracle price: %+v", fl.settleCalls)
	}
}

func TestRunSettlement_SlotVerification(t *testing.T) {
	repo := newStubRepo()
	repo.rounds[10] = &models.Round{
		RoundID:      10,
		Status:       models.RoundStatusBettingClosed,
		EndTime:      100,
		Verification: models.VerificationOnChainData,
		TargetValue:  5000,
	}
	repo.predictions = []models.Prediction{
		{RoundID: 10, Outcome: 0, Amount: 250},
	}
	fl := &fakeLedger{authority: testAuthority(), slot: 6000}

	sched := newTestScheduler(repo, fl, nil, time.Unix(200, 0))
	sched.RunSettlement(context.Background())

	if len(fl.settleCalls) != 1 || fl.settleCalls[0].winningPool != 250 {
		t.Fatalf("settle calls=%+v", fl.settleCalls)
	}
}

func TestRunCleanup_AppliesRetention(t *testing.T) {
	repo := newStubRepo()
	fl := &fakeLedger{authority: testAuthority()}
	now := time.Unix(1700000000, 0)

	sched := newTestScheduler(repo, fl, nil, now)
	sched.RunCleanup(context.Background())

	if !repo.eventsPruned || !repo.archived {
		t.Fatalf("cleanup skipped: events=%v rounds=%v", repo.eventsPruned, repo.archived)
	}
	if got := repo.eventCutoff; !got.Equal(now.Add(-240 * time.Hour)) {
		t.Fatalf("event cutoff=%v", got)
	}
	if got := repo.roundCutoff; !got.Equal(now.Add(-720 * time.Hour)) {
		t.Fatalf("round cutoff=%v", got)
	}
}
