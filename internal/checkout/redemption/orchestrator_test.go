package redemption

import (
	"context"
	"sync"
	"testing"

	"github.com/georgemunganga/printa-checkout/internal/checkout/ledgerclient"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reconcile"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reward"
	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/georgemunganga/printa-checkout/internal/modules/ledger"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/georgemunganga/printa-checkout/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

// faultyLedger wraps the real client to inject failures around a call.
type faultyLedger struct {
	ledgerclient.Client
	afterDeduct   func()
	loseDeduct    bool
	rollbackErr   error
	rollbackCalls int
}

func (f *faultyLedger) Deduct(ctx context.Context, id string, amount decimal.Decimal, key string) (*ledgerclient.Mutation, error) {
	m, err := f.Client.Deduct(ctx, id, amount, key)
	if f.afterDeduct != nil {
		f.afterDeduct()
	}
	if f.loseDeduct {
		return nil, ierr.NewError("response lost").Mark(ierr.ErrLedgerUnavailable)
	}
	return m, err
}

func (f *faultyLedger) Rollback(ctx context.Context, id string, amount decimal.Decimal, key string) (*ledgerclient.Mutation, error) {
	f.rollbackCalls++
	if f.rollbackErr != nil {
		return nil, f.rollbackErr
	}
	return f.Client.Rollback(ctx, id, amount, key)
}

type OrchestratorSuite struct {
	suite.Suite
	ctx      context.Context
	backend  *testutil.Backend
	ledger   *faultyLedger
	journal  *reconcile.Journal
	metrics  *metrics.Registry
	orch     *Orchestrator
	points   reward.Definition
	giftCard reward.Definition
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = testutil.NewBackend(s.T())
	s.backend.IssueResource(s.T(), "card-1", ledger.ProgramPoints, 500)

	j, err := reconcile.OpenJournal(s.T().TempDir())
	s.Require().NoError(err)
	s.T().Cleanup(func() { j.Close() })
	s.journal = j

	s.metrics = metrics.NewRegistry()
	s.ledger = &faultyLedger{Client: ledgerclient.NewHTTPClient(s.backend.URL(), s.backend.Client(), s.metrics)}
	s.orch = NewOrchestrator(s.ledger, reward.NewApplicator(), s.journal, logger.FromZap(zaptest.NewLogger(s.T())), s.metrics)

	s.points = reward.Definition{
		ProgramID:         "points",
		RewardID:          "per-point",
		Kind:              program.RewardPerPointDiscount,
		DiscountProductID: "DISC-PTS",
		ConversionRate:    decimal.NewFromInt(100),
	}
	s.giftCard = reward.Definition{
		ProgramID:      "gift",
		RewardID:       "gift-card",
		Kind:           program.RewardGiftCard,
		ConversionRate: decimal.NewFromInt(1),
	}
}

func (s *OrchestratorSuite) newOrder(total int64) *sale.Order {
	o := sale.New("store-1", "op-1", "ZMW")
	_, err := o.AddItem("P1", "Print job", decimal.NewFromInt(1), decimal.NewFromInt(total))
	s.Require().NoError(err)
	return o
}

func (s *OrchestratorSuite) redeem(o *sale.Order, amount int64) (Outcome, error) {
	return s.orch.Redeem(s.ctx, o, Request{Reward: s.points, ResourceID: "card-1", Amount: decimal.NewFromInt(amount)})
}

func (s *OrchestratorSuite) balance() decimal.Decimal {
	return s.backend.Balance(s.T(), "card-1")
}

func (s *OrchestratorSuite) assertNoInFlight(o *sale.Order) {
	s.Empty(s.orch.State(o.ID()).InFlight)
}

func (s *OrchestratorSuite) TestRedeemAppliesDiscount() {
	o := s.newOrder(50000)

	out, err := s.redeem(o, 200)
	s.Require().NoError(err)
	s.True(out.Line.Total().Equal(decimal.NewFromInt(-20000)))
	s.True(out.NewBalance.Equal(decimal.NewFromInt(300)))
	s.True(s.balance().Equal(decimal.NewFromInt(300)))
	s.assertNoInFlight(o)

	holds := s.orch.Holds(o.ID())
	s.Require().Len(holds, 1)
	s.Equal(out.Line.ID, holds[0].LineID)
	s.Equal(out.Line.Reward.IdempotencyKey, holds[0].IdempotencyKey)
}

func (s *OrchestratorSuite) TestRepeatedRedeemDoesNotDeductTwice() {
	o := s.newOrder(50000)

	first, err := s.redeem(o, 200)
	s.Require().NoError(err)
	second, err := s.redeem(o, 200)
	s.Require().NoError(err)

	s.True(second.Duplicate)
	s.Equal(first.Line.ID, second.Line.ID)
	s.Len(o.RewardLines(), 1)
	s.Equal(1, s.backend.CountEntries(s.T(), "card-1", ledger.EntryDeduct))
	s.True(s.balance().Equal(decimal.NewFromInt(300)))
}

func (s *OrchestratorSuite) TestValidationHasNoSideEffects() {
	o := s.newOrder(50000)

	_, err := s.redeem(o, 600)
	s.True(ierr.Is(err, ierr.ErrInsufficientBalance))

	_, err = s.redeem(o, 0)
	s.True(ierr.IsValidation(err))

	_, err = s.orch.Redeem(s.ctx, o, Request{Reward: s.points, ResourceID: "missing", Amount: decimal.NewFromInt(1)})
	s.True(ierr.Is(err, ierr.ErrResourceNotFound))

	// 200 points are worth 20000, more than the 1000 order
	_, err = s.redeem(s.newOrder(1000), 200)
	s.True(ierr.Is(err, ierr.ErrDiscountExceedsOrderTotal))

	s.Zero(s.backend.CountEntries(s.T(), "card-1", ledger.EntryDeduct))
	s.True(s.balance().Equal(decimal.NewFromInt(500)))
	s.assertNoInFlight(o)
	s.Equal(4.0, promtest.ToFloat64(s.metrics.Redemptions.WithLabelValues(metrics.OutcomeRejected)))
}

func (s *OrchestratorSuite) TestConcurrentTerminalsOneWins() {
	a, b := s.newOrder(100000), s.newOrder(100000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, o := range []*sale.Order{a, b} {
		wg.Add(1)
		go func(i int, o *sale.Order) {
			defer wg.Done()
			_, errs[i] = s.redeem(o, 400)
		}(i, o)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			s.True(ierr.Is(err, ierr.ErrInsufficientBalance), "unexpected error: %v", err)
			failures++
		}
	}
	s.Equal(1, failures)
	s.True(s.balance().Equal(decimal.NewFromInt(100)))
}

func (s *OrchestratorSuite) TestApplyFailureRollsBack() {
	o := s.newOrder(50000)
	items := o.Lines()
	// the order shrinks after the deduction so the discount no longer fits
	s.ledger.afterDeduct = func() { o.RemoveLine(items[0].ID) }

	_, err := s.redeem(o, 200)
	s.True(ierr.Is(err, ierr.ErrDiscountExceedsOrderTotal))
	s.True(s.balance().Equal(decimal.NewFromInt(500)))
	s.Empty(o.RewardLines())
	s.assertNoInFlight(o)
	s.Empty(s.orch.Holds(o.ID()))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Redemptions.WithLabelValues(metrics.OutcomeRolledBack)))
}

func (s *OrchestratorSuite) TestRollbackFailureIsJournaled() {
	o := s.newOrder(50000)
	items := o.Lines()
	s.ledger.afterDeduct = func() { o.RemoveLine(items[0].ID) }
	s.ledger.rollbackErr = ierr.NewError("timeout").Mark(ierr.ErrLedgerUnavailable)

	_, err := s.redeem(o, 200)
	s.True(ierr.Is(err, ierr.ErrManualReconciliationRequired))
	s.Equal(ierr.ActionFollowUp, ierr.Describe(err).Action)

	recs, err := s.journal.List(true)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(reconcile.KindRollbackFailed, recs[0].Kind)
	s.Equal("card-1", recs[0].ResourceID)
	s.True(recs[0].Amount.Equal(decimal.NewFromInt(200)))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ReconciliationOpen))

	// the deduction is still held, so the flight is kept
	unsettled := s.orch.Unsettled(o.ID())
	s.Require().Len(unsettled, 1)
	s.Equal(recs[0].ID, unsettled[0].RecordID)
}

func (s *OrchestratorSuite) TestLostDeductResponseIsUndone() {
	o := s.newOrder(50000)
	s.ledger.loseDeduct = true

	_, err := s.redeem(o, 200)
	s.True(ierr.Is(err, ierr.ErrLedgerUnavailable))
	s.Equal(ierr.ActionRetry, ierr.Describe(err).Action)
	s.True(s.balance().Equal(decimal.NewFromInt(500)))
	s.assertNoInFlight(o)

	recs, err := s.journal.List(true)
	s.Require().NoError(err)
	s.Empty(recs)
}

// loseDeductAndRollback makes the next deduct land on the ledger while the
// terminal sees a timeout, and the compensating rollback fail.
func (s *OrchestratorSuite) loseDeductAndRollback() {
	s.ledger.loseDeduct = true
	s.ledger.rollbackErr = ierr.NewError("timeout").Mark(ierr.ErrLedgerUnavailable)
}

func (s *OrchestratorSuite) healLedger() {
	s.ledger.loseDeduct = false
	s.ledger.rollbackErr = nil
}

func (s *OrchestratorSuite) openRecords() int {
	n, err := s.journal.CountOpen()
	s.Require().NoError(err)
	return n
}

func (s *OrchestratorSuite) TestUnconfirmedDeductNeedsFollowUp() {
	o := s.newOrder(50000)
	s.loseDeductAndRollback()

	_, err := s.redeem(o, 200)
	s.True(ierr.Is(err, ierr.ErrManualReconciliationRequired))
	s.Equal(ierr.ActionFollowUp, ierr.Describe(err).Action)
	s.Equal(1, s.openRecords())

	unsettled := s.orch.Unsettled(o.ID())
	s.Require().Len(unsettled, 1)
	s.True(unsettled[0].Amount.Equal(decimal.NewFromInt(200)))
	s.NotEmpty(unsettled[0].RecordID)
}

func (s *OrchestratorSuite) TestUnconfirmedDeductResolvedByRetry() {
	o := s.newOrder(50000)
	s.loseDeductAndRollback()
	_, err := s.redeem(o, 200)
	s.Require().Error(err)

	s.healLedger()
	out, err := s.redeem(o, 200)
	s.Require().NoError(err)
	s.True(out.Replayed)
	s.True(s.balance().Equal(decimal.NewFromInt(300)))
	s.Equal(1, s.backend.CountEntries(s.T(), "card-1", ledger.EntryDeduct))
	s.Zero(s.openRecords())
	s.assertNoInFlight(o)
	s.Len(s.orch.Holds(o.ID()), 1)
}

func (s *OrchestratorSuite) TestUnconfirmedRetryBeyondRemainingBalance() {
	o := s.newOrder(50000)
	s.loseDeductAndRollback()
	_, err := s.redeem(o, 400)
	s.Require().Error(err)
	s.True(s.balance().Equal(decimal.NewFromInt(100)))

	// only 100 is left, the retry must still go through on the replay
	s.healLedger()
	out, err := s.redeem(o, 400)
	s.Require().NoError(err)
	s.True(out.Replayed)
	s.True(out.Line.Total().Equal(decimal.NewFromInt(-40000)))
	s.True(s.balance().Equal(decimal.NewFromInt(100)))
	s.Zero(s.openRecords())
}

func (s *OrchestratorSuite) TestUnconfirmedSingleUseRetry() {
	s.backend.IssueResource(s.T(), "coupon-1", ledger.ProgramCoupon, 100)
	o := s.newOrder(50000)
	req := Request{Reward: s.giftCard, ResourceID: "coupon-1", Amount: decimal.NewFromInt(100)}

	s.loseDeductAndRollback()
	_, err := s.orch.Redeem(s.ctx, o, req)
	s.Require().Error(err)
	s.True(s.backend.Balance(s.T(), "coupon-1").IsZero())

	s.healLedger()
	out, err := s.orch.Redeem(s.ctx, o, req)
	s.Require().NoError(err)
	s.True(out.Replayed)
	s.Equal(1, s.backend.CountEntries(s.T(), "coupon-1", ledger.EntryDeduct))
	s.Zero(s.openRecords())
}

func (s *OrchestratorSuite) TestUnconfirmedRetryMustKeepAmount() {
	o := s.newOrder(50000)
	s.loseDeductAndRollback()
	_, err := s.redeem(o, 200)
	s.Require().Error(err)

	s.healLedger()
	_, err = s.redeem(o, 150)
	s.True(ierr.IsValidation(err))
	s.Len(s.orch.Unsettled(o.ID()), 1)
	s.Equal(1, s.openRecords())
}

func (s *OrchestratorSuite) TestRefusedRetryResolvesRecord() {
	o := s.newOrder(50000)
	// the deduct never reaches the ledger and neither does the rollback
	s.backend.SetDown("/api/v1/ledger/resources/card-1/deduct", true)
	s.ledger.rollbackErr = ierr.NewError("timeout").Mark(ierr.ErrLedgerUnavailable)
	_, err := s.redeem(o, 200)
	s.True(ierr.Is(err, ierr.ErrManualReconciliationRequired))
	s.Equal(1, s.openRecords())

	// meanwhile another till spent the points
	_, err = s.backend.Ledger.Deduct(s.ctx, "card-1", ledger.MutationRequest{Amount: decimal.NewFromInt(450), IdempotencyKey: "other-till"})
	s.Require().NoError(err)

	s.backend.SetDown("/api/v1/ledger/resources/card-1/deduct", false)
	s.healLedger()
	_, err = s.redeem(o, 200)
	s.True(ierr.Is(err, ierr.ErrInsufficientBalance))
	s.Zero(s.openRecords())
	s.assertNoInFlight(o)
}

func (s *OrchestratorSuite) TestAbandonSettlesUnconfirmed() {
	o := s.newOrder(50000)
	s.loseDeductAndRollback()
	_, err := s.redeem(o, 400)
	s.Require().Error(err)

	s.healLedger()
	s.Require().NoError(s.orch.Abandon(s.ctx, o))
	s.True(s.balance().Equal(decimal.NewFromInt(500)))
	s.Zero(s.openRecords())

	holds, err := s.journal.ListHolds()
	s.Require().NoError(err)
	s.Empty(holds)
}

func (s *OrchestratorSuite) TestAbandonKeepsOneRecordPerUnsettledFlight() {
	o := s.newOrder(50000)
	s.loseDeductAndRollback()
	_, err := s.redeem(o, 200)
	s.Require().Error(err)

	err = s.orch.Abandon(s.ctx, o)
	s.True(ierr.Is(err, ierr.ErrManualReconciliationRequired))
	recs, err := s.journal.List(true)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(reconcile.KindDeductUnconfirmed, recs[0].Kind)
}

func (s *OrchestratorSuite) TestSecondRedemptionWhileInFlightIsRejected() {
	o := s.newOrder(50000)
	var nested error
	s.ledger.afterDeduct = func() {
		s.ledger.afterDeduct = nil
		_, nested = s.orch.Redeem(s.ctx, o, Request{Reward: s.giftCard, ResourceID: "card-1", Amount: decimal.NewFromInt(1)})
	}

	_, err := s.redeem(o, 200)
	s.Require().NoError(err)
	s.True(ierr.Is(nested, ierr.ErrRedemptionInFlight))
}

func (s *OrchestratorSuite) TestReverse() {
	o := s.newOrder(50000)
	out, err := s.redeem(o, 200)
	s.Require().NoError(err)

	s.ledger.rollbackErr = ierr.NewError("timeout").Mark(ierr.ErrLedgerUnavailable)
	err = s.orch.Reverse(s.ctx, o, out.Line.ID)
	s.True(ierr.Is(err, ierr.ErrLedgerUnavailable))
	s.Len(o.RewardLines(), 1)

	s.ledger.rollbackErr = nil
	s.Require().NoError(s.orch.Reverse(s.ctx, o, out.Line.ID))
	s.Empty(o.RewardLines())
	s.Empty(s.orch.Holds(o.ID()))
	s.True(s.balance().Equal(decimal.NewFromInt(500)))

	// product lines are not reward lines
	s.True(ierr.IsInvalidOperation(s.orch.Reverse(s.ctx, o, o.Lines()[0].ID)))
}

func (s *OrchestratorSuite) TestAbandonRollsBackHolds() {
	o := s.newOrder(50000)
	_, err := s.redeem(o, 200)
	s.Require().NoError(err)

	s.Require().NoError(s.orch.Abandon(s.ctx, o))
	s.True(s.balance().Equal(decimal.NewFromInt(500)))
	s.Empty(s.orch.Holds(o.ID()))
}

func (s *OrchestratorSuite) TestAbandonFailureIsJournaled() {
	o := s.newOrder(50000)
	_, err := s.redeem(o, 200)
	s.Require().NoError(err)

	s.ledger.rollbackErr = ierr.NewError("timeout").Mark(ierr.ErrLedgerUnavailable)
	err = s.orch.Abandon(s.ctx, o)
	s.True(ierr.Is(err, ierr.ErrManualReconciliationRequired))

	recs, err := s.journal.List(true)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(reconcile.KindAbandonFailed, recs[0].Kind)
	s.Empty(s.orch.Holds(o.ID()))
}

func (s *OrchestratorSuite) TestClosedOrder() {
	o := s.newOrder(50000)
	s.Require().NoError(o.Cancel())
	_, err := s.redeem(o, 1)
	s.True(ierr.Is(err, ierr.ErrOrderClosed))
}

func (s *OrchestratorSuite) TestHoldsArePersisted() {
	o := s.newOrder(50000)
	out, err := s.redeem(o, 200)
	s.Require().NoError(err)

	holds, err := s.journal.ListHolds()
	s.Require().NoError(err)
	s.Require().Len(holds, 1)
	s.Equal(reconcile.HoldApplied, holds[0].State)
	s.Equal(out.Line.ID, holds[0].LineID)
	s.Equal(o.ID(), holds[0].OrderID)

	s.Require().NoError(s.orch.Reverse(s.ctx, o, out.Line.ID))
	holds, err = s.journal.ListHolds()
	s.Require().NoError(err)
	s.Empty(holds)

	_, err = s.redeem(o, 100)
	s.Require().NoError(err)
	s.orch.Release(o.ID())
	holds, err = s.journal.ListHolds()
	s.Require().NoError(err)
	s.Empty(holds)
}

// restart builds a fresh orchestrator over the same journal, as a restarted
// terminal would.
func (s *OrchestratorSuite) restart() *Orchestrator {
	return NewOrchestrator(s.ledger, reward.NewApplicator(), s.journal, logger.FromZap(zaptest.NewLogger(s.T())), s.metrics)
}

func (s *OrchestratorSuite) TestRecoverRollsBackOrphanedHolds() {
	_, err := s.redeem(s.newOrder(50000), 200)
	s.Require().NoError(err)
	s.True(s.balance().Equal(decimal.NewFromInt(300)))

	rec, err := s.restart().Recover(s.ctx)
	s.Require().NoError(err)
	s.Equal(Recovery{RolledBack: 1}, rec)
	s.True(s.balance().Equal(decimal.NewFromInt(500)))

	holds, err := s.journal.ListHolds()
	s.Require().NoError(err)
	s.Empty(holds)
}

func (s *OrchestratorSuite) TestRecoverLeavesSyncedHolds() {
	o := s.newOrder(50000)
	out, err := s.redeem(o, 200)
	s.Require().NoError(err)
	// the sale synced but the process died before releasing the order
	s.Require().NoError(s.backend.Ledger.CommitHolds(s.ctx, []ledger.HoldRef{
		{ResourceID: "card-1", IdempotencyKey: out.Line.Reward.IdempotencyKey},
	}))

	rec, err := s.restart().Recover(s.ctx)
	s.Require().NoError(err)
	s.Equal(Recovery{Committed: 1}, rec)
	s.True(s.balance().Equal(decimal.NewFromInt(300)))
}

func (s *OrchestratorSuite) TestRecoverResolvesUnsettledRecord() {
	s.loseDeductAndRollback()
	_, err := s.redeem(s.newOrder(50000), 200)
	s.Require().Error(err)
	s.Equal(1, s.openRecords())

	s.healLedger()
	rec, err := s.restart().Recover(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, rec.RolledBack)
	s.True(s.balance().Equal(decimal.NewFromInt(500)))
	s.Zero(s.openRecords())
}

func (s *OrchestratorSuite) TestRecoverJournalsFailures() {
	_, err := s.redeem(s.newOrder(50000), 200)
	s.Require().NoError(err)

	s.ledger.rollbackErr = ierr.NewError("timeout").Mark(ierr.ErrLedgerUnavailable)
	rec, err := s.restart().Recover(s.ctx)
	s.Require().NoError(err)
	s.Equal(Recovery{Failed: 1}, rec)

	recs, err := s.journal.List(true)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(reconcile.KindRecoveryFailed, recs[0].Kind)

	holds, err := s.journal.ListHolds()
	s.Require().NoError(err)
	s.Empty(holds)
}
