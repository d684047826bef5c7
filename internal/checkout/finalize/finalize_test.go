package finalize

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/cache"
	"github.com/georgemunganga/printa-checkout/internal/checkout/autopay"
	"github.com/georgemunganga/printa-checkout/internal/checkout/backend"
	"github.com/georgemunganga/printa-checkout/internal/checkout/device"
	"github.com/georgemunganga/printa-checkout/internal/checkout/events"
	"github.com/georgemunganga/printa-checkout/internal/checkout/ledgerclient"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reconcile"
	"github.com/georgemunganga/printa-checkout/internal/checkout/redemption"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reward"
	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/georgemunganga/printa-checkout/internal/modules/auth"
	"github.com/georgemunganga/printa-checkout/internal/modules/coupon"
	"github.com/georgemunganga/printa-checkout/internal/modules/ledger"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/georgemunganga/printa-checkout/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SaleSynced
	// gate holds every publish until it is closed
	gate chan struct{}
}

func (p *recordingPublisher) PublishSaleSynced(ctx context.Context, ev events.SaleSynced) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []events.SaleSynced {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.SaleSynced(nil), p.events...)
}

func (p *recordingPublisher) Close() error { return nil }

type recordingDrawer struct {
	mu      sync.Mutex
	reasons []string
}

func (d *recordingDrawer) Open(_ context.Context, _, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	return nil
}

type FinalizeSuite struct {
	suite.Suite
	ctx       context.Context
	backend   *testutil.Backend
	client    *backend.Client
	orch      *redemption.Orchestrator
	binder    *autopay.Binder
	publisher *recordingPublisher
	drawer    *recordingDrawer
	queue     *device.Queue
	metrics   *metrics.Registry
	finalizer Finalizer
	points    reward.Definition
	syncedAt  time.Time
}

func TestFinalizeSuite(t *testing.T) {
	suite.Run(t, new(FinalizeSuite))
}

func (s *FinalizeSuite) SetupTest() {
	t := s.T()
	s.backend = testutil.NewBackend(t)
	s.backend.IssueResource(t, "card-1", ledger.ProgramPoints, 500)
	s.backend.IssueResource(t, "gift-1", ledger.ProgramGiftCard, 50000)

	log := logger.FromZap(zaptest.NewLogger(t))
	clock := cache.NewManualClock(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC))
	s.metrics = metrics.NewRegistry()

	journal, err := reconcile.OpenJournal(t.TempDir())
	s.Require().NoError(err)
	t.Cleanup(func() { journal.Close() })

	ledgerClient := ledgerclient.NewCachedClient(
		ledgerclient.NewHTTPClient(s.backend.URL(), s.backend.Client(), s.metrics),
		cache.NewManager[*ledgerclient.Balance](cache.PrefixBalance, 30*time.Second, clock),
	)
	s.client = backend.NewClient(s.backend.URL(), s.backend.Client(), backend.Options{Clock: clock})
	s.orch = redemption.NewOrchestrator(ledgerClient, reward.NewApplicator(), journal, log, s.metrics)
	s.binder = autopay.NewBinder(s.client, log)

	s.publisher = &recordingPublisher{}
	s.drawer = &recordingDrawer{}
	s.queue = device.NewQueue(device.QueueConfig{Workers: 1, Size: 8, MaxAttempts: 1}, log, s.metrics)
	hub := device.NewHub(s.queue, s.drawer, nil, nil, device.Timeouts{Drawer: time.Second})

	s.syncedAt = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	s.finalizer = New(Deps{
		Backend:   s.client,
		Coupons:   s.client,
		Ledger:    ledgerClient,
		Holds:     s.orch,
		Devices:   hub,
		Publisher: s.publisher,
		Tasks:     s.queue,
		Log:       log,
		Metrics:   s.metrics,
	}, Options{
		FinalizeRoles: []string{"cashier", "supervisor"},
		CashKind:      "cash",
		TaskTimeout:   time.Second,
		Now:           func() time.Time { return s.syncedAt },
	})

	s.ctx = auth.WithOperator(context.Background(), auth.Operator{ID: "op-1", Role: "cashier"})
	s.points = reward.Definition{
		ProgramID:         "points",
		RewardID:          "per-point",
		Kind:              program.RewardPerPointDiscount,
		DiscountProductID: "DISC-PTS",
		ConversionRate:    decimal.NewFromInt(100),
	}
}

func (s *FinalizeSuite) newOrder(total int64) *sale.Order {
	o := sale.New("store-1", "op-1", "ZMW")
	_, err := o.AddItem("P1", "Banner print", decimal.NewFromInt(1), decimal.NewFromInt(total))
	s.Require().NoError(err)
	return o
}

func (s *FinalizeSuite) pay(o *sale.Order, amount int64) {
	_, err := o.AddPayment("cash-method", "cash", decimal.NewFromInt(amount))
	s.Require().NoError(err)
}

func (s *FinalizeSuite) finalize(o *sale.Order, override bool) (*Result, error) {
	return s.finalizer.Finalize(s.ctx, Request{Order: o, AcceptUnvalidatedCoupons: override})
}

func (s *FinalizeSuite) orderSyncs() int {
	return s.backend.Calls("POST", "/api/v1/orders")
}

// drain waits for the queued post-sale steps.
func (s *FinalizeSuite) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.queue.Close(ctx)
}

func (s *FinalizeSuite) TestConnectivityLossKeepsOrderRetryable() {
	o := s.newOrder(50000)
	_, err := s.orch.Redeem(s.ctx, o, redemption.Request{Reward: s.points, ResourceID: "card-1", Amount: decimal.NewFromInt(200)})
	s.Require().NoError(err)
	s.pay(o, 30000)

	s.backend.SetDown("/api/v1/orders", true)
	_, err = s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrConnectivityLost))
	s.True(Retryable(err))
	s.True(o.IsOpen())
	s.Len(o.RewardLines(), 1)
	s.Len(s.orch.Holds(o.ID()), 1)
	s.True(s.backend.Balance(s.T(), "card-1").Equal(decimal.NewFromInt(300)))

	s.backend.SetDown("/api/v1/orders", false)
	res, err := s.finalize(o, false)
	s.Require().NoError(err)
	s.NotEmpty(res.BackendID)
	s.Equal(sale.StatusSynced, o.Status())
	s.Equal(res.BackendID, o.BackendID())
	s.True(res.SyncedAt.Equal(s.syncedAt))

	s.True(s.backend.Balance(s.T(), "card-1").Equal(decimal.NewFromInt(300)))
	s.Equal(1, s.backend.CountEntries(s.T(), "card-1", ledger.EntryDeduct))
	s.Equal(1, s.backend.CountEntries(s.T(), "card-1", ledger.EntryCommit))
	s.Empty(s.orch.Holds(o.ID()))

	s.Equal(1.0, promtest.ToFloat64(s.metrics.Finalizations.WithLabelValues(metrics.OutcomeRetryable)))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Finalizations.WithLabelValues(metrics.OutcomeSynced)))

	s.drain()
	s.True(o.IsPrinted())
	published := s.publisher.published()
	s.Require().Len(published, 1)
	ev := published[0]
	s.Equal(o.Reference(), ev.Reference)
	s.True(ev.Total.Equal(decimal.NewFromInt(30000)))
	s.Len(ev.Redemptions, 1)
	// the drawer opens on every attempt that reached the pre-actions
	s.Equal([]string{"cash", "cash"}, s.drawer.reasons)
}

func (s *FinalizeSuite) TestGiftCardPaysThroughReservedLine() {
	_, err := s.backend.Methods.CreateMethod(context.Background(), payment.CreateMethodRequest{
		Code: "DP", Name: "Gift card deposit", Kind: payment.KindGiftCard, IsReserved: true,
	})
	s.Require().NoError(err)

	o := s.newOrder(80000)
	s.binder.Bind(s.ctx, o)
	s.Require().NoError(s.binder.Ensure(s.ctx, o))
	_, err = s.orch.Redeem(s.ctx, o, redemption.Request{
		Reward:     reward.Definition{ProgramID: "gift", RewardID: "gift-card", Kind: program.RewardGiftCard, ConversionRate: decimal.NewFromInt(1)},
		ResourceID: "gift-1",
		Amount:     decimal.NewFromInt(50000),
	})
	s.Require().NoError(err)
	s.pay(o, 30000)

	res, err := s.finalize(o, false)
	s.Require().NoError(err)

	synced, err := s.backend.Orders.GetOrder(context.Background(), res.BackendID)
	s.Require().NoError(err)
	s.True(synced.Total.Equal(decimal.NewFromInt(80000)))
	reserved := 0
	for _, p := range synced.Payments {
		if p.IsReserved {
			reserved++
			s.True(p.Amount.Equal(decimal.NewFromInt(50000)))
		}
	}
	s.Equal(1, reserved)
	s.True(s.backend.Balance(s.T(), "gift-1").IsZero())
}

func (s *FinalizeSuite) TestOperatorChecks() {
	o := s.newOrder(100)
	s.pay(o, 100)

	cases := []struct {
		name string
		ctx  context.Context
	}{
		{"anonymous", context.Background()},
		{"person in charge", auth.WithOperator(context.Background(), auth.Operator{ID: "pic", Role: "supervisor", IsPIC: true})},
		{"role not allowed", auth.WithOperator(context.Background(), auth.Operator{ID: "mgr", Role: "manager"})},
	}
	for _, tc := range cases {
		_, err := s.finalizer.Finalize(tc.ctx, Request{Order: o})
		s.Require().Error(err, tc.name)
		s.True(ierr.IsPermissionDenied(err), tc.name)
	}
	s.Zero(s.orderSyncs())
	s.True(o.IsOpen())
}

func (s *FinalizeSuite) TestShortPaymentIsRejected() {
	o := s.newOrder(1000)
	s.pay(o, 400)

	_, err := s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
	s.Contains(ierr.Describe(err).Message, "600")
	s.Zero(s.orderSyncs())
}

func (s *FinalizeSuite) TestUsedCouponAbortsBeforeSync() {
	bg := context.Background()
	_, err := s.backend.Coupons.Create(bg, coupon.CreateCouponRequest{Code: "SAVE10"})
	s.Require().NoError(err)
	_, err = s.backend.Coupons.UpdateUsage(bg, "SAVE10", coupon.UpdateUsageRequest{IsUsed: true})
	s.Require().NoError(err)

	o := s.newOrder(100)
	s.pay(o, 100)
	s.Require().NoError(o.AddCoupon("save10"))

	_, err = s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrCouponUsed))
	s.Zero(s.orderSyncs())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Finalizations.WithLabelValues(metrics.OutcomeAborted)))
}

func (s *FinalizeSuite) TestCouponServiceDownNeedsOverride() {
	_, err := s.backend.Coupons.Create(context.Background(), coupon.CreateCouponRequest{Code: "SAVE10"})
	s.Require().NoError(err)

	o := s.newOrder(100)
	s.pay(o, 100)
	s.Require().NoError(o.AddCoupon("SAVE10"))
	s.backend.SetDown("/api/v1/coupons", true)

	_, err = s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrCouponValidationUnavailable))
	s.True(o.IsOpen())

	res, err := s.finalize(o, true)
	s.Require().NoError(err)
	s.Equal([]string{"SAVE10"}, res.UnvalidatedCoupons)

	// flagging the coupon fails in the background, not on the sale
	s.drain()
	s.Equal(1.0, promtest.ToFloat64(s.metrics.DeviceTasks.WithLabelValues(string(device.KindBackend), metrics.OutcomeFailed)))
	usage, err := s.backend.Coupons.GetUsage(context.Background(), "SAVE10")
	s.Require().NoError(err)
	s.False(usage.IsUsed)
}

func (s *FinalizeSuite) TestPostSyncFlagsCouponUsed() {
	_, err := s.backend.Coupons.Create(context.Background(), coupon.CreateCouponRequest{Code: "SAVE10"})
	s.Require().NoError(err)

	o := s.newOrder(100)
	s.pay(o, 100)
	s.Require().NoError(o.AddCoupon("SAVE10"))

	res, err := s.finalize(o, false)
	s.Require().NoError(err)
	s.Empty(res.Warnings)

	s.drain()
	usage, err := s.backend.Coupons.GetUsage(context.Background(), "SAVE10")
	s.Require().NoError(err)
	s.True(usage.IsUsed)
}

func (s *FinalizeSuite) TestFinalizeDoesNotWaitForTheEvent() {
	s.publisher.gate = make(chan struct{})
	o := s.newOrder(100)
	s.pay(o, 100)

	res, err := s.finalize(o, false)
	s.Require().NoError(err)
	s.NotEmpty(res.BackendID)
	s.Equal(sale.StatusSynced, o.Status())
	s.Empty(s.publisher.published())

	close(s.publisher.gate)
	s.drain()
	s.Len(s.publisher.published(), 1)
	s.True(o.IsPrinted())
}

func (s *FinalizeSuite) TestPostSyncWithoutQueueRunsInline() {
	post := &PostSync{
		Backend:   s.client,
		Coupons:   s.client,
		Holds:     s.orch,
		Publisher: s.publisher,
		Log:       logger.NewNop(),
	}
	o := s.newOrder(100)
	s.pay(o, 100)
	created, err := s.backend.Orders.CreateOrder(context.Background(), Payload(o, nil))
	s.Require().NoError(err)

	a := &Attempt{Order: o, Result: &Result{BackendID: created.ID.String()}}
	s.Require().NoError(post.Run(s.ctx, a))
	s.Empty(a.Result.Warnings)
	s.True(o.IsPrinted())
	s.Len(s.publisher.published(), 1)
}

func (s *FinalizeSuite) TestRecheckCatchesUncoveredRewards() {
	s.backend.IssueResource(s.T(), "card-2", ledger.ProgramPoints, 50)

	o := s.newOrder(50000)
	s.Require().NoError(o.AddRewardLine(&sale.Line{
		ProductID: "DISC-PTS",
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(-10000),
		Reward: &sale.RewardLink{
			ProgramID:  "points",
			RewardID:   "per-point",
			ResourceID: "card-2",
			Cost:       decimal.NewFromInt(100),
			Value:      decimal.NewFromInt(10000),
		},
	}))
	s.pay(o, 40000)

	_, err := s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrInsufficientBalance))
	s.Zero(s.orderSyncs())
}

func (s *FinalizeSuite) TestRecheckNeedsTheLedger() {
	o := s.newOrder(50000)
	_, err := s.orch.Redeem(s.ctx, o, redemption.Request{Reward: s.points, ResourceID: "card-1", Amount: decimal.NewFromInt(100)})
	s.Require().NoError(err)
	s.pay(o, 40000)

	s.backend.SetDown("/api/v1/ledger", true)
	_, err = s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrLedgerUnavailable))
	s.True(Retryable(err))
	s.Zero(s.orderSyncs())
}

func (s *FinalizeSuite) TestRecheckRefusesRolledBackHold() {
	o := s.newOrder(50000)
	_, err := s.orch.Redeem(s.ctx, o, redemption.Request{Reward: s.points, ResourceID: "card-1", Amount: decimal.NewFromInt(200)})
	s.Require().NoError(err)
	s.pay(o, 30000)

	holds := s.orch.Holds(o.ID())
	s.Require().Len(holds, 1)
	// another system returns the points behind the terminal's back
	_, err = s.backend.Ledger.Rollback(context.Background(), "card-1", ledger.MutationRequest{
		Amount: decimal.NewFromInt(200), IdempotencyKey: holds[0].IdempotencyKey,
	})
	s.Require().NoError(err)

	_, err = s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
	s.False(Retryable(err))
	s.Zero(s.orderSyncs())
	s.True(o.IsOpen())
}

func (s *FinalizeSuite) TestUnsettledRedemptionBlocksFinalize() {
	o := s.newOrder(50000)
	redeem := func() error {
		_, err := s.orch.Redeem(s.ctx, o, redemption.Request{Reward: s.points, ResourceID: "card-1", Amount: decimal.NewFromInt(200)})
		return err
	}
	s.backend.SetDown("/api/v1/ledger/resources/card-1/deduct", true)
	s.backend.SetDown("/api/v1/ledger/resources/card-1/rollback", true)
	err := redeem()
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrManualReconciliationRequired))
	s.backend.SetDown("/api/v1/ledger/resources/card-1/deduct", false)
	s.backend.SetDown("/api/v1/ledger/resources/card-1/rollback", false)

	s.pay(o, 50000)
	_, err = s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrRedemptionInFlight))
	s.Zero(s.orderSyncs())

	s.Require().NoError(redeem())
	_, err = s.finalize(o, false)
	s.Require().NoError(err)
	s.True(s.backend.Balance(s.T(), "card-1").Equal(decimal.NewFromInt(300)))
}

func (s *FinalizeSuite) TestSyncedOrderCannotBeFinalizedAgain() {
	o := s.newOrder(100)
	s.pay(o, 100)
	_, err := s.finalize(o, false)
	s.Require().NoError(err)

	_, err = s.finalize(o, false)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrOrderClosed))
	s.Equal(1, s.orderSyncs())
}

type blockingStage struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStage) Name() string { return "block" }

func (b *blockingStage) Run(context.Context, *Attempt) error {
	close(b.entered)
	<-b.release
	return nil
}

func (s *FinalizeSuite) TestOneFinalizationPerOrder() {
	stage := &blockingStage{entered: make(chan struct{}), release: make(chan struct{})}
	p := NewPipeline(stage)
	o := s.newOrder(100)

	done := make(chan error, 1)
	go func() {
		_, err := p.Finalize(s.ctx, Request{Order: o})
		done <- err
	}()
	<-stage.entered

	_, err := p.Finalize(s.ctx, Request{Order: o})
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))

	close(stage.release)
	s.NoError(<-done)
}
