package finalize

import (
	"context"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/checkout/device"
	"github.com/georgemunganga/printa-checkout/internal/checkout/events"
	"github.com/georgemunganga/printa-checkout/internal/checkout/ledgerclient"
	"github.com/georgemunganga/printa-checkout/internal/checkout/redemption"
	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/modules/auth"
	"github.com/georgemunganga/printa-checkout/internal/modules/coupon"
	"github.com/georgemunganga/printa-checkout/internal/modules/ledger"
	"github.com/georgemunganga/printa-checkout/internal/modules/order"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CouponService reads and flags coupon usage.
type CouponService interface {
	CouponUsage(ctx context.Context, code string) (*coupon.Usage, error)
	MarkCouponUsed(ctx context.Context, code, orderID string) error
}

// OrderSyncer sends the order to the backend of record.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error)
	MarkPrinted(ctx context.Context, orderID string) error
}

// BalanceReader reads ledger state bypassing any cache.
type BalanceReader interface {
	FreshBalance(ctx context.Context, resourceID string) (*ledgerclient.Balance, error)
	Hold(ctx context.Context, resourceID, key string) (*ledgerclient.Mutation, error)
}

// HoldBook exposes the deductions an order holds.
type HoldBook interface {
	Holds(orderID string) []redemption.Hold
	Unsettled(orderID string) []redemption.InFlight
	Release(orderID string)
}

// ── authorization ────────────────────────────────────────────────────────────

type authGate struct {
	roles []string
}

// AuthGate admits operators whose role is in roles. PIC operators are never
// admitted.
func AuthGate(roles []string) Stage { return &authGate{roles: roles} }

func (s *authGate) Name() string { return "authorize" }

func (s *authGate) Run(ctx context.Context, a *Attempt) error {
	op, ok := auth.OperatorFrom(ctx)
	if !ok {
		return ierr.NewError("no operator on the request").
			WithHint("Sign in before finalizing").
			Mark(ierr.ErrPermissionDenied)
	}
	if op.IsPIC {
		return ierr.NewErrorf("operator %s is a person in charge", op.ID).
			WithHint("A person in charge cannot finalize orders").
			Mark(ierr.ErrPermissionDenied)
	}
	if !lo.Contains(s.roles, op.Role) {
		return ierr.NewErrorf("role %q may not finalize", op.Role).
			WithHintf("The %s role cannot finalize orders", op.Role).
			Mark(ierr.ErrPermissionDenied)
	}
	return nil
}

// ── tender ───────────────────────────────────────────────────────────────────

type tender struct{}

// Tender checks the order has products and its payments cover the total.
func Tender() Stage { return tender{} }

func (tender) Name() string { return "tender" }

func (tender) Run(_ context.Context, a *Attempt) error {
	o := a.Order
	products := lo.CountBy(o.Lines(), func(l *sale.Line) bool { return !l.IsReward() })
	if products == 0 {
		return ierr.NewError("order has no product lines").
			WithHint("Add at least one item").
			Mark(ierr.ErrValidation)
	}
	if due := o.Due(); due.IsPositive() {
		return ierr.NewErrorf("payments %s do not cover total %s", o.Paid(), o.Total()).
			WithHintf("Payment is short by %s", due).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ── coupons ──────────────────────────────────────────────────────────────────

type coupons struct {
	svc CouponService
	log *logger.Logger
}

// Coupons rejects used coupons. When the coupon service is unreachable the
// order continues only under the operator override.
func Coupons(svc CouponService, log *logger.Logger) Stage { return &coupons{svc: svc, log: log} }

func (s *coupons) Name() string { return "coupons" }

func (s *coupons) Run(ctx context.Context, a *Attempt) error {
	for _, code := range a.Order.Coupons() {
		usage, err := s.svc.CouponUsage(ctx, code)
		if err != nil {
			if ierr.Is(err, ierr.ErrCouponValidationUnavailable) && a.Request.AcceptUnvalidatedCoupons {
				s.log.Warnw("coupon accepted without validation",
					"order_id", a.Order.ID(), "code", code, "operator_id", a.Order.OperatorID(), "error", err)
				a.Result.UnvalidatedCoupons = append(a.Result.UnvalidatedCoupons, code)
				continue
			}
			return err
		}
		if usage.IsUsed {
			return ierr.NewErrorf("coupon %s already used", code).
				WithHintf("Coupon %s has already been used", code).
				Mark(ierr.ErrCouponUsed)
		}
	}
	return nil
}

// ── balance recheck ──────────────────────────────────────────────────────────

type recheck struct {
	ledger BalanceReader
	holds  HoldBook
}

// Recheck confirms with the ledger that every hold of the order is still
// deducted, then checks that a fresh balance covers whatever reward lines
// are not backed by a confirmed hold. Orders with an unsettled redemption
// are refused.
func Recheck(balances BalanceReader, holds HoldBook) Stage {
	return &recheck{ledger: balances, holds: holds}
}

func (s *recheck) Name() string { return "recheck" }

func (s *recheck) Run(ctx context.Context, a *Attempt) error {
	if unsettled := s.holds.Unsettled(a.Order.ID()); len(unsettled) > 0 {
		f := unsettled[0]
		return ierr.NewErrorf("order %s has %d unsettled redemption(s)", a.Order.ID(), len(unsettled)).
			WithHintf("Redemption of %s on %s was not confirmed. Retry it or cancel the order", f.Amount, f.ResourceID).
			Mark(ierr.ErrRedemptionInFlight)
	}

	byResource := lo.GroupBy(a.Order.RewardLines(), func(l *sale.Line) string { return l.Reward.ResourceID })
	if len(byResource) == 0 {
		return nil
	}
	held := lo.GroupBy(s.holds.Holds(a.Order.ID()), func(h redemption.Hold) string { return h.ResourceID })

	for _, resourceID := range lo.Keys(byResource) {
		required := lo.Reduce(byResource[resourceID], func(sum decimal.Decimal, l *sale.Line, _ int) decimal.Decimal {
			return sum.Add(l.Reward.Cost)
		}, decimal.Zero)

		covered := decimal.Zero
		for _, h := range held[resourceID] {
			ok, err := s.confirmed(ctx, h)
			if err != nil {
				return err
			}
			if !ok {
				return ierr.NewErrorf("hold %s on %s is no longer deducted", h.IdempotencyKey, resourceID).
					WithHintf("The ledger no longer holds the redemption on %s. Reverse the reward and redeem it again", resourceID).
					Mark(ierr.ErrInvalidOperation)
			}
			covered = covered.Add(h.Amount)
		}

		outstanding := required.Sub(covered)
		if !outstanding.IsPositive() {
			continue
		}
		bal, err := s.ledger.FreshBalance(ctx, resourceID)
		if err != nil {
			return err
		}
		if bal.Balance.LessThan(outstanding) {
			return ierr.NewErrorf("resource %s needs %s more, balance is %s", resourceID, outstanding, bal.Balance).
				WithHintf("Balance on %s no longer covers the applied rewards", resourceID).
				Mark(ierr.ErrInsufficientBalance)
		}
	}
	return nil
}

// confirmed reports whether the ledger still holds h. A committed hold
// counts: the sale synced on an earlier attempt whose answer was lost.
func (s *recheck) confirmed(ctx context.Context, h redemption.Hold) (bool, error) {
	m, err := s.ledger.Hold(ctx, h.ResourceID, h.IdempotencyKey)
	if ierr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch ledger.HoldStatus(m.Status) {
	case ledger.HoldDeducted, ledger.HoldCommitted:
		return true, nil
	}
	return false, nil
}

// ── device pre-actions ───────────────────────────────────────────────────────

type preActions struct {
	devices  *device.Hub
	cashKind string
}

// PreActions opens the drawer when the order is paid in cash or change is
// due. It never fails.
func PreActions(devices *device.Hub, cashKind string) Stage {
	return &preActions{devices: devices, cashKind: cashKind}
}

func (s *preActions) Name() string { return "pre-actions" }

func (s *preActions) Run(_ context.Context, a *Attempt) error {
	o := a.Order
	paidCash := lo.ContainsBy(o.Payments(), func(p *sale.PaymentLine) bool {
		return p.MethodKind == s.cashKind && p.Amount.IsPositive()
	})
	switch {
	case paidCash:
		s.devices.OpenDrawer(o.ID(), "cash")
	case o.Change().IsPositive():
		s.devices.OpenDrawer(o.ID(), "change")
	}
	return nil
}

// ── sync ─────────────────────────────────────────────────────────────────────

type syncStage struct {
	backend OrderSyncer
	holds   HoldBook
}

// Sync sends the order in a single call. A lost connection leaves the order
// open with its reward lines and holds, so finalization can be repeated.
func Sync(backend OrderSyncer, holds HoldBook) Stage {
	return &syncStage{backend: backend, holds: holds}
}

func (s *syncStage) Name() string { return "sync" }

func (s *syncStage) Run(ctx context.Context, a *Attempt) error {
	synced, err := s.backend.SyncOrder(ctx, Payload(a.Order, s.holds.Holds(a.Order.ID())))
	if err != nil {
		return err
	}
	a.Synced = synced
	a.Result.BackendID = synced.ID.String()
	a.Result.OrderNumber = synced.OrderNumber
	a.Result.Replayed = synced.Replayed
	return nil
}

// Payload builds the sync request for o with the given holds.
func Payload(o *sale.Order, holds []redemption.Hold) order.CreateOrderRequest {
	req := order.CreateOrderRequest{
		Reference:  o.Reference(),
		StoreID:    o.StoreID(),
		OperatorID: o.OperatorID(),
		Currency:   o.Currency(),
		Coupons:    o.Coupons(),
	}
	req.Items = lo.Map(o.Lines(), func(l *sale.Line, _ int) order.ItemInput {
		in := order.ItemInput{
			ProductID:   l.ProductID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
		if l.Reward != nil {
			in.RewardID = l.Reward.RewardID
			in.ResourceID = l.Reward.ResourceID
		}
		return in
	})
	req.Payments = lo.Map(o.Payments(), func(p *sale.PaymentLine, _ int) order.PaymentInput {
		return order.PaymentInput{MethodID: p.MethodID, Amount: p.Amount, IsReserved: p.Reserved}
	})
	req.Redemptions = lo.Map(holds, func(h redemption.Hold, _ int) order.RedemptionInput {
		return order.RedemptionInput{
			ResourceID:     h.ResourceID,
			RewardID:       h.RewardID,
			IdempotencyKey: h.IdempotencyKey,
			Amount:         h.Amount,
		}
	})
	return req
}

// ── post-sync bookkeeping ────────────────────────────────────────────────────

// PostSync is the best-effort tail of the pipeline. It settles the order
// locally and queues the rest on Tasks so the operator gets the result as
// soon as the sale is recorded.
type PostSync struct {
	Backend   OrderSyncer
	Coupons   CouponService
	Holds     HoldBook
	Devices   *device.Hub
	Publisher events.Publisher
	// Tasks runs the backend calls and the event publish. Without it they
	// run inline.
	Tasks       *device.Queue
	TaskTimeout time.Duration
	Log         *logger.Logger
	Now         func() time.Time
}

func (s *PostSync) Name() string { return "post-sync" }

// Run never returns an error: the sale is already recorded.
func (s *PostSync) Run(ctx context.Context, a *Attempt) error {
	o := a.Order
	log := s.Log.With("order_id", o.ID(), "backend_id", a.Result.BackendID)
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	a.Result.SyncedAt = now().UTC()

	holds := s.Holds.Holds(o.ID())
	o.MarkSynced(a.Result.BackendID, a.Result.OrderNumber, a.Result.SyncedAt)
	s.Holds.Release(o.ID())

	backendID := a.Result.BackendID
	for _, code := range o.Coupons() {
		if lo.Contains(a.Result.UnvalidatedCoupons, code) {
			log.Infow("flagging coupon accepted without validation", "code", code)
		}
		s.later(ctx, a, log, device.KindBackend, "coupon "+code, func(ctx context.Context) error {
			return s.Coupons.MarkCouponUsed(ctx, code, backendID)
		})
	}

	s.Devices.Display(device.DisplayMessage{
		OrderID:  o.ID(),
		Currency: o.Currency(),
		Total:    o.Total(),
		Change:   o.Change(),
	})
	s.Devices.Print(receipt(o, a.Result.OrderNumber))
	s.later(ctx, a, log, device.KindBackend, "printed flag", func(ctx context.Context) error {
		if err := s.Backend.MarkPrinted(ctx, backendID); err != nil {
			return err
		}
		o.MarkPrinted()
		return nil
	})

	ev := events.SaleSynced{
		OrderID:   backendID,
		Reference: o.Reference(),
		StoreID:   o.StoreID(),
		Total:     o.Total(),
		Currency:  o.Currency(),
		SyncedAt:  a.Result.SyncedAt,
		Redemptions: lo.Map(holds, func(h redemption.Hold, _ int) events.Redemption {
			return events.Redemption{
				ResourceID:     h.ResourceID,
				RewardID:       h.RewardID,
				IdempotencyKey: h.IdempotencyKey,
				Amount:         h.Amount,
			}
		}),
	}
	s.later(ctx, a, log, device.KindEvents, "sale event", func(ctx context.Context) error {
		return s.Publisher.PublishSaleSynced(ctx, ev)
	})
	return nil
}

// later queues one bookkeeping step. A step that cannot be queued, or that
// fails when run inline, becomes a warning on the result.
func (s *PostSync) later(ctx context.Context, a *Attempt, log *logger.Logger, kind device.Kind, step string, run func(ctx context.Context) error) {
	warn := func(err error) {
		log.Warnw("post-sync step failed", "step", step, "error", err)
		a.Result.Warnings = append(a.Result.Warnings, step+": "+ierr.Describe(err).Message)
	}
	if s.Tasks == nil {
		if err := run(ctx); err != nil {
			warn(err)
		}
		return
	}
	queued := s.Tasks.Enqueue(device.Task{Device: kind, OrderID: a.Order.ID(), Timeout: s.TaskTimeout, Run: run})
	if !queued {
		warn(ierr.NewErrorf("%s not queued", step).
			WithHintf("%s was skipped because the task queue is full", step).
			Mark(ierr.ErrSystem))
	}
}

func receipt(o *sale.Order, orderNumber string) device.Receipt {
	return device.Receipt{
		OrderID:     o.ID(),
		Reference:   o.Reference(),
		OrderNumber: orderNumber,
		StoreID:     o.StoreID(),
		Currency:    o.Currency(),
		Lines: lo.Map(o.Lines(), func(l *sale.Line, _ int) device.ReceiptLine {
			return device.ReceiptLine{Description: l.Description, Quantity: l.Quantity, Amount: l.Total()}
		}),
		Subtotal: o.Subtotal(),
		Discount: o.Discount(),
		Total:    o.Total(),
		Paid:     o.Paid(),
		Change:   o.Change(),
	}
}
