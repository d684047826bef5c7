package pos

import (
	"context"

	"github.com/georgemunganga/printa-checkout/internal/checkout/autopay"
	"github.com/georgemunganga/printa-checkout/internal/checkout/finalize"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reconcile"
	"github.com/georgemunganga/printa-checkout/internal/checkout/redemption"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reward"
	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/georgemunganga/printa-checkout/internal/modules/auth"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/georgemunganga/printa-checkout/internal/validator"
)

// Service is the operator-facing terminal.
type Service interface {
	OpenOrder(ctx context.Context) (*OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*OrderResponse, error)

	// CancelOrder rolls back every deduction the order holds and discards
	// it. Failed rollbacks are journaled and reported as
	// ErrManualReconciliationRequired; the order is cancelled regardless.
	CancelOrder(ctx context.Context, orderID string) (*OrderResponse, error)

	AddItem(ctx context.Context, orderID string, req AddItemRequest) (*OrderResponse, error)
	AddCoupon(ctx context.Context, orderID string, req AddCouponRequest) (*OrderResponse, error)

	Redeem(ctx context.Context, orderID string, req RedeemRequest) (*RedeemResponse, error)
	ReverseRedemption(ctx context.Context, orderID, lineID string) (*OrderResponse, error)

	AddPayment(ctx context.Context, orderID string, req AddPaymentRequest) (*OrderResponse, error)
	SelectPayment(ctx context.Context, orderID, paymentID string) (*OrderResponse, error)
	EditPayment(ctx context.Context, orderID, paymentID string, req EditPaymentRequest) (*OrderResponse, error)
	DeletePayment(ctx context.Context, orderID, paymentID string) (*OrderResponse, error)

	Finalize(ctx context.Context, orderID string, req FinalizeRequest) (*finalize.Result, error)

	ListReconciliation(ctx context.Context) ([]reconcile.Record, error)
	ResolveReconciliation(ctx context.Context, id string, req ResolveRequest) (*reconcile.Record, error)
}

// ProgramSource looks up loyalty programs.
type ProgramSource interface {
	Program(ctx context.Context, id string) (*program.Program, error)
}

// MethodSource looks up payment methods by id or code.
type MethodSource interface {
	PaymentMethod(ctx context.Context, id string) (*payment.Method, error)
}

// ReconciliationJournal lists and resolves reconciliation records.
type ReconciliationJournal interface {
	List(openOnly bool) ([]reconcile.Record, error)
	Resolve(id, note string) (reconcile.Record, error)
}

// Config identifies the till.
type Config struct {
	StoreID  string
	Currency string
}

// Deps are the terminal's collaborators.
type Deps struct {
	Store        SessionStore
	Programs     ProgramSource
	Methods      MethodSource
	Orchestrator *redemption.Orchestrator
	Binder       *autopay.Binder
	Finalizer    finalize.Finalizer
	Journal      ReconciliationJournal
	Log          *logger.Logger
	Metrics      *metrics.Registry
}

type service struct {
	Deps
	cfg Config
}

func NewService(cfg Config, d Deps) Service {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Store == nil {
		d.Store = NewMemoryStore(DefaultClosedRetention)
	}
	return &service{Deps: d, cfg: cfg}
}

// with runs fn on the locked session of orderID.
func (s *service) with(orderID string, fn func(o *sale.Order) error) (*OrderResponse, error) {
	sess, err := s.Store.Get(orderID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := fn(sess.order); err != nil {
		return nil, err
	}
	return s.respond(sess.order), nil
}

func (s *service) respond(o *sale.Order) *OrderResponse {
	return &OrderResponse{Order: o.View(), Redemptions: s.Orchestrator.State(o.ID())}
}

func (s *service) OpenOrder(ctx context.Context) (*OrderResponse, error) {
	op, ok := auth.OperatorFrom(ctx)
	if !ok {
		return nil, ierr.NewError("no operator on the request").
			WithHint("Sign in to open an order").
			Mark(ierr.ErrPermissionDenied)
	}
	o := sale.New(s.cfg.StoreID, op.ID, s.cfg.Currency)
	s.Binder.Bind(ctx, o)
	s.Store.Put(o)
	s.Log.Infow("order opened", "order_id", o.ID(), "reference", o.Reference(), "operator_id", op.ID)
	return s.respond(o), nil
}

func (s *service) GetOrder(_ context.Context, orderID string) (*OrderResponse, error) {
	return s.with(orderID, func(*sale.Order) error { return nil })
}

func (s *service) CancelOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	var abandonErr error
	resp, err := s.with(orderID, func(o *sale.Order) error {
		if !o.IsOpen() {
			return ierr.NewErrorf("order %s is %s", o.ID(), o.Status()).
				WithHintf("The order is already %s", o.Status()).
				Mark(ierr.ErrOrderClosed)
		}
		abandonErr = s.Orchestrator.Abandon(ctx, o)
		s.Binder.Unbind(o.ID())
		return o.Cancel()
	})
	if err != nil {
		return nil, err
	}
	s.Store.Close(orderID)
	return resp, abandonErr
}

func (s *service) AddItem(_ context.Context, orderID string, req AddItemRequest) (*OrderResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	return s.with(orderID, func(o *sale.Order) error {
		_, err := o.AddItem(req.ProductID, req.Description, req.Quantity, req.UnitPrice)
		return err
	})
}

func (s *service) AddCoupon(_ context.Context, orderID string, req AddCouponRequest) (*OrderResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	return s.with(orderID, func(o *sale.Order) error {
		return o.AddCoupon(req.Code)
	})
}

func (s *service) Redeem(ctx context.Context, orderID string, req RedeemRequest) (*RedeemResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	p, err := s.Programs.Program(ctx, req.ProgramID)
	if err != nil {
		return nil, err
	}
	def, err := reward.FromProgram(p, req.RewardID)
	if err != nil {
		return nil, err
	}

	var out redemption.Outcome
	resp, err := s.with(orderID, func(o *sale.Order) error {
		if def.IsGiftCard() {
			if err := s.Binder.Ensure(ctx, o); err != nil {
				return err
			}
		}
		var err error
		out, err = s.Orchestrator.Redeem(ctx, o, redemption.Request{
			Reward:     def,
			ResourceID: req.ResourceID,
			Amount:     req.Amount,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	red := &RedeemResponse{
		Line:       out.Line,
		Duplicate:  out.Duplicate,
		Replayed:   out.Replayed,
		OldBalance: out.OldBalance,
		NewBalance: out.NewBalance,
		Order:      *resp,
	}
	if out.Duplicate {
		notice := ierr.Describe(ierr.NewErrorf("reward %s already applied from %s", req.RewardID, req.ResourceID).
			WithHint("This reward is already on the order; nothing was deducted").
			Mark(ierr.ErrDuplicateReward))
		red.Notice = &notice
	}
	return red, nil
}

func (s *service) ReverseRedemption(ctx context.Context, orderID, lineID string) (*OrderResponse, error) {
	return s.with(orderID, func(o *sale.Order) error {
		return s.Orchestrator.Reverse(ctx, o, lineID)
	})
}

func (s *service) AddPayment(ctx context.Context, orderID string, req AddPaymentRequest) (*OrderResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	m, err := s.Methods.PaymentMethod(ctx, req.MethodID)
	if err != nil {
		return nil, err
	}
	return s.with(orderID, func(o *sale.Order) error {
		_, err := o.AddPayment(m.ID.String(), string(m.Kind), req.Amount)
		return err
	})
}

func (s *service) SelectPayment(_ context.Context, orderID, paymentID string) (*OrderResponse, error) {
	return s.with(orderID, func(o *sale.Order) error {
		_, err := o.SelectPayment(paymentID)
		return err
	})
}

func (s *service) EditPayment(_ context.Context, orderID, paymentID string, req EditPaymentRequest) (*OrderResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	return s.with(orderID, func(o *sale.Order) error {
		_, err := o.EditPayment(paymentID, req.Amount)
		return err
	})
}

func (s *service) DeletePayment(_ context.Context, orderID, paymentID string) (*OrderResponse, error) {
	return s.with(orderID, func(o *sale.Order) error {
		return o.DeletePayment(paymentID)
	})
}

func (s *service) Finalize(ctx context.Context, orderID string, req FinalizeRequest) (*finalize.Result, error) {
	var res *finalize.Result
	_, err := s.with(orderID, func(o *sale.Order) error {
		var err error
		res, err = s.Finalizer.Finalize(ctx, finalize.Request{
			Order:                    o,
			AcceptUnvalidatedCoupons: req.AcceptUnvalidatedCoupons,
		})
		if err != nil {
			return err
		}
		s.Binder.Unbind(o.ID())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Store.Close(orderID)
	return res, nil
}

func (s *service) ListReconciliation(_ context.Context) ([]reconcile.Record, error) {
	return s.Journal.List(true)
}

func (s *service) ResolveReconciliation(_ context.Context, id string, req ResolveRequest) (*reconcile.Record, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	rec, err := s.Journal.Resolve(id, req.Note)
	if err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.ReconciliationOpen.Dec()
	}
	s.Log.Infow("reconciliation record resolved", "record_id", id, "kind", rec.Kind, "order_id", rec.OrderID)
	return &rec, nil
}
