package finalize

import (
	"time"

	"github.com/georgemunganga/printa-checkout/internal/checkout/device"
	"github.com/georgemunganga/printa-checkout/internal/checkout/events"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
)

// Deps are the collaborators of the standard pipeline.
type Deps struct {
	Backend   OrderSyncer
	Coupons   CouponService
	Ledger    BalanceReader
	Holds     HoldBook
	Devices   *device.Hub
	Publisher events.Publisher
	// Tasks takes the post-sale backend calls and event publish.
	Tasks   *device.Queue
	Log     *logger.Logger
	Metrics *metrics.Registry
}

type Options struct {
	// FinalizeRoles are the operator roles allowed to finalize.
	FinalizeRoles []string
	// CashKind is the payment method kind that opens the drawer.
	CashKind string
	// TaskTimeout bounds each queued post-sale step.
	TaskTimeout time.Duration
	Now         func() time.Time
}

// New builds the standard pipeline wrapped in logging and metrics.
func New(d Deps, opts Options) Finalizer {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if opts.CashKind == "" {
		opts.CashKind = "cash"
	}

	p := NewPipeline(
		AuthGate(opts.FinalizeRoles),
		Tender(),
		Coupons(d.Coupons, d.Log),
		Recheck(d.Ledger, d.Holds),
		PreActions(d.Devices, opts.CashKind),
		Sync(d.Backend, d.Holds),
		&PostSync{
			Backend:     d.Backend,
			Coupons:     d.Coupons,
			Holds:       d.Holds,
			Devices:     d.Devices,
			Publisher:   d.Publisher,
			Tasks:       d.Tasks,
			TaskTimeout: opts.TaskTimeout,
			Log:         d.Log,
			Now:         opts.Now,
		},
	)
	return Chain(p, WithLogging(d.Log), WithMetrics(d.Metrics))
}
