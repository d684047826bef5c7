// Package finalize turns an open terminal order into a synced sale.
//
// Finalization is a chain of stages. The first stages only read (operator,
// coupons, balances) and may abort with nothing to undo. The sync stage is
// the point of no return: once the backend accepted the order, later stages
// are bookkeeping whose failures are logged and never reverse the sale.
package finalize

import (
	"context"
	"sync"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/order"
)

// Request asks to finalize one order.
type Request struct {
	Order *sale.Order
	// AcceptUnvalidatedCoupons lets the operator continue when the coupon
	// service cannot be reached. The override is logged.
	AcceptUnvalidatedCoupons bool
}

// Result describes a successful finalization.
type Result struct {
	OrderID     string    `json:"order_id"`
	BackendID   string    `json:"backend_id"`
	OrderNumber string    `json:"order_number"`
	Replayed    bool      `json:"replayed"`
	SyncedAt    time.Time `json:"synced_at"`
	// UnvalidatedCoupons were accepted under the operator override.
	UnvalidatedCoupons []string `json:"unvalidated_coupons,omitempty"`
	// Warnings lists post-sync steps that did not complete.
	Warnings []string `json:"warnings,omitempty"`
}

// Finalizer finalizes orders.
type Finalizer interface {
	Finalize(ctx context.Context, req Request) (*Result, error)
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, req Request) (*Result, error)

func (f FinalizerFunc) Finalize(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Middleware decorates a Finalizer.
type Middleware func(Finalizer) Finalizer

// Chain wraps f so that the first middleware is the outermost.
func Chain(f Finalizer, mw ...Middleware) Finalizer {
	for i := len(mw) - 1; i >= 0; i-- {
		f = mw[i](f)
	}
	return f
}

// Attempt carries the state of one finalization through the stages.
type Attempt struct {
	Request Request
	Order   *sale.Order
	Result  *Result
	// Synced is the backend's copy, set by the sync stage.
	Synced *order.Order
}

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, a *Attempt) error
}

// Pipeline runs stages in order and stops at the first error.
type Pipeline struct {
	stages []Stage

	mu      sync.Mutex
	running map[string]bool
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, running: make(map[string]bool)}
}

func (p *Pipeline) Finalize(ctx context.Context, req Request) (*Result, error) {
	o := req.Order
	if o == nil {
		return nil, ierr.NewError("no order to finalize").
			WithHint("Open an order first").
			Mark(ierr.ErrValidation)
	}
	if !o.IsOpen() {
		return nil, ierr.NewErrorf("order %s is %s", o.ID(), o.Status()).
			WithHintf("The order is already %s", o.Status()).
			Mark(ierr.ErrOrderClosed)
	}
	if err := p.begin(o.ID()); err != nil {
		return nil, err
	}
	defer p.end(o.ID())

	a := &Attempt{Request: req, Order: o, Result: &Result{OrderID: o.ID()}}
	for _, s := range p.stages {
		if err := s.Run(ctx, a); err != nil {
			return nil, err
		}
	}
	return a.Result, nil
}

func (p *Pipeline) begin(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[orderID] {
		return ierr.NewErrorf("order %s is already being finalized", orderID).
			WithHint("Wait for the current finalization to finish").
			Mark(ierr.ErrInvalidOperation)
	}
	p.running[orderID] = true
	return nil
}

func (p *Pipeline) end(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, orderID)
}
