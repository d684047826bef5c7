package backend

import (
	"context"
	"net/http"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
)

const reservedKey = "reserved"

// ReservedMethod returns the payment method gift-card balances are booked
// against. The lookup is cached for the configured TTL.
func (c *Client) ReservedMethod(ctx context.Context) (*payment.Method, error) {
	return c.reserved.GetOrLoad(ctx, reservedKey, func(ctx context.Context) (*payment.Method, error) {
		var out payment.Method
		if err := c.send(ctx, http.MethodGet, "/api/v1/payment-methods/reserved", nil, &out, ierr.ErrConnectivityLost); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// PaymentMethods lists the active payment methods.
func (c *Client) PaymentMethods(ctx context.Context) ([]*payment.Method, error) {
	var out []*payment.Method
	if err := c.send(ctx, http.MethodGet, "/api/v1/payment-methods", nil, &out, ierr.ErrConnectivityLost); err != nil {
		return nil, err
	}
	return out, nil
}

// PaymentMethod finds an active method by id.
func (c *Client) PaymentMethod(ctx context.Context, id string) (*payment.Method, error) {
	methods, err := c.PaymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range methods {
		if m.ID.String() == id || m.Code == id {
			return m, nil
		}
	}
	return nil, ierr.NewErrorf("payment method %s not found", id).
		WithHintf("Payment method %s is not configured", id).
		Mark(ierr.ErrNotFound)
}
