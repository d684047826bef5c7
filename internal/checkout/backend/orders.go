package backend

import (
	"context"
	"net/http"
	"net/url"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/order"
)

// SyncOrder creates the sale on the backend. It is idempotent on the
// payload's reference, so a retry after a lost response returns the
// original order with Replayed set. Unreachable backends yield
// ErrConnectivityLost.
func (c *Client) SyncOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error) {
	var out order.Order
	if err := c.send(ctx, http.MethodPost, "/api/v1/orders", req, &out, ierr.ErrConnectivityLost); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkPrinted sets the order's is_printed flag.
func (c *Client) MarkPrinted(ctx context.Context, orderID string) error {
	printed := true
	return c.send(ctx, http.MethodPatch, "/api/v1/orders/"+url.PathEscape(orderID)+"/flags",
		order.UpdateFlagsRequest{IsPrinted: &printed}, nil, ierr.ErrConnectivityLost)
}
