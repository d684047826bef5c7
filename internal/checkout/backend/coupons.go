package backend

import (
	"context"
	"net/http"
	"net/url"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/coupon"
)

// CouponUsage asks whether code was used. Unreachable backends yield
// ErrCouponValidationUnavailable.
func (c *Client) CouponUsage(ctx context.Context, code string) (*coupon.Usage, error) {
	var out coupon.Usage
	err := c.send(ctx, http.MethodGet, "/api/v1/coupons/"+url.PathEscape(code)+"/usage", nil, &out,
		ierr.ErrCouponValidationUnavailable)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkCouponUsed flags code as used by orderID.
func (c *Client) MarkCouponUsed(ctx context.Context, code, orderID string) error {
	return c.send(ctx, http.MethodPatch, "/api/v1/coupons/"+url.PathEscape(code)+"/usage",
		coupon.UpdateUsageRequest{IsUsed: true, OrderID: orderID}, nil, ierr.ErrCouponValidationUnavailable)
}
