package backend

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/cache"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/coupon"
	"github.com/georgemunganga/printa-checkout/internal/modules/order"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/testutil"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*Client, *testutil.Backend, *cache.ManualClock) {
	t.Helper()
	b := testutil.NewBackend(t)
	clock := cache.NewManualClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	return NewClient(b.URL(), b.Client(), Options{MethodsTTL: 5 * time.Minute, Clock: clock}), b, clock
}

func syncRequest(ref string) order.CreateOrderRequest {
	return order.CreateOrderRequest{
		Reference: ref,
		StoreID:   "store-1",
		Currency:  "ZMW",
		Items: []order.ItemInput{
			{ProductID: "P1", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
		},
		Payments: []order.PaymentInput{{MethodID: "cash", Amount: decimal.NewFromInt(100)}},
	}
}

func TestSyncOrderIsIdempotent(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()
	ref := ulid.Make().String()

	first, err := c.SyncOrder(ctx, syncRequest(ref))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := c.SyncOrder(ctx, syncRequest(ref))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, c.MarkPrinted(ctx, first.ID.String()))
}

func TestSyncOrderConnectivityLost(t *testing.T) {
	c, b, _ := newClient(t)
	b.SetDown("/api/v1/orders", true)

	_, err := c.SyncOrder(context.Background(), syncRequest(ulid.Make().String()))
	assert.True(t, ierr.Is(err, ierr.ErrConnectivityLost))
	assert.Equal(t, "ConnectivityLost", ierr.Describe(err).Reason)
}

func TestSyncOrderServerErrorIsNotConnectivity(t *testing.T) {
	c, b, _ := newClient(t)
	b.SetStatus("/api/v1/orders", http.StatusInternalServerError)

	_, err := c.SyncOrder(context.Background(), syncRequest(ulid.Make().String()))
	require.Error(t, err)
	assert.False(t, ierr.Is(err, ierr.ErrConnectivityLost))
	assert.True(t, ierr.IsHTTPClient(err))
}

func TestCouponUsage(t *testing.T) {
	c, b, _ := newClient(t)
	ctx := context.Background()
	_, err := b.Coupons.Create(ctx, coupon.CreateCouponRequest{Code: "SAVE10"})
	require.NoError(t, err)

	u, err := c.CouponUsage(ctx, "SAVE10")
	require.NoError(t, err)
	assert.True(t, u.Found)
	assert.False(t, u.IsUsed)

	require.NoError(t, c.MarkCouponUsed(ctx, "SAVE10", "order-1"))
	u, err = c.CouponUsage(ctx, "SAVE10")
	require.NoError(t, err)
	assert.True(t, u.IsUsed)

	b.SetDown("/api/v1/coupons", true)
	_, err = c.CouponUsage(ctx, "SAVE10")
	assert.True(t, ierr.Is(err, ierr.ErrCouponValidationUnavailable))
}

func TestReservedMethodIsCached(t *testing.T) {
	c, b, clock := newClient(t)
	ctx := context.Background()

	_, err := c.ReservedMethod(ctx)
	assert.True(t, ierr.IsNotFound(err))

	_, err = b.Methods.CreateMethod(ctx, payment.CreateMethodRequest{Code: "DP", Name: "Deposit", Kind: payment.KindGiftCard, IsReserved: true})
	require.NoError(t, err)

	m, err := c.ReservedMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DP", m.Code)

	_, err = c.ReservedMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Calls("GET", "/api/v1/payment-methods/reserved"))

	clock.Advance(6 * time.Minute)
	_, err = c.ReservedMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Calls("GET", "/api/v1/payment-methods/reserved"))

	got, err := c.PaymentMethod(ctx, "DP")
	require.NoError(t, err)
	assert.True(t, got.IsReserved)
}
