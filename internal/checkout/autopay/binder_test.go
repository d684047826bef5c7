package autopay

import (
	"context"
	"testing"

	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMethods struct {
	method *payment.Method
	err    error
}

func (s *staticMethods) ReservedMethod(context.Context) (*payment.Method, error) {
	return s.method, s.err
}

func giftCardLine(resourceID string, value int64) *sale.Line {
	return &sale.Line{
		ProductID: "gift-card",
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.Zero,
		Reward: &sale.RewardLink{
			RewardID:   "gift-card",
			ResourceID: resourceID,
			Kind:       string(program.RewardGiftCard),
			Cost:       decimal.NewFromInt(value),
			Value:      decimal.NewFromInt(value),
		},
	}
}

func newBoundOrder(t *testing.T, src MethodSource) (*Binder, *sale.Order) {
	t.Helper()
	b := NewBinder(src, logger.NewNop())
	o := sale.New("store", "op", "ZMW")
	_, err := o.AddItem("P1", "", decimal.NewFromInt(1), decimal.NewFromInt(80000))
	require.NoError(t, err)
	b.Bind(context.Background(), o)
	return b, o
}

func dp() *payment.Method {
	return &payment.Method{ID: uuid.New(), Code: "DP", Name: "Gift card deposit", Kind: payment.KindGiftCard, IsReserved: true, IsActive: true}
}

func TestReservedLineFollowsGiftCards(t *testing.T) {
	method := dp()
	_, o := newBoundOrder(t, &staticMethods{method: method})

	_, ok := o.ReservedPayment()
	assert.False(t, ok)

	line := giftCardLine("gc-1", 50000)
	require.NoError(t, o.AddRewardLine(line))
	res, ok := o.ReservedPayment()
	require.True(t, ok)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, method.ID.String(), res.MethodID)

	require.NoError(t, o.AddRewardLine(giftCardLine("gc-2", 10000)))
	res, _ = o.ReservedPayment()
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(60000)))
	assert.Len(t, o.Payments(), 1)

	require.NoError(t, o.RemoveLine(line.ID))
	res, _ = o.ReservedPayment()
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(10000)))

	for _, l := range o.RewardLines() {
		require.NoError(t, o.RemoveLine(l.ID))
	}
	_, ok = o.ReservedPayment()
	assert.False(t, ok)
}

func TestOperatorCannotTouchReservedLine(t *testing.T) {
	method := dp()
	_, o := newBoundOrder(t, &staticMethods{method: method})
	require.NoError(t, o.AddRewardLine(giftCardLine("gc-1", 50000)))
	res, _ := o.ReservedPayment()

	err := o.DeletePayment(res.ID)
	require.True(t, ierr.Is(err, ierr.ErrReservedPaymentLine))
	assert.Contains(t, ierr.Describe(err).Message, "cannot be deleted")

	_, err = o.EditPayment(res.ID, decimal.NewFromInt(1))
	assert.True(t, ierr.Is(err, ierr.ErrReservedPaymentLine))
	_, err = o.SelectPayment(res.ID)
	assert.True(t, ierr.Is(err, ierr.ErrReservedPaymentLine))
	_, err = o.AddPayment("DP", "gift_card", decimal.NewFromInt(5))
	assert.True(t, ierr.Is(err, ierr.ErrReservedPaymentLine))

	// other tenders are untouched
	cash, err := o.AddPayment("cash", "cash", decimal.NewFromInt(30000))
	require.NoError(t, err)
	_, err = o.EditPayment(cash.ID, decimal.NewFromInt(40000))
	assert.NoError(t, err)

	res, _ = o.ReservedPayment()
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(50000)))
}

func TestEnsureResolvesLateMethod(t *testing.T) {
	src := &staticMethods{err: ierr.NewError("down").Mark(ierr.ErrConnectivityLost)}
	b, o := newBoundOrder(t, src)

	assert.True(t, ierr.IsInvalidOperation(b.Ensure(context.Background(), o)))

	src.method, src.err = dp(), nil
	require.NoError(t, b.Ensure(context.Background(), o))
	require.NoError(t, o.AddRewardLine(giftCardLine("gc-1", 100)))
	_, ok := o.ReservedPayment()
	assert.True(t, ok)
}
