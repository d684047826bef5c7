package reward

import (
	"testing"

	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func pointsDef() Definition {
	return Definition{
		ProgramID:         "prog-1",
		ProgramType:       program.TypePoints,
		RewardID:          "reward-1",
		Kind:              program.RewardPerPointDiscount,
		DiscountProductID: "DISC",
		ConversionRate:    d(100),
	}
}

func orderWithTotal(t *testing.T, total int64) *sale.Order {
	t.Helper()
	o := sale.New("store", "op", "ZMW")
	_, err := o.AddItem("P1", "", d(1), d(total))
	require.NoError(t, err)
	return o
}

func TestApplyPricesDiscountLine(t *testing.T) {
	o := orderWithTotal(t, 50000)
	a := NewApplicator()

	res, err := a.Apply(o, pointsDef(), "card-1", d(200), "key")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Line.Total().Equal(d(-20000)))
	assert.Equal(t, "card-1", res.Line.Reward.ResourceID)
	assert.True(t, o.Total().Equal(d(30000)))
}

func TestApplyIsIdempotentPerRewardAndResource(t *testing.T) {
	o := orderWithTotal(t, 50000)
	a := NewApplicator()

	first, err := a.Apply(o, pointsDef(), "card-1", d(200), "key")
	require.NoError(t, err)
	second, err := a.Apply(o, pointsDef(), "card-1", d(200), "key")
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Line.ID, second.Line.ID)
	assert.Len(t, o.RewardLines(), 1)
}

func TestApplyNeverClamps(t *testing.T) {
	o := orderWithTotal(t, 1000)
	_, err := NewApplicator().Apply(o, pointsDef(), "card-1", d(200), "key")
	assert.True(t, ierr.Is(err, ierr.ErrDiscountExceedsOrderTotal))
	assert.Empty(t, o.RewardLines())
}

func TestGiftCardLineIsZeroPriced(t *testing.T) {
	o := orderWithTotal(t, 1000)
	def := Definition{RewardID: "gc", Kind: program.RewardGiftCard, ConversionRate: d(1)}

	res, err := NewApplicator().Apply(o, def, "gc-1", d(50000), "key")
	require.NoError(t, err)
	assert.True(t, res.Line.Total().IsZero())
	assert.True(t, res.Line.Reward.Value.Equal(d(50000)))
}

func TestMissingDiscountProduct(t *testing.T) {
	def := pointsDef()
	def.DiscountProductID = ""
	err := NewApplicator().Preview(orderWithTotal(t, 100), def, d(1))
	assert.True(t, ierr.IsValidation(err))
}

func TestRemove(t *testing.T) {
	o := orderWithTotal(t, 50000)
	a := NewApplicator()
	res, err := a.Apply(o, pointsDef(), "card-1", d(1), "key")
	require.NoError(t, err)

	assert.True(t, ierr.IsInvalidOperation(a.Remove(o, o.Lines()[0].ID)))
	require.NoError(t, a.Remove(o, res.Line.ID))
	assert.True(t, ierr.IsNotFound(a.Remove(o, res.Line.ID)))
}
