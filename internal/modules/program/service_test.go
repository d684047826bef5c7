package program

import (
	"context"
	"testing"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetProgram(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	p, err := svc.CreateProgram(ctx, CreateProgramRequest{
		Name:           "Printa Points",
		Type:           TypePoints,
		ConversionRate: decimal.NewFromInt(100),
		Rewards: []CreateRewardRequest{
			{Kind: RewardPerPointDiscount, DiscountProductID: "DISC-PTS", Description: "Points discount"},
		},
	})
	require.NoError(t, err)
	require.Len(t, p.Rewards, 1)

	got, err := svc.GetProgram(ctx, p.ID.String())
	require.NoError(t, err)
	rw, ok := got.Reward(p.Rewards[0].ID.String())
	require.True(t, ok)
	assert.Equal(t, "DISC-PTS", rw.DiscountProductID)

	_, ok = got.Reward("missing")
	assert.False(t, ok)

	list, err := svc.ListPrograms(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateProgramValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())

	_, err := svc.CreateProgram(context.Background(), CreateProgramRequest{
		Name:           "No rate",
		Type:           TypePoints,
		ConversionRate: decimal.Zero,
		Rewards:        []CreateRewardRequest{{Kind: RewardPerPointDiscount, DiscountProductID: "D"}},
	})
	assert.True(t, ierr.IsValidation(err))

	// gift card rewards need no discount product
	_, err = svc.CreateProgram(context.Background(), CreateProgramRequest{
		Name:           "Gift card",
		Type:           TypeGiftCard,
		ConversionRate: decimal.NewFromInt(1),
		Rewards:        []CreateRewardRequest{{Kind: RewardGiftCard}},
	})
	assert.NoError(t, err)
}

func TestGetProgramNotFound(t *testing.T) {
	_, err := NewService(NewMemoryRepository()).GetProgram(context.Background(), "nope")
	assert.True(t, ierr.IsNotFound(err))
}
