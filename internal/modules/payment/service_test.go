package payment

import (
	"context"
	"testing"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservedMethodRequiresExactlyOne(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	_, err := svc.ReservedMethod(ctx)
	assert.True(t, ierr.IsNotFound(err))

	_, err = svc.CreateMethod(ctx, CreateMethodRequest{Code: "cash", Name: "Cash", Kind: KindCash})
	require.NoError(t, err)
	dp, err := svc.CreateMethod(ctx, CreateMethodRequest{Code: "dp", Name: "Gift card deposit", Kind: KindGiftCard, IsReserved: true})
	require.NoError(t, err)

	got, err := svc.ReservedMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, dp.ID, got.ID)
	assert.Equal(t, "DP", got.Code)

	_, err = svc.CreateMethod(ctx, CreateMethodRequest{Code: "dp2", Name: "Second deposit", Kind: KindGiftCard, IsReserved: true})
	require.NoError(t, err)
	_, err = svc.ReservedMethod(ctx)
	assert.True(t, ierr.IsInvalidOperation(err))

	methods, err := svc.ListMethods(ctx)
	require.NoError(t, err)
	assert.Len(t, methods, 3)
}

func TestCreateMethodValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	_, err := svc.CreateMethod(context.Background(), CreateMethodRequest{Code: "x", Name: "X", Kind: "bitcoin"})
	assert.True(t, ierr.IsValidation(err))
}
