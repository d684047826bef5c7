package user

import (
	"context"
	"testing"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	u, err := svc.RegisterUser(ctx, RegisterRequest{
		Email:    " Mwila@Printa.test ",
		Password: "s3cret-pass",
		Role:     RoleCashier,
	})
	require.NoError(t, err)
	assert.Equal(t, "mwila@printa.test", u.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("s3cret-pass")))

	got, err := svc.GetUser(ctx, u.ID.String())
	require.NoError(t, err)
	assert.Equal(t, RoleCashier, got.Role)

	_, err = svc.RegisterUser(ctx, RegisterRequest{Email: "mwila@printa.test", Password: "another-pass", Role: RoleManager})
	assert.True(t, ierr.IsAlreadyExists(err))
}

func TestRegisterUserValidation(t *testing.T) {
	_, err := NewService(NewMemoryRepository()).RegisterUser(context.Background(), RegisterRequest{
		Email:    "not-an-email",
		Password: "short",
		Role:     "owner",
	})
	assert.True(t, ierr.IsValidation(err))
}
