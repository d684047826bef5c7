package auth

import (
	"context"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/user"
	"golang.org/x/crypto/bcrypt"
)

type service struct {
	userRepo user.Repository
	jwtKey   []byte
	ttl      time.Duration
}

// NewService creates a new auth service signing tokens with secret.
func NewService(userRepo user.Repository, secret string, ttl time.Duration) Service {
	return &service{userRepo: userRepo, jwtKey: []byte(secret), ttl: ttl}
}

// NewVerifier returns a Service that can only parse tokens. The terminal
// uses it: logins happen against the backend.
func NewVerifier(secret string) Service {
	return &service{jwtKey: []byte(secret)}
}

func (s *service) Login(ctx context.Context, email, password string) (*Token, error) {
	if s.userRepo == nil {
		return nil, ierr.NewError("login not supported by this service").Mark(ierr.ErrInvalidOperation)
	}
	u, err := s.userRepo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, invalidCredentials()
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, invalidCredentials()
	}

	expirationTime := time.Now().Add(s.ttl)
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   u.ID.String(),
			ExpiresAt: expirationTime.Unix(),
			IssuedAt:  time.Now().Unix(),
		},
		Email: u.Email,
		Role:  string(u.Role),
		IsPIC: u.IsPIC,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtKey)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to sign token").Mark(ierr.ErrSystem)
	}

	return &Token{
		AccessToken: tokenString,
		ExpiresAt:   expirationTime.UTC(),
		Operator:    Operator{ID: u.ID.String(), Email: u.Email, Role: string(u.Role), IsPIC: u.IsPIC},
	}, nil
}

func (s *service) ParseToken(tokenString string) (*Operator, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewErrorf("unexpected signing method %v", t.Header["alg"]).Mark(ierr.ErrPermissionDenied)
		}
		return s.jwtKey, nil
	})
	if err == nil && !token.Valid {
		err = ierr.NewError("token is not valid").Err()
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Session expired or invalid, sign in again").
			Mark(ierr.ErrPermissionDenied)
	}
	return &Operator{ID: claims.Subject, Email: claims.Email, Role: claims.Role, IsPIC: claims.IsPIC}, nil
}

func invalidCredentials() error {
	return ierr.NewError("invalid credentials").
		WithHint("Email or password is incorrect").
		Mark(ierr.ErrPermissionDenied)
}
