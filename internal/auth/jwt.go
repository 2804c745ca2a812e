package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const devIssuer = "mercado-insights-dev"

// TokenService issues and verifies HS256 identity tokens. It stands in for
// Clerk in local development (DEV_JWT_SECRET) and in tests; the claims it
// writes mirror a Clerk session token (sub + email).
type TokenService struct {
	secret []byte
}

var _ Verifier = (*TokenService)(nil)

// NewTokenService creates a TokenService with the given secret.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

type devClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Generate signs a one-hour token for subject.
func (s *TokenService) Generate(subject, email string) (string, error) {
	return s.GenerateWithDuration(subject, email, time.Hour)
}

// GenerateWithDuration signs a token for subject that expires after d.
// A negative d produces an already expired token.
func (s *TokenService) GenerateWithDuration(subject, email string, d time.Duration) (string, error) {
	now := time.Now()

	c := devClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    devIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry.
func (s *TokenService) Verify(_ context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&devClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(devIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*devClaims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}

	return &Identity{Subject: c.Subject, Email: c.Email}, nil
}
