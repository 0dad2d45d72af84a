package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the validated identity extracted from a bearer token.
type Claims struct {
	Subject string
	Tier    string
}

// TokenService validates and issues bearer tokens carrying a subject and a
// tier claim.
type TokenService interface {
	GenerateToken(ctx context.Context, subject, tier string) (string, error)
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// hmacTokenService is an implementation of TokenService using HMAC-SHA signing.
type hmacTokenService struct {
	signingKey    []byte
	tokenLifetime time.Duration
	timeFunc      func() time.Time // Injectable for testing
	clockSkew     time.Duration    // Allowed time difference for validation to handle clock drift
}

// tokenClaims defines the structure of JWT claims we use
type tokenClaims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

var _ TokenService = (*hmacTokenService)(nil)

// NewTokenService creates a new token service using HMAC-SHA signing.
func NewTokenService(secret string, lifetime time.Duration) (TokenService, error) {
	// Validate that the secret meets minimum length requirements
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 characters")
	}

	return &hmacTokenService{
		signingKey:    []byte(secret),
		tokenLifetime: lifetime,
		timeFunc:      time.Now,
		clockSkew:     2 * time.Minute,
	}, nil
}

// GenerateToken creates a signed JWT with the given subject and tier claim.
func (s *hmacTokenService) GenerateToken(ctx context.Context, subject, tier string) (string, error) {
	now := s.timeFunc()

	claims := tokenClaims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with HMAC-SHA256: %w", err)
	}

	return signedToken, nil
}

// ValidateToken validates a JWT and returns the claims if valid.
func (s *hmacTokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	now := s.timeFunc()

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time {
			return now
		}),
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&tokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		parserOpts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{Subject: claims.Subject, Tier: claims.Tier}, nil
}
