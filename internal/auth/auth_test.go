package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	svc, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := svc.GenerateToken(context.Background(), "client-42", "pro")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "client-42", claims.Subject)
	assert.Equal(t, "pro", claims.Tier)
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	svc, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	impl := svc.(*hmacTokenService)

	token, err := svc.GenerateToken(context.Background(), "client-42", "pro")
	require.NoError(t, err)

	// Move validation time past expiry plus clock skew.
	impl.timeFunc = func() time.Time {
		return time.Now().Add(2 * time.Hour)
	}

	_, err = svc.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenTampered(t *testing.T) {
	t.Parallel()

	svc, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := svc.GenerateToken(context.Background(), "client-42", "pro")
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenServiceRejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService("short", time.Hour)
	assert.Error(t, err)
}

func TestKeystoreVerify(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("s3cret")
	require.NoError(t, err)

	store := NewKeystore([]APIKey{{ID: "acme", SecretHash: hash, Tier: "enterprise"}})

	key, err := store.Verify("acme.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "acme", key.ID)
	assert.Equal(t, "enterprise", key.Tier)

	// Second verification hits the digest cache; same result.
	key, err = store.Verify("acme.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "acme", key.ID)
}

func TestKeystoreRejects(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	store := NewKeystore([]APIKey{{ID: "acme", SecretHash: hash, Tier: "enterprise"}})

	cases := []struct {
		name   string
		rawKey string
	}{
		{"wrong secret", "acme.wrong"},
		{"unknown id", "nobody.s3cret"},
		{"no separator", "acmes3cret"},
		{"empty secret", "acme."},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, verifyErr := store.Verify(tc.rawKey)
			assert.ErrorIs(t, verifyErr, ErrInvalidKey)
		})
	}
}
