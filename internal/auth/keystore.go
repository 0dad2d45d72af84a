package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is one provisioned key: the key id, the bcrypt hash of its secret
// half, and the tier granted to holders of the key.
type APIKey struct {
	ID         string
	SecretHash string
	Tier       string
}

// Keystore verifies raw API keys of the form "<id>.<secret>" against
// bcrypt-hashed secrets. Verified keys are remembered by digest so the
// bcrypt cost is paid once per key, not once per request.
type Keystore struct {
	mu       sync.RWMutex
	keys     map[string]APIKey // by key id
	verified map[string]APIKey // by sha256 digest of the raw key
}

// NewKeystore builds a keystore from provisioned keys.
func NewKeystore(keys []APIKey) *Keystore {
	byID := make(map[string]APIKey, len(keys))
	for _, k := range keys {
		byID[k.ID] = k
	}
	return &Keystore{
		keys:     byID,
		verified: make(map[string]APIKey),
	}
}

// Verify checks a raw API key and returns the matching entry.
// Returns ErrInvalidKey for malformed, unknown, or mismatched keys.
func (s *Keystore) Verify(rawKey string) (*APIKey, error) {
	digest := digestKey(rawKey)

	s.mu.RLock()
	cached, ok := s.verified[digest]
	s.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	id, secret, found := strings.Cut(rawKey, ".")
	if !found || id == "" || secret == "" {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	key, ok := s.keys[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidKey
	}

	s.mu.Lock()
	s.verified[digest] = key
	s.mu.Unlock()

	return &key, nil
}

// HashSecret produces a bcrypt hash suitable for APIKey.SecretHash.
// Intended for provisioning tooling.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func digestKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
