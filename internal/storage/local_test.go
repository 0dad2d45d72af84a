package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("<svg></svg>")
	require.NoError(t, s.Save(ctx, "results/a.svg", data, "image/svg+xml"))

	got, err := s.Fetch(ctx, "results/a.svg")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	size, err := s.Size(ctx, "results/a.svg")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}

func TestLocalStoreMissingBlob(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), "nope.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalStoreDeleteIdempotent(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a.png", []byte("x"), ""))
	require.NoError(t, s.Delete(ctx, "a.png"))
	assert.NoError(t, s.Delete(ctx, "a.png"))
}

func TestValidateRef(t *testing.T) {
	tests := []struct {
		ref     string
		wantErr bool
	}{
		{"inputs/cat.png", false},
		{"a.png", false},
		{"", true},
		{"/etc/passwd", true},
		{"../escape.png", true},
		{"inputs/../../escape.png", true},
	}

	for _, tc := range tests {
		t.Run(tc.ref, func(t *testing.T) {
			err := ValidateRef(tc.ref)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
