package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okuzmin/vectorize-api/internal/config"
)

func TestSetupReturnsLogger(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error", "WARN"}
	for _, lvl := range levels {
		t.Run(lvl, func(t *testing.T) {
			l, err := Setup(config.ServerConfig{Port: 8080, LogLevel: lvl})
			require.NoError(t, err)
			require.NotNil(t, l)
		})
	}
}

func TestSetupInvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := Setup(config.ServerConfig{Port: 8080, LogLevel: "loud"})
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetupSetsDefaultLogger(t *testing.T) {
	l, err := Setup(config.ServerConfig{Port: 8080, LogLevel: "info"})
	require.NoError(t, err)
	assert.Equal(t, l, slog.Default())
}
