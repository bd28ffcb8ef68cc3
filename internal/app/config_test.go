package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-learn/odyssey-learn/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.PGLockTimeout)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.NotEmpty(t, cfg.JWTSecret)
	require.False(t, cfg.IsProduction())
	require.True(t, InTestMode())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PG_LOCK_TIMEOUT", "750ms")
	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 750*time.Millisecond, cfg.PGLockTimeout)
	require.True(t, cfg.IsProduction())

	t.Setenv("PG_LOCK_TIMEOUT", "0s")
	_, err = LoadConfig()
	require.Error(t, err)
}
