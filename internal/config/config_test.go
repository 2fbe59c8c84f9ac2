package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("GLOBAL_ROOMS", "")
	t.Setenv("NOTIFY_REARM", "")
	t.Setenv("APPEND_RETRIES", "")
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg := Load()

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, []string{"general"}, cfg.GlobalRooms)
	assert.Equal(t, 15*time.Second, cfg.NotifyRearm)
	assert.Equal(t, 5, cfg.AppendRetries)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GLOBAL_ROOMS", " lobby, , announcements ")
	t.Setenv("NOTIFY_REARM", "2s")
	t.Setenv("APPEND_RETRIES", "nope")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg := Load()

	assert.Equal(t, []string{"lobby", "announcements"}, cfg.GlobalRooms)
	assert.Equal(t, 2*time.Second, cfg.NotifyRearm)
	assert.Equal(t, 5, cfg.AppendRetries)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestLoadProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	require.Panics(t, func() { Load() })
}
