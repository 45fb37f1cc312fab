package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, 90, cfg.JWT.CookieDays)
	assert.Equal(t, 10, cfg.Redis.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Redis.Window)
	assert.Empty(t, cfg.Storage.Backend)
	assert.Empty(t, cfg.MQ.Backend)
}

func TestIsProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	assert.True(t, LoadConfig().IsProduction())

	t.Setenv("ENV", "dev")
	assert.False(t, LoadConfig().IsProduction())
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG", "true")
	assert.True(t, getEnvBool("FLAG", false))

	t.Setenv("FLAG", "off")
	assert.False(t, getEnvBool("FLAG", true))

	t.Setenv("FLAG", "nonsense")
	assert.True(t, getEnvBool("FLAG", true))
}
