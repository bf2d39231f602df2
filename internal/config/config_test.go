package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/stargazer-relay/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MESSAGE_WS", "ws://stargazer:8000/ws")
	t.Setenv("M2M_TOKEN", "secret")
	t.Setenv("BACKEND_URL", "http://backend:8000/")
	t.Setenv("FRONTEND_URL", "https://portal.example/")
	t.Setenv("ONEBOT_API_URL", "http://cqhttp:5700")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Workers)
	assert.Equal(t, 0, cfg.QueueCapacity)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 60*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, "/", cfg.CommandPrefix)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Empty(t, cfg.RedisAddr)
	assert.Zero(t, cfg.DedupTTL, "duplicate suppression is opt-in")
	assert.Equal(t, "secret", cfg.M2MToken)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKERS", "3")
	t.Setenv("QUEUE_CAPACITY", "100")
	t.Setenv("RECONNECT_MAX_DELAY", "1m")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("DEDUP_TTL", "10m")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.DedupTTL)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.Equal(t, time.Minute, cfg.ReconnectMaxDelay)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"MESSAGE_WS", "M2M_TOKEN", "BACKEND_URL", "FRONTEND_URL", "ONEBOT_API_URL"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")

			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"zero workers":          {"WORKERS", "0"},
		"negative capacity":     {"QUEUE_CAPACITY", "-1"},
		"max below initial":     {"RECONNECT_MAX_DELAY", "1s"},
		"relative backend url":  {"BACKEND_URL", "backend/api"},
		"negative send rate":    {"SEND_RATE", "-5"},
		"non-numeric workers":   {"WORKERS", "ten"},
		"bad reconnect delay":   {"RECONNECT_DELAY", "soon"},
		"negative fanout limit": {"FANOUT_CONCURRENCY", "-1"},
		"negative dedup ttl":    {"DEDUP_TTL", "-1m"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(kv[0], kv[1])

			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
