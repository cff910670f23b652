package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloslazo/NubuStream/internal/durability"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8765", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 64, cfg.BroadcastConcurrency)
	assert.Equal(t, []string{"spam", "toxic", "hate"}, cfg.BlockedWords)
	assert.False(t, cfg.ReclaimEmptyRooms)
	assert.False(t, cfg.NotifyRejections)
	assert.Equal(t, 30*time.Second, cfg.StatusLogInterval)

	backend, err := cfg.Backend()
	require.NoError(t, err)
	assert.Equal(t, durability.BackendNone, backend)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("AUTH_TIMEOUT", "3s")
	t.Setenv("BLOCKED_WORDS", "foo,bar")
	t.Setenv("DURABILITY_BACKEND", "redis+nats")
	t.Setenv("RECLAIM_EMPTY_ROOMS", "true")
	t.Setenv("NOTIFY_REJECTIONS", "true")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.AuthTimeout)
	assert.Equal(t, []string{"foo", "bar"}, cfg.BlockedWords)
	assert.True(t, cfg.ReclaimEmptyRooms)
	assert.True(t, cfg.NotifyRejections)

	backend, err := cfg.Backend()
	require.NoError(t, err)
	assert.Equal(t, durability.BackendRedisNATS, backend)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "AUTH_TIMEOUT", "soon"},
		{"negative duration", "HEARTBEAT_INTERVAL", "-1s"},
		{"zero concurrency", "BROADCAST_CONCURRENCY", "0"},
		{"unknown backend", "DURABILITY_BACKEND", "kafka"},
		{"zero shutdown timeout", "SHUTDOWN_TIMEOUT", "0s"},
		{"zero auth timeout", "AUTH_TIMEOUT", "0s"},
		{"negative auth timeout", "AUTH_TIMEOUT", "-5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SERVER_NAME=from-dotenv\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		os.Chdir(wd)
		os.Unsetenv("SERVER_NAME")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.ServerName)
}

func TestLoad_NoDotEnv(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	_, err = Load()
	assert.NoError(t, err)
}
