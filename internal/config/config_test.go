package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"DT_MAX_HISTORY", "DT_MAX_SELFIES", "DT_SELFIE_LIMITS", "DT_REDIS_URL", "DT_DEBUG_ERRORS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.MaxHistory)
	assert.Equal(t, 8, cfg.MaxSelfies)
	assert.Equal(t, 8, cfg.SelfieLimit("faceswap"))
	assert.Equal(t, 100, cfg.EvictionBatchSize)
	assert.Equal(t, 5, cfg.UploadConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.PromptCacheTTL)
	assert.Empty(t, cfg.RedisURL)
	assert.False(t, cfg.DebugErrors)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DT_MAX_HISTORY", "25.9")
	t.Setenv("DT_MAX_SELFIES", "0")
	t.Setenv("DT_SELFIE_LIMITS", "faceswap=3, aging=abc")
	t.Setenv("DT_PROMPT_CACHE_TTL", "90")
	t.Setenv("DT_RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("DT_RATE_RPS", "2.5")
	t.Setenv("DT_DEBUG_ERRORS", "true")
	t.Setenv("DT_UPLOAD_CONCURRENCY", "-4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.MaxHistory)
	assert.Equal(t, 1, cfg.MaxSelfies, "non-positive caps become 1")
	assert.Equal(t, 3, cfg.SelfieLimit("faceswap"))
	assert.Equal(t, 1, cfg.SelfieLimit("aging"))
	assert.Equal(t, 1, cfg.SelfieLimit("upscale"))
	assert.Equal(t, 90*time.Second, cfg.PromptCacheTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInitialDelay)
	assert.Equal(t, 2.5, cfg.RateRPS)
	assert.True(t, cfg.DebugErrors)
	assert.Equal(t, 5, cfg.UploadConcurrency)
}

func TestLoadRejectsMalformedLimits(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DT_SELFIE_LIMITS", "faceswap")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DT_AI_ENDPOINT=http://ai.internal:7000\nDT_LISTEN_ADDR=:1\n"), 0o600))
	t.Chdir(dir)

	// Registered for restore, then removed so the .env value applies.
	t.Setenv("DT_AI_ENDPOINT", "")
	require.NoError(t, os.Unsetenv("DT_AI_ENDPOINT"))
	t.Setenv("DT_LISTEN_ADDR", ":9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://ai.internal:7000", cfg.AIEndpoint)
	assert.Equal(t, ":9999", cfg.ListenAddr, "real environment wins over .env")
}
