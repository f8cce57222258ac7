package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "https://api.gleif.org/api/v1", cfg.GLEIF.BaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentDomains)

	assert.Equal(t, 10, cfg.Scorer.CorporateSuffixBonus)
	assert.InDelta(t, 0.60, cfg.Matcher.Weights.NameSimilarity, 1e-9)
	assert.Equal(t, 20, cfg.Matcher.TimeoutSecs)
	assert.InDelta(t, 0.05, cfg.Arbiter.Adjustments.ParentBonus, 1e-9)

	assert.True(t, cfg.Pipeline.ParentPreference)
	assert.False(t, cfg.Pipeline.MuteRankingRules)
	assert.Equal(t, 600, cfg.Pipeline.StaleAfterSecs)

	assert.False(t, cfg.Anthropic.Enabled)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RESOLVER_SERVER_PORT", "9191")
	t.Setenv("RESOLVER_LOG_LEVEL", "debug")
	t.Setenv("RESOLVER_STORE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	t.Setenv("RESOLVER_MATCHER_WEIGHTS_NAME_SIMILARITY", "5.0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
