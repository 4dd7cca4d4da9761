package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SIG_WINDOW_SECS", "")
	t.Setenv("DOCS_ONLY_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.SigWindow)
	assert.Equal(t, 3*time.Second, cfg.CommentCooldown)
	assert.Equal(t, 10, cfg.RateUserPerSec)
	assert.Equal(t, 20, cfg.RateIPPerSec)
	assert.Equal(t, 10*time.Second, cfg.AdvisoryLockTimeout)
	assert.Equal(t, 30*time.Second, cfg.TxTimeout)
	assert.Equal(t, 180*time.Second, cfg.TempKeyTTL)
	assert.False(t, cfg.DocsOnlyMode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATE_USER_PER_SEC", "50")
	t.Setenv("DOCS_ONLY_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.RateUserPerSec)
	assert.True(t, cfg.DocsOnlyMode)
}
