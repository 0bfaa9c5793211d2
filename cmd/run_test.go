package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"samplerelay/internal/runner"
)

func TestRunConfigFromViper(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.SetDefault("method", "POST")
	v.SetDefault("url", "http://localhost:8080/fast")
	v.SetDefault("header", []string{"X-Test: 1"})
	v.SetDefault("rate", 25)
	v.SetDefault("duration", 3)
	v.SetDefault("flush-interval", "250ms")

	cfg := runConfigFromViper(v)
	assert.Equal(t, runner.ModeRPS, cfg.Mode)
	assert.Equal(t, "POST", cfg.Method)
	assert.Equal(t, 25, cfg.TargetRPS)
	assert.Equal(t, map[string]string{"X-Test": "1"}, cfg.Headers)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	require.NoError(t, cfg.Validate())

	v.Set("users", 3)
	cfg = runConfigFromViper(v)
	assert.Equal(t, runner.ModeUsers, cfg.Mode)
	assert.Equal(t, 3, cfg.NumUsers)
}
