package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tutor-ledger/ledger"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 50*time.Minute, cfg.Engine.LessonDuration)
	assert.Equal(t, 2, cfg.Engine.WindowWeeks)
	assert.True(t, cfg.Engine.GateOnBalance)
	assert.Equal(t, string(ledger.TopUpSettleOnly), cfg.Engine.TopUpPolicy)
	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 3, cfg.Billing.LowBalanceThreshold)

	settings, err := cfg.Engine.Settings()
	require.NoError(t, err)
	assert.Equal(t, time.Local, settings.Location)
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN: a config file and an environment override
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
engine:
  lesson_duration: 60m
  window_weeks: 3
  top_up_policy: settle_and_debit
  timezone: UTC
billing:
  lesson_price: "25.50"
  currency: EUR
`), 0o644))
	t.Setenv("TUTOR_ENGINE_WINDOW_WEEKS", "4")
	t.Setenv("TUTOR_DB_PATH", ":memory:")

	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: env beats file, file beats defaults
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.WindowWeeks)
	assert.Equal(t, ":memory:", cfg.DB.Path)

	settings, err := cfg.Engine.Settings()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, settings.LessonDuration)
	assert.Equal(t, ledger.TopUpSettleAndDebit, settings.TopUp)
	assert.Equal(t, "UTC", settings.Location.String())

	price, err := cfg.Billing.Price()
	require.NoError(t, err)
	assert.Equal(t, "25.50", price.StringFixed(2))
	assert.Equal(t, "EUR", cfg.Billing.Currency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"db path", func(c *Config) { c.DB.Path = "" }},
		{"duration", func(c *Config) { c.Engine.LessonDuration = 0 }},
		{"window", func(c *Config) { c.Engine.WindowWeeks = 0 }},
		{"policy", func(c *Config) { c.Engine.TopUpPolicy = "refund_everything" }},
		{"timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }},
		{"interval", func(c *Config) { c.Sweep.Interval = 0 }},
		{"price", func(c *Config) { c.Billing.LessonPrice = "-1" }},
		{"price format", func(c *Config) { c.Billing.LessonPrice = "ten" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
