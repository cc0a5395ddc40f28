// Package config loads the server configuration.
//
// Precedence: environment (TUTOR_ prefix) > config file > defaults.
// A .env file in the working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/tutor-ledger/ledger"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Billing BillingConfig `mapstructure:"billing"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig holds the reconciliation policy knobs.
type EngineConfig struct {
	LessonDuration time.Duration `mapstructure:"lesson_duration"`
	WindowWeeks    int           `mapstructure:"window_weeks"`
	GateOnBalance  bool          `mapstructure:"gate_on_balance"`
	TopUpPolicy    string        `mapstructure:"top_up_policy"`
	Timezone       string        `mapstructure:"timezone"` // IANA name, empty = system local
}

type SweepConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	TimerHorizon time.Duration `mapstructure:"timer_horizon"`
}

// BillingConfig prices lessons for reports. LessonPrice is a decimal string.
type BillingConfig struct {
	LessonPrice         string `mapstructure:"lesson_price"`
	Currency            string `mapstructure:"currency"`
	LowBalanceThreshold int    `mapstructure:"low_balance_threshold"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// Load reads configuration from path (optional), the environment and .env.
func Load(path string) (*Config, error) {
	// missing .env is fine
	_ = godotenv.Load(".env")

	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("db.path", "./data/tutor.db")

	v.SetDefault("engine.lesson_duration", "50m")
	v.SetDefault("engine.window_weeks", 2)
	v.SetDefault("engine.gate_on_balance", true)
	v.SetDefault("engine.top_up_policy", string(ledger.TopUpSettleOnly))
	v.SetDefault("engine.timezone", "")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", "5m")
	v.SetDefault("sweep.timer_horizon", "24h")

	v.SetDefault("billing.lesson_price", "0")
	v.SetDefault("billing.currency", "USD")
	v.SetDefault("billing.low_balance_threshold", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.DB.Path == "" {
		return fmt.Errorf("config: db.path is required")
	}
	if _, err := c.Engine.Settings(); err != nil {
		return fmt.Errorf("config: engine: %w", err)
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("config: sweep.interval must be positive, got %v", c.Sweep.Interval)
	}
	if _, err := c.Billing.Price(); err != nil {
		return fmt.Errorf("config: billing.lesson_price: %w", err)
	}
	return nil
}

// Settings converts the engine section into ledger settings.
func (e EngineConfig) Settings() (ledger.Settings, error) {
	loc := time.Local
	if e.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(e.Timezone); err != nil {
			return ledger.Settings{}, fmt.Errorf("timezone %q: %w", e.Timezone, err)
		}
	}
	s := ledger.Settings{
		LessonDuration: e.LessonDuration,
		WindowWeeks:    e.WindowWeeks,
		GateOnBalance:  e.GateOnBalance,
		TopUp:          ledger.TopUpPolicy(e.TopUpPolicy),
		Location:       loc,
	}
	return s, s.Validate()
}

// Price parses LessonPrice. It must not be negative.
func (b BillingConfig) Price() (decimal.Decimal, error) {
	p, err := decimal.NewFromString(b.LessonPrice)
	if err != nil {
		return decimal.Zero, err
	}
	if p.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative, got %s", p)
	}
	return p, nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
