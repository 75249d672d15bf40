package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"replaycore/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Replay     ReplayConfig     `mapstructure:"replay"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// EngineConfig holds the deterministic derivation parameters. They are part
// of run semantics: changing them between execution and replay breaks parity,
// so deployments must pin them per environment.
type EngineConfig struct {
	LookbackHours  int     `mapstructure:"lookback_hours"`
	EntryThreshold float64 `mapstructure:"entry_threshold"`
	ExitThreshold  float64 `mapstructure:"exit_threshold"`
	TargetNotional float64 `mapstructure:"target_notional"`
	SlippageBps    float64 `mapstructure:"slippage_bps"`
	FeeBps         float64 `mapstructure:"fee_bps"`
	MaxExposurePct float64 `mapstructure:"max_exposure_pct"`
}

// ReplayConfig bounds verification traversals.
type ReplayConfig struct {
	MaxWindowTargets int `mapstructure:"max_window_targets"`
}

// DaemonConfig governs the autonomy cycle.
type DaemonConfig struct {
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	CatchupHours    int           `mapstructure:"catchup_hours"`
	VerifyDepth     int           `mapstructure:"verify_depth"`
}

// MarketDataConfig covers the hourly candle sync source.
type MarketDataConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines parity-failure alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPLAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "replaycore")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("engine.lookback_hours", 24)
	v.SetDefault("engine.entry_threshold", 0.005)
	v.SetDefault("engine.exit_threshold", 0.005)
	v.SetDefault("engine.target_notional", 1000.0)
	v.SetDefault("engine.slippage_bps", 5.0)
	v.SetDefault("engine.fee_bps", 10.0)
	v.SetDefault("engine.max_exposure_pct", 50.0)

	v.SetDefault("replay.max_window_targets", 168)

	v.SetDefault("daemon.advisory_lock_key", int64(0x7265706c))
	v.SetDefault("daemon.startup_delay", "0s")
	v.SetDefault("daemon.catchup_hours", 6)
	v.SetDefault("daemon.verify_depth", 1)

	v.SetDefault("marketdata.request_timeout", "10s")
	v.SetDefault("marketdata.user_agent", "replaycore/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Engine.LookbackHours <= 0 {
		return fmt.Errorf("engine.lookback_hours must be greater than zero")
	}
	if c.Engine.TargetNotional <= 0 {
		return fmt.Errorf("engine.target_notional must be greater than zero")
	}
	if c.Engine.EntryThreshold < 0 || c.Engine.ExitThreshold < 0 {
		return fmt.Errorf("engine thresholds cannot be negative")
	}
	if c.Engine.MaxExposurePct <= 0 {
		return fmt.Errorf("engine.max_exposure_pct must be greater than zero")
	}
	if c.Replay.MaxWindowTargets <= 0 {
		return fmt.Errorf("replay.max_window_targets must be greater than zero")
	}
	if c.Daemon.CatchupHours <= 0 {
		return fmt.Errorf("daemon.catchup_hours must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
