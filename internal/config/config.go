package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fx-risk-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Portfolio []ExposureSeed  `mapstructure:"portfolio"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates the optional Postgres audit archive.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// SchedulerConfig governs the periodic evaluation sweep.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MetricsConfig covers the external metric source.
type MetricsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Confidence     float64       `mapstructure:"confidence"`
}

// AlertingConfig defines thresholds and routing.
type AlertingConfig struct {
	Currencies         []string         `mapstructure:"currencies"`
	Muted              []string         `mapstructure:"muted"`
	DispatchTimeout    time.Duration    `mapstructure:"dispatch_timeout"`
	NegligibleExposure float64          `mapstructure:"negligible_exposure"`
	Thresholds         ThresholdsConfig `mapstructure:"thresholds"`
	Slack              SlackConfig      `mapstructure:"slack"`
}

// ThresholdsConfig holds the evaluator breach boundaries. Zero values fall
// back to the evaluator defaults.
type ThresholdsConfig struct {
	VolatilityMultiple float64 `mapstructure:"volatility_multiple"`
	VaRBasePct         float64 `mapstructure:"var_base_pct"`
	CVaRBasePct        float64 `mapstructure:"cvar_base_pct"`
	ForecastChangePct  float64 `mapstructure:"forecast_change_pct"`
	ConfidenceFloor    float64 `mapstructure:"confidence_floor"`
	ConfidenceDrop     float64 `mapstructure:"confidence_drop"`
	CorrelationShift   float64 `mapstructure:"correlation_shift"`
}

// SlackConfig 描述 Slack 告警参数。
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// ExposureSeed seeds the portfolio exposure book at startup.
type ExposureSeed struct {
	Currency  string  `mapstructure:"currency"`
	Amount    float64 `mapstructure:"amount"`
	Direction string  `mapstructure:"direction"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FXWATCHER")
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
	v.SetDefault("app.name", "fxwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66787761))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("metrics.request_timeout", "10s")
	v.SetDefault("metrics.user_agent", "fxwatcher/1.0")
	v.SetDefault("metrics.confidence", 0.95)

	v.SetDefault("alerting.currencies", []string{"EUR", "GBP", "JPY", "CHF", "AUD"})
	v.SetDefault("alerting.dispatch_timeout", "10s")
	v.SetDefault("alerting.negligible_exposure", 10000.0)
	v.SetDefault("alerting.slack.enabled", false)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Alerting.Currencies) == 0 {
		return fmt.Errorf("alerting.currencies must not be empty")
	}
	if c.Metrics.Confidence != 0 && (c.Metrics.Confidence <= 0.5 || c.Metrics.Confidence >= 1) {
		return fmt.Errorf("metrics.confidence must be within (0.5, 1)")
	}
	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		return fmt.Errorf("alerting.slack.webhook_url 必须配置")
	}
	for _, seed := range c.Portfolio {
		if seed.Direction != "long" && seed.Direction != "short" {
			return fmt.Errorf("portfolio direction must be long or short, got %q", seed.Direction)
		}
		if seed.Amount == 0 {
			return fmt.Errorf("portfolio amount for %s must be non-zero", seed.Currency)
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
