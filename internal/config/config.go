package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"metalwatch/internal/logging"
	"metalwatch/internal/model"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Validation ValidationConfig `mapstructure:"validation"`
	Markets    []string         `mapstructure:"markets"`
	Routes     []RouteConfig    `mapstructure:"routes"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	ETF        ETFConfig        `mapstructure:"etf"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Retention  RetentionConfig  `mapstructure:"retention"`
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
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the periodic trigger used by `run`.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// ProvidersConfig groups the external feeds.
type ProvidersConfig struct {
	Sina    ProviderConfig `mapstructure:"sina"`
	Yahoo   ProviderConfig `mapstructure:"yahoo"`
	Reports ProviderConfig `mapstructure:"reports"`
}

// ProviderConfig bounds calls to one feed.
type ProviderConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	Burst        int           `mapstructure:"burst"`
	UserAgent    string        `mapstructure:"user_agent"`
	Referer      string        `mapstructure:"referer"`
}

// ValidationConfig holds cross-check and balance thresholds.
type ValidationConfig struct {
	MaxAge           time.Duration   `mapstructure:"max_age"`
	MaxDiffRatio     decimal.Decimal `mapstructure:"max_diff_ratio"`
	BalanceTolerance decimal.Decimal `mapstructure:"balance_tolerance"`
}

// RouteConfig overrides one entry of the built-in route table. An empty
// backup_provider removes the backup.
type RouteConfig struct {
	Market          string `mapstructure:"market"`
	Metal           string `mapstructure:"metal"`
	PrimaryProvider string `mapstructure:"primary_provider"`
	PrimarySymbol   string `mapstructure:"primary_symbol"`
	BackupProvider  string `mapstructure:"backup_provider"`
	BackupSymbol    string `mapstructure:"backup_symbol"`
}

// InventoryConfig lists the warehouse report publishers.
type InventoryConfig struct {
	Sources []InventorySource `mapstructure:"sources"`
}

// InventorySource is one downloadable report.
type InventorySource struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Filename string `mapstructure:"filename"`
	Sheet    string `mapstructure:"sheet"`
}

// ETFConfig lists tracked funds.
type ETFConfig struct {
	Funds []FundConfig `mapstructure:"funds"`
}

// FundConfig describes one fund. Holdings is the benchmark figure in Moz and
// stays NULL when unset; PriceSymbol is looked up on the delayed feed.
type FundConfig struct {
	Symbol      string              `mapstructure:"symbol"`
	Holdings    decimal.NullDecimal `mapstructure:"holdings"`
	PriceSymbol string              `mapstructure:"price_symbol"`
}

// AnalyticsConfig lists benchmark scores persisted on each run.
type AnalyticsConfig struct {
	Benchmarks []BenchmarkConfig `mapstructure:"benchmarks"`
}

// BenchmarkConfig is one (category, indicator, value) row.
type BenchmarkConfig struct {
	Category  string          `mapstructure:"category"`
	Indicator string          `mapstructure:"indicator"`
	Value     decimal.Decimal `mapstructure:"value"`
}

// AuditConfig selects where raw reports are kept.
type AuditConfig struct {
	Backend string   `mapstructure:"backend"`
	Root    string   `mapstructure:"root"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config covers object storage access for audit blobs.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// AlertingConfig defines when run alerts are sent.
type AlertingConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	NotifyOnFailure bool           `mapstructure:"notify_on_failure"`
	NotifyOnFlagged bool           `mapstructure:"notify_on_flagged"`
	Cooldown        time.Duration  `mapstructure:"cooldown"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RetentionConfig sets the default prune horizons in days.
type RetentionConfig struct {
	LogsDays int `mapstructure:"logs_days"`
	DataDays int `mapstructure:"data_days"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METALWATCH")
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
	v.SetDefault("app.name", "metalwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d65746c))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("providers.sina.base_url", "http://hq.sinajs.cn")
	v.SetDefault("providers.sina.referer", "http://finance.sina.com.cn")
	v.SetDefault("providers.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("providers.yahoo.rate_per_sec", 2.0)
	v.SetDefault("providers.yahoo.burst", 2)
	for _, p := range []string{"sina", "yahoo", "reports"} {
		v.SetDefault("providers."+p+".timeout", "5s")
		v.SetDefault("providers."+p+".retry_backoff", "1s")
		v.SetDefault("providers."+p+".user_agent", "Mozilla/5.0 (compatible; metalwatch/1.0)")
	}
	v.SetDefault("providers.reports.timeout", "30s")

	v.SetDefault("validation.max_age", "1h")
	v.SetDefault("validation.max_diff_ratio", "0.01")
	v.SetDefault("validation.balance_tolerance", "0.01")

	v.SetDefault("markets", []string{"London", "Shanghai", "Comex"})

	v.SetDefault("etf.funds", []map[string]any{
		{"symbol": "SLV", "holdings": "13.2", "price_symbol": "SLV"},
		{"symbol": "PSLV", "holdings": "5.8", "price_symbol": "PSLV"},
		{"symbol": "AGX", "holdings": "0.4"},
	})

	v.SetDefault("analytics.benchmarks", []map[string]any{
		{"category": "perspective", "indicator": "monetary_history", "value": "8.5"},
		{"category": "perspective", "indicator": "technical_analysis", "value": "7.8"},
		{"category": "perspective", "indicator": "globalisation", "value": "8.2"},
		{"category": "perspective", "indicator": "currency_power", "value": "7.5"},
		{"category": "logic", "indicator": "free_silver_driver", "value": "9.1"},
		{"category": "logic", "indicator": "silver_deficit", "value": "8.7"},
		{"category": "logic", "indicator": "resource_competition", "value": "8.9"},
		{"category": "logic", "indicator": "financial_logic", "value": "8.4"},
	})

	v.SetDefault("audit.backend", "fs")
	v.SetDefault("audit.root", "data/raw")
	v.SetDefault("audit.s3.region", "us-east-1")
	v.SetDefault("audit.s3.prefix", "metalwatch/raw")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_on_failure", true)
	v.SetDefault("alerting.notify_on_flagged", true)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("retention.logs_days", 90)
	v.SetDefault("retention.data_days", 365)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Validation.MaxAge <= 0 {
		return fmt.Errorf("validation.max_age must be greater than zero")
	}
	if c.Validation.MaxDiffRatio.IsNegative() {
		return fmt.Errorf("validation.max_diff_ratio cannot be negative")
	}
	if c.Validation.BalanceTolerance.IsNegative() {
		return fmt.Errorf("validation.balance_tolerance cannot be negative")
	}
	if _, err := c.MarketList(); err != nil {
		return err
	}
	for i, r := range c.Routes {
		if _, err := model.ParseMarket(r.Market); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if _, err := model.ParseMetal(r.Metal); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if r.PrimaryProvider == "" || r.PrimarySymbol == "" {
			return fmt.Errorf("routes[%d]: primary_provider and primary_symbol are required", i)
		}
		if (r.BackupProvider == "") != (r.BackupSymbol == "") {
			return fmt.Errorf("routes[%d]: backup_provider and backup_symbol must be set together", i)
		}
	}
	for i, src := range c.Inventory.Sources {
		if src.Name == "" {
			return fmt.Errorf("inventory.sources[%d].name is required", i)
		}
	}
	for i, f := range c.ETF.Funds {
		if f.Symbol == "" {
			return fmt.Errorf("etf.funds[%d].symbol is required", i)
		}
	}
	switch strings.ToLower(c.Audit.Backend) {
	case "", "fs":
	case "s3":
		if c.Audit.S3.Bucket == "" {
			return fmt.Errorf("audit.s3.bucket is required when audit.backend is s3")
		}
	default:
		return fmt.Errorf("audit.backend must be fs or s3, got %q", c.Audit.Backend)
	}
	if c.Scheduler.AdvisoryLockKey != 0 && c.Database.MaxOpenConns > 0 && c.Database.MaxOpenConns < 2 {
		return fmt.Errorf("database.max_open_conns must be at least 2 when scheduler.advisory_lock_key is set")
	}
	if c.Retention.LogsDays < 0 || c.Retention.DataDays < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// MarketList resolves the configured market names.
func (c *Config) MarketList() ([]model.Market, error) {
	out := make([]model.Market, 0, len(c.Markets))
	for _, name := range c.Markets {
		m, err := model.ParseMarket(name)
		if err != nil {
			return nil, fmt.Errorf("markets: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
