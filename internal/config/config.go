package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"staking-reward-report/internal/chain"
	"staking-reward-report/internal/domain"
	"staking-reward-report/internal/identity"
	"staking-reward-report/internal/logging"
	"staking-reward-report/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. REWARDREPORT_SUBSCAN_API_KEY.
const EnvPrefix = "REWARDREPORT"

// Config materialises application configuration.
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Logging     logging.Config     `mapstructure:"logging"`
	Report      ReportConfig       `mapstructure:"report"`
	Accounts    []AccountConfig    `mapstructure:"accounts"`
	Identities  []IdentityOverride `mapstructure:"identities"`
	Subscan     SubscanConfig      `mapstructure:"subscan"`
	CoinGecko   CoinGeckoConfig    `mapstructure:"coingecko"`
	Chain       ChainConfig        `mapstructure:"chain"`
	Concurrency ConcurrencyConfig  `mapstructure:"concurrency"`
	Retry       retry.Policy       `mapstructure:"retry"`
	Identity    IdentityConfig     `mapstructure:"identity"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Alerting    AlertingConfig     `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ReportConfig controls the reporting window and outputs.
type ReportConfig struct {
	From           string   `mapstructure:"from"`
	To             string   `mapstructure:"to"`
	PriceCurrency  string   `mapstructure:"price_currency"`
	VolumeCurrency string   `mapstructure:"volume_currency"`
	Symbol         string   `mapstructure:"symbol"`
	OutputDir      string   `mapstructure:"output_dir"`
	ExplorerURL    string   `mapstructure:"explorer_url"`
	Chart          bool     `mapstructure:"chart"`
	S3             S3Config `mapstructure:"s3"`
}

// S3Config enables uploading generated files.
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

// AccountConfig is one account the report is produced for.
type AccountConfig struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
	Role    string `mapstructure:"role"`
}

// IdentityOverride pins a display name for an address.
type IdentityOverride struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
}

// SubscanConfig covers the reward listing API.
type SubscanConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	PageSize       int           `mapstructure:"page_size"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// CoinGeckoConfig covers the market data API.
type CoinGeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	CoinID         string        `mapstructure:"coin_id"`
	APIKey         string        `mapstructure:"api_key"`
	APIKeyHeader   string        `mapstructure:"api_key_header"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainConfig covers node access.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	IdentityRPCURL string        `mapstructure:"identity_rpc_url"`
	Decimals       int32         `mapstructure:"decimals"`
	SS58Prefix     uint16        `mapstructure:"ss58_prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ConcurrencyConfig bounds per-account fan-out.
type ConcurrencyConfig struct {
	Workers int `mapstructure:"workers"`
}

// IdentityConfig tunes identity resolution.
type IdentityConfig struct {
	Verification string        `mapstructure:"verification"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig routes run summaries.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindSecrets(v)

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
	v.SetDefault("app.name", "rewardreport")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("report.price_currency", "usd")
	v.SetDefault("report.volume_currency", "usd")
	v.SetDefault("report.symbol", "DOT")
	v.SetDefault("report.output_dir", "CSVs")
	v.SetDefault("report.explorer_url", "https://polkadot.subscan.io")
	v.SetDefault("report.chart", false)

	v.SetDefault("subscan.base_url", "https://polkadot.api.subscan.io")
	v.SetDefault("subscan.page_size", 100)
	v.SetDefault("subscan.rate_limit", 2.0)
	v.SetDefault("subscan.request_timeout", "15s")
	v.SetDefault("subscan.user_agent", "rewardreport/1.0")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.coin_id", "polkadot")
	v.SetDefault("coingecko.api_key_header", "x-cg-demo-api-key")
	v.SetDefault("coingecko.request_timeout", "15s")
	v.SetDefault("coingecko.user_agent", "rewardreport/1.0")

	v.SetDefault("chain.rpc_url", "wss://rpc.polkadot.io")
	v.SetDefault("chain.decimals", chain.DefaultDecimals)
	v.SetDefault("chain.ss58_prefix", 0)
	v.SetDefault("chain.request_timeout", "30s")

	v.SetDefault("concurrency.workers", 8)

	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.initial_interval", retry.DefaultInitialInterval.String())
	v.SetDefault("retry.max_interval", retry.DefaultMaxInterval.String())

	v.SetDefault("identity.verification", string(identity.VerifyAny))
	v.SetDefault("identity.cache_ttl", "1h")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x52575244))

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
}

// bindSecrets registers keys without defaults so env-only values reach Unmarshal.
func bindSecrets(v *viper.Viper) {
	for _, key := range []string{
		"report.from",
		"report.to",
		"report.s3.bucket",
		"report.s3.region",
		"report.s3.endpoint",
		"report.s3.prefix",
		"subscan.api_key",
		"coingecko.api_key",
		"chain.identity_rpc_url",
		"database.dsn",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
	} {
		_ = v.BindEnv(key)
	}
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

// Validate performs sanity checks on the configuration values. Every
// configured address must decode as SS58 so bad input fails before any I/O.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts must list at least one account")
	}
	for i, acc := range c.Accounts {
		if _, _, err := chain.DecodeAddress(acc.Address); err != nil {
			return fmt.Errorf("accounts[%d].address %q: %w", i, acc.Address, err)
		}
		if !domain.Role(strings.ToLower(acc.Role)).Valid() {
			return fmt.Errorf("accounts[%d].role must be validator or nominator, got %q", i, acc.Role)
		}
	}
	for i, id := range c.Identities {
		if _, _, err := chain.DecodeAddress(id.Address); err != nil {
			return fmt.Errorf("identities[%d].address %q: %w", i, id.Address, err)
		}
		if strings.TrimSpace(id.Name) == "" {
			return fmt.Errorf("identities[%d].name is required", i)
		}
	}

	if err := c.validateWindow(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Report.PriceCurrency) == "" || strings.TrimSpace(c.Report.VolumeCurrency) == "" {
		return fmt.Errorf("report.price_currency and report.volume_currency are required")
	}
	if c.Subscan.PageSize <= 0 {
		return fmt.Errorf("subscan.page_size must be greater than zero")
	}
	if c.Subscan.RateLimit < 0 {
		return fmt.Errorf("subscan.rate_limit cannot be negative")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.Decimals <= 0 {
		return fmt.Errorf("chain.decimals must be greater than zero")
	}
	if c.Concurrency.Workers <= 0 {
		return fmt.Errorf("concurrency.workers must be greater than zero")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than zero")
	}
	if !identity.VerificationMode(c.Identity.Verification).Valid() {
		return fmt.Errorf("identity.verification must be any or last, got %q", c.Identity.Verification)
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

// validateWindow checks the configured bounds that are present. Either may be
// left for the command line to supply.
func (c *Config) validateWindow() error {
	var from, to time.Time
	var err error
	if c.Report.From != "" {
		if from, err = ParseTime(c.Report.From); err != nil {
			return fmt.Errorf("report.from: %w", err)
		}
	}
	if c.Report.To != "" {
		if to, err = ParseTime(c.Report.To); err != nil {
			return fmt.Errorf("report.to: %w", err)
		}
	}
	if c.Report.From != "" && c.Report.To != "" && !from.Before(to) {
		return fmt.Errorf("report.from must be before report.to")
	}
	return nil
}

// Window resolves the report range [from, to). Non-nil arguments replace the
// configured bounds. Bounds accept YYYY-MM-DD (UTC midnight) or RFC3339.
func (c *Config) Window(fromOverride, toOverride *time.Time) (time.Time, time.Time, error) {
	from, err := windowBound("from", c.Report.From, fromOverride)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := windowBound("to", c.Report.To, toOverride)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("window start %s must be before end %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func windowBound(name, configured string, override *time.Time) (time.Time, error) {
	if override != nil {
		return override.UTC(), nil
	}
	if strings.TrimSpace(configured) == "" {
		return time.Time{}, fmt.Errorf("report.%s is required: set it in the config or pass --%s", name, name)
	}
	t, err := ParseTime(configured)
	if err != nil {
		return time.Time{}, fmt.Errorf("report.%s: %w", name, err)
	}
	return t, nil
}

// ParseTime accepts YYYY-MM-DD or RFC3339.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", value)
	}
	return t.UTC(), nil
}

// DomainAccounts converts configured accounts to domain values.
func (c *Config) DomainAccounts() []domain.Account {
	out := make([]domain.Account, 0, len(c.Accounts))
	for _, acc := range c.Accounts {
		out = append(out, domain.Account{
			Address: acc.Address,
			Name:    acc.Name,
			Role:    domain.Role(strings.ToLower(acc.Role)),
		})
	}
	return out
}

// IdentityOverrides merges configured account names and explicit identity
// overrides. Explicit entries win.
func (c *Config) IdentityOverrides() map[string]string {
	out := make(map[string]string, len(c.Accounts)+len(c.Identities))
	for _, acc := range c.Accounts {
		if acc.Name != "" {
			out[acc.Address] = acc.Name
		}
	}
	for _, id := range c.Identities {
		out[id.Address] = id.Name
	}
	return out
}
