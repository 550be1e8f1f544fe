package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cove-indexer/internal/logging"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Prices    PricesConfig    `mapstructure:"prices"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
	NATS      NATSConfig      `mapstructure:"nats"`
	API       APIConfig       `mapstructure:"api"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and tunes the entity store backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Redis           RedisConfig   `mapstructure:"redis"`
}

// RedisConfig covers the redis document backend.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// SchedulerConfig governs chain polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL                string        `mapstructure:"rpc_url"`
	CoveAddress           string        `mapstructure:"cove_address"`
	DirectExchangeAddress string        `mapstructure:"direct_exchange_address"`
	StartBlock            uint64        `mapstructure:"start_block"`
	Confirmations         uint64        `mapstructure:"confirmations"`
	BatchSize             uint64        `mapstructure:"batch_size"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
}

// PricesConfig configures the USD price feed.
type PricesConfig struct {
	BaseURL         string            `mapstructure:"base_url"`
	RequestTimeout  time.Duration     `mapstructure:"request_timeout"`
	UserAgent       string            `mapstructure:"user_agent"`
	PoolTokenSymbol string            `mapstructure:"pool_token_symbol"`
	Static          map[string]string `mapstructure:"static"`
}

// TokenConfig pins metadata for one asset.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals int32  `mapstructure:"decimals"`
}

// TokensConfig is the tail-classification registry.
type TokensConfig struct {
	ShortTail         []TokenConfig `mapstructure:"short_tail"`
	LongTail          []TokenConfig `mapstructure:"long_tail"`
	UnknownAsLongTail bool          `mapstructure:"unknown_as_long_tail"`
}

// NATSConfig configures the change feed.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// APIConfig configures the read-only HTTP API.
type APIConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertingConfig defines alert routing for rejected events.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
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
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("COVEINDEXER")
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

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
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
	v.SetDefault("app.name", "cove-indexer")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 2)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "cove:")
	v.SetDefault("storage.redis.dial_timeout", "5s")

	v.SetDefault("scheduler.interval", "15s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f7665))

	v.SetDefault("ethereum.confirmations", 12)
	v.SetDefault("ethereum.batch_size", 2000)
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("prices.request_timeout", "10s")
	v.SetDefault("prices.user_agent", "cove-indexer/1.0")
	v.SetDefault("prices.pool_token_symbol", "CLIPPER-LP")

	v.SetDefault("tokens.unknown_as_long_tail", false)

	v.SetDefault("nats.subject_prefix", "cove")
	v.SetDefault("nats.timeout", "5s")

	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 10000)
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
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Ethereum.DirectExchangeAddress == "" {
		return fmt.Errorf("ethereum.direct_exchange_address must be configured")
	}
	if !common.IsHexAddress(c.Ethereum.DirectExchangeAddress) {
		return fmt.Errorf("ethereum.direct_exchange_address is not a hex address")
	}
	if c.Ethereum.CoveAddress != "" && !common.IsHexAddress(c.Ethereum.CoveAddress) {
		return fmt.Errorf("ethereum.cove_address is not a hex address")
	}
	if c.Ethereum.BatchSize == 0 {
		return fmt.Errorf("ethereum.batch_size must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	seen := make(map[string]string)
	for tail, tokens := range map[string][]TokenConfig{"short_tail": c.Tokens.ShortTail, "long_tail": c.Tokens.LongTail} {
		for _, tok := range tokens {
			if !common.IsHexAddress(tok.Address) {
				return fmt.Errorf("tokens.%s: %q is not a hex address", tail, tok.Address)
			}
			key := strings.ToLower(tok.Address)
			if prev, ok := seen[key]; ok && prev != tail {
				return fmt.Errorf("token %s is listed as both short_tail and long_tail", tok.Address)
			}
			seen[key] = tail
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
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
