package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ServiceName    = "futures-engine"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig            `mapstructure:"api_keys"`
	Port                    map[string]string         `mapstructure:"port"`
	Exchange                ExchangeConfig            `mapstructure:"exchange"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Engine                  EngineConfig              `mapstructure:"engine"`
}

type EngineConfig struct {
	Symbols         []string        `mapstructure:"symbols"`
	CycleInterval   time.Duration   `mapstructure:"cycle_interval"`
	OrderQuantity   decimal.Decimal `mapstructure:"order_quantity"`
	OrderType       string          `mapstructure:"order_type"`
	LimitOffsetBps  decimal.Decimal `mapstructure:"limit_offset_bps"`
	MaxRetries      int             `mapstructure:"max_retries"`
	RetryDelay      time.Duration   `mapstructure:"retry_delay"`
	OrderTimeout    time.Duration   `mapstructure:"order_timeout"`
	PollInterval    time.Duration   `mapstructure:"poll_interval"`
	MaxSignalAge    time.Duration   `mapstructure:"max_signal_age"`
	LockTTL         time.Duration   `mapstructure:"lock_ttl"`
	MaxMarkPriceAge time.Duration   `mapstructure:"max_mark_price_age"`
	OrderSyncEvery  time.Duration   `mapstructure:"order_sync_interval"`
	Risk            RiskConfig      `mapstructure:"risk"`
}

// RiskConfig thresholds are nil when unset so an explicit zero stays distinguishable.
type RiskConfig struct {
	PnlThreshold         *decimal.Decimal `mapstructure:"pnl_threshold"`
	MarginRatioThreshold *decimal.Decimal `mapstructure:"margin_ratio_threshold"`
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
	OutputFile string `mapstructure:"output_file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ExchangeConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	WSURL      string        `mapstructure:"ws_url"`
	RecvWindow int64         `mapstructure:"recv_window"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env, viper.DecodeHook(decimalDecodeHook()))
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)
	viper.SetDefault("exchange.base_url", "https://fapi.binance.com")
	viper.SetDefault("exchange.ws_url", "wss://fstream.binance.com")
	viper.SetDefault("exchange.recv_window", 5000)
	viper.SetDefault("exchange.timeout", 10*time.Second)
	viper.SetDefault("engine.cycle_interval", 5*time.Minute)
	viper.SetDefault("engine.order_type", "MARKET")
	viper.SetDefault("engine.max_retries", 3)
	viper.SetDefault("engine.retry_delay", time.Second)
	viper.SetDefault("engine.order_timeout", 10*time.Second)
	viper.SetDefault("engine.poll_interval", 500*time.Millisecond)
	viper.SetDefault("engine.max_signal_age", 10*time.Minute)
	viper.SetDefault("engine.lock_ttl", 30*time.Second)
	viper.SetDefault("engine.max_mark_price_age", 30*time.Second)
	viper.SetDefault("engine.order_sync_interval", 30*time.Second)
	viper.SetDefault("engine.risk.pnl_threshold", "-100")
	viper.SetDefault("engine.risk.margin_ratio_threshold", "0.1")
}
