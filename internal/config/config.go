package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Relay    RelayConfig
	Chain    ChainConfig
	Cache    CacheConfig
	Log      LogConfig
	Redis    RedisConfig
	Server   ServerConfig
	DevRelay DevRelayConfig
}

type RelayConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int64  `mapstructure:"timeout_sec"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ChainID         uint64 `mapstructure:"chain_id"`
	TokenAddress    string `mapstructure:"token_address"`
	DelegateAddress string `mapstructure:"delegate_address"`
}

type CacheConfig struct {
	SessionTTLSec   int64 `mapstructure:"session_ttl_sec"`
	PriceTTLSec     int64 `mapstructure:"price_ttl_sec"`
	DefaultDecimals uint8 `mapstructure:"default_decimals"`
	ABICacheSize    int   `mapstructure:"abi_cache_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DevRelayConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	GoldPrice       float64 `mapstructure:"gold_price"`
	TokenAddress    string  `mapstructure:"token_address"`
	DelegateAddress string  `mapstructure:"delegate_address"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("relay.timeout_sec", 30)
	v.SetDefault("relay.max_retries", 3)
	v.SetDefault("cache.session_ttl_sec", 14400)
	v.SetDefault("cache.price_ttl_sec", 300)
	v.SetDefault("cache.default_decimals", 6)
	v.SetDefault("cache.abi_cache_size", 64)
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("server.port", 8080)
	v.SetDefault("devrelay.gold_price", 2350.0)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"relay.base_url":            "RELAY_URL",
		"relay.api_key":             "RELAY_API_KEY",
		"relay.timeout_sec":         "RELAY_TIMEOUT_SEC",
		"relay.max_retries":         "RELAY_MAX_RETRIES",
		"chain.rpc_url":             "RPC_URL",
		"chain.chain_id":            "CHAIN_ID",
		"chain.token_address":       "TOKEN_ADDRESS",
		"chain.delegate_address":    "DELEGATE_ADDRESS",
		"cache.session_ttl_sec":     "SESSION_TTL_SEC",
		"cache.price_ttl_sec":       "PRICE_TTL_SEC",
		"cache.default_decimals":    "DEFAULT_DECIMALS",
		"cache.abi_cache_size":      "ABI_CACHE_SIZE",
		"log.level":                 "LOG_LEVEL",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"server.port":               "PORT",
		"devrelay.api_key":          "DEVRELAY_API_KEY",
		"devrelay.gold_price":       "GOLD_PRICE",
		"devrelay.token_address":    "DEVRELAY_TOKEN_ADDRESS",
		"devrelay.delegate_address": "DEVRELAY_DELEGATE_ADDRESS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

type req struct {
	val  string
	name string
}

func required(reqs ...req) error {
	var result *multierror.Error
	for _, r := range reqs {
		if r.val == "" {
			result = multierror.Append(result, fmt.Errorf("required config missing: %s", r.name))
		}
	}
	return result.ErrorOrNil()
}

// ValidateClient checks the settings the executor needs.
func (c *Config) ValidateClient() error {
	var result *multierror.Error
	if err := required(req{c.Relay.BaseURL, "RELAY_URL"}); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Chain.ChainID == 0 {
		result = multierror.Append(result, fmt.Errorf("required config missing: CHAIN_ID"))
	}
	if c.Cache.DefaultDecimals > 77 {
		result = multierror.Append(result, fmt.Errorf("DEFAULT_DECIMALS %d out of range", c.Cache.DefaultDecimals))
	}
	return result.ErrorOrNil()
}

// ValidateRelay checks the settings the development relay needs.
func (c *Config) ValidateRelay() error {
	var result *multierror.Error
	if err := required(
		req{c.DevRelay.APIKey, "DEVRELAY_API_KEY"},
		req{c.DevRelay.TokenAddress, "DEVRELAY_TOKEN_ADDRESS"},
		req{c.DevRelay.DelegateAddress, "DEVRELAY_DELEGATE_ADDRESS"},
		req{c.Redis.Addr, "REDIS_ADDR"},
	); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Chain.ChainID == 0 {
		result = multierror.Append(result, fmt.Errorf("required config missing: CHAIN_ID"))
	}
	return result.ErrorOrNil()
}

func (c RelayConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

func (c CacheConfig) SessionTTL() time.Duration { return time.Duration(c.SessionTTLSec) * time.Second }

func (c CacheConfig) PriceTTL() time.Duration { return time.Duration(c.PriceTTLSec) * time.Second }

// Logger builds a production zap logger at the configured level.
func (c LogConfig) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
