// Package config loads the exchange's runtime configuration through
// viper: defaults, then an optional YAML file, then ECOFLUX_-prefixed
// environment variables, loaded once into a process-wide singleton.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the exchange's full runtime configuration: server, logging
// and store settings alongside the matching, contract and analytics
// tunables.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Matching struct {
		QueueDepth      int `mapstructure:"queue_depth"`
		SubmitTimeoutMs int `mapstructure:"submit_timeout_ms"`
	} `mapstructure:"matching"`

	Contracts struct {
		VerifyCacheCapacity  int     `mapstructure:"verify_cache_capacity"`
		ExecuteTimeoutMs     int     `mapstructure:"execute_timeout_ms"`
		GasRangeMinEth       float64 `mapstructure:"gas_range_min_eth"`
		GasRangeMaxEth       float64 `mapstructure:"gas_range_max_eth"`
		ExecutorPoolSize     int     `mapstructure:"executor_pool_size"`
		TargetVerifyBaseline int     `mapstructure:"target_verify_baseline_ms"`
	} `mapstructure:"contracts"`

	Analytics struct {
		CacheTTLMs int `mapstructure:"cache_ttl_ms"`
	} `mapstructure:"analytics"`

	Retention struct {
		Days int `mapstructure:"days"`
	} `mapstructure:"retention"`

	Events struct {
		NATSURL string `mapstructure:"nats_url"` // empty uses the in-process sink
	} `mapstructure:"events"`

	Store struct {
		PostgresDSN string `mapstructure:"postgres_dsn"` // empty uses the in-memory store
	} `mapstructure:"store"`

	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	cfg  *Config
	once sync.Once
)

// Load reads configuration from defaults, then a config file in
// configPath (a directory), then environment variables prefixed
// ECOFLUX_, each later source overriding the earlier. It is safe to call
// repeatedly; only the first call actually loads.
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		cfg = &Config{}
		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/ecoflux-exchange")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("ECOFLUX")

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config file: %w", readErr)
				return
			}
		}

		if unmarshalErr := v.Unmarshal(cfg); unmarshalErr != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
			return
		}
	})
	return cfg, err
}

func setDefaults() {
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080

	cfg.Matching.QueueDepth = 1024
	cfg.Matching.SubmitTimeoutMs = 2000

	cfg.Contracts.VerifyCacheCapacity = 10000
	cfg.Contracts.ExecuteTimeoutMs = 5000
	cfg.Contracts.GasRangeMinEth = 0.001
	cfg.Contracts.GasRangeMaxEth = 0.005
	cfg.Contracts.ExecutorPoolSize = 32
	cfg.Contracts.TargetVerifyBaseline = 10000

	cfg.Analytics.CacheTTLMs = 5000

	cfg.Retention.Days = 30

	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.LogLevel = "info"
}

// ExecuteTimeout returns Contracts.ExecuteTimeoutMs as a time.Duration.
func (c *Config) ExecuteTimeout() time.Duration {
	return time.Duration(c.Contracts.ExecuteTimeoutMs) * time.Millisecond
}

// SubmitTimeout returns Matching.SubmitTimeoutMs as a time.Duration.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Matching.SubmitTimeoutMs) * time.Millisecond
}

// AnalyticsCacheTTL returns Analytics.CacheTTLMs as a time.Duration.
func (c *Config) AnalyticsCacheTTL() time.Duration {
	return time.Duration(c.Analytics.CacheTTLMs) * time.Millisecond
}

// TargetVerifyBaseline returns Contracts.TargetVerifyBaseline as a
// time.Duration.
func (c *Config) TargetVerifyBaseline() time.Duration {
	return time.Duration(c.Contracts.TargetVerifyBaseline) * time.Millisecond
}

// RetentionCutoff returns the time before which terminal orders are
// evicted from the registry, given the configured retention window.
func (c *Config) RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.Retention.Days)
}

// InitLogger builds a zap logger at the level named in cfg.Monitoring.LogLevel.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
