package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Broker  BrokerConfig  `mapstructure:"broker"`
	API     APIConfig     `mapstructure:"api"`
	Poll    PollConfig    `mapstructure:"poll"`
	State   StateConfig   `mapstructure:"state"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type BrokerConfig struct {
	URL                  string `mapstructure:"url"`
	HeartbeatMS          int    `mapstructure:"heartbeat_ms"`
	ReconnectDelaySec    int    `mapstructure:"reconnect_delay_sec"`
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts"`
}

type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelaySec int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type PollConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	IntervalSec int  `mapstructure:"interval_sec"`
}

type StateConfig struct {
	File string `mapstructure:"file"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func (b BrokerConfig) Heartbeat() time.Duration {
	return time.Duration(b.HeartbeatMS) * time.Millisecond
}

func (b BrokerConfig) ReconnectDelay() time.Duration {
	return time.Duration(b.ReconnectDelaySec) * time.Second
}

func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

func (a APIConfig) RetryDelay() time.Duration {
	return time.Duration(a.RetryDelaySec) * time.Second
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSec) * time.Second
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("broker.url", "ws://localhost:8080/ws")
	v.SetDefault("broker.heartbeat_ms", 4000)
	v.SetDefault("broker.reconnect_delay_sec", 5)
	v.SetDefault("broker.max_reconnect_attempts", 5)
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay_sec", 1)
	v.SetDefault("api.rate_per_second", 5)
	v.SetDefault("poll.enabled", true)
	v.SetDefault("poll.interval_sec", 30)
	v.SetDefault("state.file", "state/queuewatch.json")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("QUEUELESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if !strings.HasPrefix(c.Broker.URL, "ws://") && !strings.HasPrefix(c.Broker.URL, "wss://") {
		return fmt.Errorf("broker.url must be a ws:// or wss:// URL")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Broker.HeartbeatMS < 0 {
		return fmt.Errorf("broker.heartbeat_ms must be >= 0")
	}
	if c.Broker.MaxReconnectAttempts < 1 {
		return fmt.Errorf("broker.max_reconnect_attempts must be >= 1")
	}
	if c.Poll.Enabled && c.Poll.IntervalSec < 1 {
		return fmt.Errorf("poll.interval_sec must be >= 1 when polling is enabled")
	}
	return nil
}
