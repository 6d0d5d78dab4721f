// Package config loads the subscription engine's service configuration
// with viper: defaults, an optional config file, and environment overrides,
// in that precedence order.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Service      ServiceConfig      `mapstructure:"service"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Bridge       BridgeConfig       `mapstructure:"bridge"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServiceConfig contains service identification.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig contains the metrics/health HTTP server settings.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// SubscriptionConfig contains protocol-level default subscription
// parameters and the path of the seed manifest describing statically
// configured monitored items. The Default* fields are loaded but not read
// anywhere in this module; subscriptions are revised from the client's
// requested values only.
type SubscriptionConfig struct {
	DefaultPublishingIntervalMs float64 `mapstructure:"default_publishing_interval_ms"`
	DefaultMaxKeepAliveCount    int64   `mapstructure:"default_max_keep_alive_count"`
	DefaultLifetimeCount        int64   `mapstructure:"default_lifetime_count"`
	DefaultMaxNotifications     int64   `mapstructure:"default_max_notifications_per_publish"`
	ManifestPath                string  `mapstructure:"manifest_path"`
}

// BridgeConfig contains the optional MQTT notification bridge's settings.
type BridgeConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	BrokerURL           string `mapstructure:"broker_url"`
	ClientID            string `mapstructure:"client_id"`
	TopicPrefix         string `mapstructure:"topic_prefix"`
	QoS                 byte   `mapstructure:"qos"`
	CircuitMaxFailures  uint32 `mapstructure:"circuit_max_failures"`
	CircuitResetSeconds int    `mapstructure:"circuit_reset_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from built-in defaults, an optional file at
// path, and environment variables prefixed SUBSCRIPTION_ENGINE_, in that
// increasing precedence order, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("SUBSCRIPTION_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "opcua-subscription-engine")
	v.SetDefault("service.environment", "development")

	v.SetDefault("http.port", 8080)

	v.SetDefault("subscription.default_publishing_interval_ms", 1000.0)
	v.SetDefault("subscription.default_max_keep_alive_count", 10)
	v.SetDefault("subscription.default_lifetime_count", 100)
	v.SetDefault("subscription.default_max_notifications_per_publish", 1000)
	v.SetDefault("subscription.manifest_path", "")

	v.SetDefault("bridge.enabled", false)
	v.SetDefault("bridge.broker_url", "tcp://localhost:1883")
	v.SetDefault("bridge.client_id", "opcua-subscription-engine")
	v.SetDefault("bridge.topic_prefix", "$nexus/opcua")
	v.SetDefault("bridge.qos", byte(1))
	v.SetDefault("bridge.circuit_max_failures", uint32(5))
	v.SetDefault("bridge.circuit_reset_seconds", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func validate(cfg *Config) error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", cfg.HTTP.Port)
	}
	if cfg.Bridge.Enabled && cfg.Bridge.BrokerURL == "" {
		return fmt.Errorf("bridge.broker_url is required when bridge.enabled is true")
	}
	return nil
}
