package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
)

// Config holds all cuemeter configuration.
type Config struct {
	Storage StorageConfig     `mapstructure:"storage"`
	Server  ServerConfig      `mapstructure:"server"`
	Billing BillingConfig     `mapstructure:"billing"`
	History HistoryConfig     `mapstructure:"history"`
	Tables  []rates.TableSpec `mapstructure:"tables"`
	Alerts  AlertsConfig      `mapstructure:"alerts"`
	MQTT    MQTTConfig        `mapstructure:"mqtt"`
	Logging LoggingConfig     `mapstructure:"logging"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines redis backend settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ServerConfig defines HTTP API settings.
type ServerConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// BillingConfig defines timer driving settings.
type BillingConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	RateCheckInterval time.Duration `mapstructure:"rate_check_interval"`
	Timezone          string        `mapstructure:"timezone"`
}

// HistoryConfig defines history listing settings.
type HistoryConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// MQTTConfig defines the live state feed.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Location resolves the billing timezone. Empty and "Local" mean the
// system zone.
func (c BillingConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".cuemeter"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".cuemeter", "cuemeter.db"))
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "cuemeter")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("billing.tick_interval", "1s")
	v.SetDefault("billing.rate_check_interval", "10s")
	v.SetDefault("billing.timezone", "Local")
	v.SetDefault("history.page_size", 10)
	v.SetDefault("alerts.slack.channel", "#front-desk")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "cuemeter")
	v.SetDefault("mqtt.topic_prefix", "cuemeter")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("CUEMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
