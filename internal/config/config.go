package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Notify   NotifyConfig
	Poller   PollerConfig
	SMTP     SMTPConfig
	JWT      JWTConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type NotifyConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	APIKey               string `mapstructure:"api_key"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	LetterTemplateID     string `mapstructure:"letter_template_id"`
	EmailDueLeadDays     int    `mapstructure:"email_due_lead_days"`
	LetterDueLeadDays    int    `mapstructure:"letter_due_lead_days"`
	PostSendDelaySeconds int    `mapstructure:"post_send_delay_seconds"`
}

type PollerConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	BatchDelaySeconds int `mapstructure:"batch_delay_seconds"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	RetentionDays     int `mapstructure:"retention_days"`
	IntervalMinutes   int `mapstructure:"interval_minutes"`
}

func (p PollerConfig) BatchDelay() time.Duration {
	return time.Duration(p.BatchDelaySeconds) * time.Second
}

func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMinutes) * time.Minute
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

// Overrides are deployment-level environment overrides applied on top of the
// config file. Used by the worker, whose throttle settings change without a
// redeploy of config.
type Overrides struct {
	PollerBatchSize         int    `envconfig:"POLLER_BATCH_SIZE"`
	PollerRequestsPerMinute int    `envconfig:"POLLER_REQUESTS_PER_MINUTE"`
	PollerBatchDelaySeconds int    `envconfig:"POLLER_BATCH_DELAY_SECONDS"`
	NotifyAPIKey            string `envconfig:"NOTIFY_API_KEY"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var overrides Overrides
	if err := envconfig.Process("", &overrides); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	applyOverrides(&config, overrides)

	return &config, nil
}

func applyOverrides(config *Config, overrides Overrides) {
	if overrides.PollerBatchSize > 0 {
		config.Poller.BatchSize = overrides.PollerBatchSize
	}
	if overrides.PollerRequestsPerMinute > 0 {
		config.Poller.RequestsPerMinute = overrides.PollerRequestsPerMinute
	}
	if overrides.PollerBatchDelaySeconds > 0 {
		config.Poller.BatchDelaySeconds = overrides.PollerBatchDelaySeconds
	}
	if overrides.NotifyAPIKey != "" {
		config.Notify.APIKey = overrides.NotifyAPIKey
	}
}
