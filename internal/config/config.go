package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/velora/mailroom/internal/repository/sqlstore"
	"github.com/velora/mailroom/internal/transport"
)

type QueueConfig struct {
	Workers       int           `mapstructure:"workers" envconfig:"QUEUE_WORKERS" default:"4"`
	RatePerSecond float64       `mapstructure:"rate_per_second" envconfig:"QUEUE_RATE_PER_SECOND" default:"10"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" envconfig:"QUEUE_SWEEP_INTERVAL" default:"24h"`
	PurgeInterval time.Duration `mapstructure:"purge_interval" envconfig:"QUEUE_PURGE_INTERVAL" default:"1h"`
}

type VerificationConfig struct {
	TTL      time.Duration `mapstructure:"ttl" envconfig:"VERIFICATION_TTL" default:"15m"`
	Cooldown time.Duration `mapstructure:"cooldown" envconfig:"VERIFICATION_COOLDOWN" default:"60s"`
}

type RedisConfig struct {
	URL string `mapstructure:"url" envconfig:"REDIS_URL" default:""`
}

type MonitoringConfig struct {
	ListenAddr  string `mapstructure:"listen_addr" envconfig:"MONITORING_LISTEN_ADDR" default:":9090"`
	MetricsPath string `mapstructure:"metrics_path" envconfig:"MONITORING_METRICS_PATH" default:"/metrics"`
}

type Config struct {
	Database     sqlstore.Config      `mapstructure:"database"`
	SMTP         transport.SMTPConfig `mapstructure:"smtp"`
	Queue        QueueConfig          `mapstructure:"queue"`
	Verification VerificationConfig   `mapstructure:"verification"`
	Redis        RedisConfig          `mapstructure:"redis"`
	Monitoring   MonitoringConfig     `mapstructure:"monitoring"`
}

// LoadConfig reads config.yaml if present and overlays environment
// variables, so containerized deployments can run without a file.
func LoadConfig() (*Config, error) {
	var config Config

	// Environment first: it seeds defaults and wins over nothing.
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
