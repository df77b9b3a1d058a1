// Package config loads engine settings from the environment, with an optional
// .env file for local development.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pipeline-engine/pkg/utils"
)

// Config holds the process-level settings. Pipeline definitions live in the
// store, not here.
type Config struct {
	HTTPAddr       string `mapstructure:"http_addr"`
	DBPath         string `mapstructure:"db_path"`
	LoaderPath     string `mapstructure:"loader_path"`
	WebhookURL     string `mapstructure:"webhook_url"`
	WebhookTimeout string `mapstructure:"webhook_timeout"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	ChunkSize      int    `mapstructure:"chunk_size"`
}

// NotifyTimeout returns the webhook delivery timeout, defaulting to 10s on
// empty or malformed input.
func (c *Config) NotifyTimeout() time.Duration {
	return utils.ParseDuration(c.WebhookTimeout, 10*time.Second)
}

// Load reads PIPELINE_* environment variables, after sourcing .env when one
// exists. Missing values fall back to defaults suitable for local runs.
func Load() (*Config, error) {
	// Best effort; absence of a .env file is the normal production case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("pipeline")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_path", "pipeline.db")
	v.SetDefault("loader_path", "warehouse.db")
	v.SetDefault("webhook_url", "")
	v.SetDefault("webhook_timeout", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("chunk_size", 50000)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
