// Package config loads the process configuration: a YAML file for tunables
// and the environment (optionally via .env) for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// HTTPConfig tunes the shared outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	MaxRetries         int     `yaml:"max_retries"`
	PerHostConcurrency int     `yaml:"per_host_concurrency"`
	PerHostRPS         float64 `yaml:"per_host_rps"`
	PerHostBurst       int     `yaml:"per_host_burst"`
	UserAgent          string  `yaml:"user_agent"`
}

func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SourceConfig points one upstream at its base URL and names the env var
// holding its API key. Keys never live in the YAML file.
type SourceConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the key from the environment, empty when unset.
func (s SourceConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// CleaningConfig tunes the Bronze-to-Silver pass.
type CleaningConfig struct {
	BatchLimit            int `yaml:"batch_limit"`
	ExtractWorkers        int `yaml:"extract_workers"`
	ExtractTimeoutSeconds int `yaml:"extract_timeout_seconds"`
}

func (c CleaningConfig) ExtractTimeout() time.Duration {
	return time.Duration(c.ExtractTimeoutSeconds) * time.Second
}

// ScheduleConfig places each cadence's firing minute. Hours past the hour for
// hourly, minutes past midnight for the calendar cadences.
type ScheduleConfig struct {
	HourlyMinute    int `yaml:"hourly_minute"`
	DailyMinute     int `yaml:"daily_minute"`
	MonthlyMinute   int `yaml:"monthly_minute"`
	QuarterlyMinute int `yaml:"quarterly_minute"`
}

// Config is the full process configuration.
type Config struct {
	DBPath   string         `yaml:"db_path"`
	OpsAddr  string         `yaml:"ops_addr"`
	HTTP     HTTPConfig     `yaml:"http"`
	Cleaning CleaningConfig `yaml:"cleaning"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sources  struct {
		Macro SourceConfig `yaml:"macro"`
		Price SourceConfig `yaml:"price"`
		News  SourceConfig `yaml:"news"`
	} `yaml:"sources"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	cfg := Config{
		DBPath:  "heimdall.db",
		OpsAddr: ":9180",
	}
	cfg.HTTP = HTTPConfig{
		TimeoutSeconds:     10,
		MaxRetries:         2,
		PerHostConcurrency: 4,
		PerHostRPS:         2.0,
		PerHostBurst:       4,
		UserAgent:          "heimdall-asis/1.0",
	}
	cfg.Cleaning = CleaningConfig{
		BatchLimit:            100,
		ExtractWorkers:        4,
		ExtractTimeoutSeconds: 10,
	}
	cfg.Schedule = ScheduleConfig{
		HourlyMinute:    5,
		DailyMinute:     5,
		MonthlyMinute:   10,
		QuarterlyMinute: 15,
	}
	cfg.Sources.Macro = SourceConfig{
		BaseURL:   "https://api.stlouisfed.org/fred",
		APIKeyEnv: "MACRO_API_KEY",
	}
	cfg.Sources.Price = SourceConfig{
		BaseURL:   "https://marketdata.heimdall.internal/v1",
		APIKeyEnv: "PRICE_API_KEY",
	}
	cfg.Sources.News = SourceConfig{
		BaseURL:   "https://newsapi.org/v2",
		APIKeyEnv: "NEWS_API_KEY",
	}
	return cfg
}

// Load reads path over the defaults. An empty path returns the defaults. A
// .env file in the working directory is loaded first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors backfills zero values so a sparse YAML file still yields a
// runnable configuration.
func (c *Config) applyFloors() {
	def := Default()
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.OpsAddr == "" {
		c.OpsAddr = def.OpsAddr
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		c.HTTP.TimeoutSeconds = def.HTTP.TimeoutSeconds
	}
	if c.HTTP.PerHostConcurrency <= 0 {
		c.HTTP.PerHostConcurrency = def.HTTP.PerHostConcurrency
	}
	if c.HTTP.PerHostRPS <= 0 {
		c.HTTP.PerHostRPS = def.HTTP.PerHostRPS
	}
	if c.HTTP.PerHostBurst <= 0 {
		c.HTTP.PerHostBurst = def.HTTP.PerHostBurst
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = def.HTTP.UserAgent
	}
	if c.Cleaning.BatchLimit <= 0 {
		c.Cleaning.BatchLimit = def.Cleaning.BatchLimit
	}
	if c.Cleaning.ExtractWorkers <= 0 {
		c.Cleaning.ExtractWorkers = def.Cleaning.ExtractWorkers
	}
	if c.Cleaning.ExtractTimeoutSeconds <= 0 {
		c.Cleaning.ExtractTimeoutSeconds = def.Cleaning.ExtractTimeoutSeconds
	}
	if c.Sources.Macro.BaseURL == "" {
		c.Sources.Macro = def.Sources.Macro
	}
	if c.Sources.Price.BaseURL == "" {
		c.Sources.Price = def.Sources.Price
	}
	if c.Sources.News.BaseURL == "" {
		c.Sources.News = def.Sources.News
	}
}
