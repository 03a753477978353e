package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type GatewayConfig struct {
	AccessToken string        `yaml:"access_token"`
	BaseURL     string        `yaml:"base_url"` // override for sandbox/tests
	ReturnURL   string        `yaml:"return_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ProvisionerConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SweepConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MinAge      time.Duration `yaml:"min_age"`
	MaxAge      time.Duration `yaml:"max_age"`
	MaxAttempts int           `yaml:"max_attempts"`
	Throttle    time.Duration `yaml:"throttle"`
	BatchSize   int           `yaml:"batch_size"`
}

type PollerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type WebConfig struct {
	Port        int           `yaml:"port"`
	AdminAPIKey string        `yaml:"admin_api_key"`
	RetryDelay  time.Duration `yaml:"retry_delay"` // return-redirect self-retry delay
}

type PricingConfig struct {
	// Plans maps plan codes to the full-period price as a decimal string.
	Plans map[string]string `yaml:"plans"`
	// RenewalDailyRate prices renewals per day of extension.
	RenewalDailyRate string `yaml:"renewal_daily_rate"`
	// Coupons maps coupon codes to a percentage discount (0-100).
	Coupons map[string]int `yaml:"coupons"`
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	BuyerChatID   int64  `yaml:"buyer_chat_id"`
	OpsChatID     int64  `yaml:"ops_chat_id"`
}

type Config struct {
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Poller      PollerConfig      `yaml:"poller"`
	Web         WebConfig         `yaml:"web"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Notify      NotifyConfig      `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Provisioner.Timeout <= 0 {
		cfg.Provisioner.Timeout = 10 * time.Second
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = time.Minute
	}
	if cfg.Sweep.MinAge <= 0 {
		cfg.Sweep.MinAge = 3 * time.Minute
	}
	if cfg.Sweep.MaxAge <= 0 {
		cfg.Sweep.MaxAge = 24 * time.Hour
	}
	if cfg.Sweep.MaxAttempts <= 0 {
		cfg.Sweep.MaxAttempts = 10
	}
	if cfg.Sweep.Throttle <= 0 {
		cfg.Sweep.Throttle = 500 * time.Millisecond
	}
	if cfg.Sweep.BatchSize <= 0 {
		cfg.Sweep.BatchSize = 200
	}
	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = 30 * time.Second
	}
	if cfg.Poller.MaxBackoff <= 0 {
		cfg.Poller.MaxBackoff = 10 * time.Minute
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.RetryDelay <= 0 {
		cfg.Web.RetryDelay = 2 * time.Second
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Sweep.MinAge >= cfg.Sweep.MaxAge {
		return nil, errors.New("sweep.min_age must be smaller than sweep.max_age")
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Gateway.AccessToken == "" {
		return nil, errors.New("gateway.access_token is required")
	}
	if cfg.Provisioner.BaseURL == "" {
		return nil, errors.New("provisioner.base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
