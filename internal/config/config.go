package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DB_DSN"`
	// StoreDriver defaults to postgres when DB_DSN is set, memory otherwise.
	StoreDriver string `envconfig:"STORE_DRIVER"`
	RedisURL    string `envconfig:"REDIS_URL"`

	RecalcInterval    time.Duration `envconfig:"QUEUE_RECALC_INTERVAL" default:"60s"`
	RecalcConcurrency int           `envconfig:"QUEUE_RECALC_CONCURRENCY" default:"4"`
	RecalcTimeout     time.Duration `envconfig:"QUEUE_RECALC_TIMEOUT" default:"10s"`
	PromotionFloor    time.Duration `envconfig:"APPOINTMENT_PROMOTION_FLOOR" default:"30m"`

	RateLimitPerMinute     int `envconfig:"RATE_LIMIT_PER_MIN" default:"120"`
	RateLimitBurst         int `envconfig:"RATE_LIMIT_BURST" default:"30"`
	ShopRateLimitPerMinute int `envconfig:"SHOP_RATE_LIMIT_PER_MIN" default:"600"`
	ShopRateLimitBurst     int `envconfig:"SHOP_RATE_LIMIT_BURST" default:"120"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE"`
}

func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if c.StoreDriver == "" {
		c.StoreDriver = DriverMemory
		if c.DatabaseURL != "" {
			c.StoreDriver = DriverPostgres
		}
	}
	if err := c.validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DB_DSN is required for the %s driver", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RecalcInterval < time.Second {
		return fmt.Errorf("QUEUE_RECALC_INTERVAL must be at least 1s, got %s", c.RecalcInterval)
	}
	if c.RecalcConcurrency < 1 {
		return fmt.Errorf("QUEUE_RECALC_CONCURRENCY must be positive, got %d", c.RecalcConcurrency)
	}
	if c.RecalcTimeout <= 0 {
		return fmt.Errorf("QUEUE_RECALC_TIMEOUT must be positive, got %s", c.RecalcTimeout)
	}
	if c.PromotionFloor < 0 {
		return fmt.Errorf("APPOINTMENT_PROMOTION_FLOOR must not be negative, got %s", c.PromotionFloor)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}
