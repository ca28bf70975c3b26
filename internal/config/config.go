// Package config loads the service configuration from a YAML file with
// sensible defaults for local development. cmd/server overlays a handful of
// flags on top of the loaded file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// HTTP configures the HTTP edge.
	HTTP struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	}

	// Mongo configures the document store connection.
	Mongo struct {
		URI      string        `yaml:"uri"`
		Database string        `yaml:"database"`
		Timeout  time.Duration `yaml:"timeout"`
	}

	// Redis configures the shared cache and the realtime stream backend.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// Engine configures the registration core.
	Engine struct {
		LockTimeout time.Duration `yaml:"lock_timeout"`
	}

	// Cache configures the listing read path TTLs.
	Cache struct {
		OrderTTL time.Duration `yaml:"order_ttl"`
		PageTTL  time.Duration `yaml:"page_ttl"`
	}

	// Sweep configures the periodic reconciliation cadence.
	Sweep struct {
		Interval time.Duration `yaml:"interval"`
	}

	// Token configures the rejection-token signer.
	Token struct {
		Secret string        `yaml:"secret"`
		TTL    time.Duration `yaml:"ttl"`
	}

	// Email configures the SMTP leg of the dispatcher. An empty host
	// disables real delivery; emails are then logged instead.
	Email struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	}

	// Realtime configures the event stream bus.
	Realtime struct {
		StreamMaxLen     int `yaml:"stream_max_len"`
		SubscriberBuffer int `yaml:"subscriber_buffer"`
	}

	// Config is the whole service configuration.
	Config struct {
		HTTP     HTTP     `yaml:"http"`
		Mongo    Mongo    `yaml:"mongo"`
		Redis    Redis    `yaml:"redis"`
		Engine   Engine   `yaml:"engine"`
		Cache    Cache    `yaml:"cache"`
		Sweep    Sweep    `yaml:"sweep"`
		Token    Token    `yaml:"token"`
		Email    Email    `yaml:"email"`
		Realtime Realtime `yaml:"realtime"`
	}
)

// Default returns the local-development configuration.
func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Mongo: Mongo{
			URI:      "mongodb://localhost:27017",
			Database: "registration",
			Timeout:  5 * time.Second,
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Engine: Engine{
			LockTimeout: 10 * time.Second,
		},
		Cache: Cache{
			OrderTTL: time.Minute,
			PageTTL:  30 * time.Second,
		},
		Sweep: Sweep{
			Interval: time.Minute,
		},
		Token: Token{
			TTL: 14 * 24 * time.Hour,
		},
		Email: Email{
			Port: 587,
			From: "no-reply@localhost",
		},
		Realtime: Realtime{
			StreamMaxLen:     1000,
			SubscriberBuffer: 64,
		},
	}
}

// Load reads path on top of the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Token.Secret == "" {
		return fmt.Errorf("token.secret is required")
	}
	if c.Engine.LockTimeout <= 0 {
		return fmt.Errorf("engine.lock_timeout must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive")
	}
	return nil
}
