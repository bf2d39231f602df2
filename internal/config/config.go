package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration loaded from environment variables.
// The upstream, registry and OneBot endpoints are required; everything else
// has a default.
type Config struct {
	// Upstream event source
	MessageWS         string        `env:"MESSAGE_WS,required,notEmpty"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	ReconnectMaxDelay time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"5s"`
	PingInterval      time.Duration `env:"PING_INTERVAL" envDefault:"30s"`

	// Decode/render pool
	Workers         int           `env:"WORKERS" envDefault:"10"`
	QueueCapacity   int           `env:"QUEUE_CAPACITY" envDefault:"0"`
	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"60s"`

	// Subscriber registry and settings portal
	M2MToken        string        `env:"M2M_TOKEN,required,notEmpty"`
	BackendURL      string        `env:"BACKEND_URL,required,notEmpty"`
	FrontendURL     string        `env:"FRONTEND_URL,required,notEmpty"`
	RegistryTimeout time.Duration `env:"REGISTRY_TIMEOUT" envDefault:"10s"`

	// OneBot (QQ) HTTP API
	OneBotAPIURL      string        `env:"ONEBOT_API_URL,required,notEmpty"`
	OneBotAccessToken string        `env:"ONEBOT_ACCESS_TOKEN"`
	OneBotSecret      string        `env:"ONEBOT_SECRET"`
	OneBotTimeout     time.Duration `env:"ONEBOT_TIMEOUT" envDefault:"10s"`
	SendRate          int           `env:"SEND_RATE" envDefault:"20"`
	FanoutConcurrency int           `env:"FANOUT_CONCURRENCY" envDefault:"0"`
	CommandPrefix     string        `env:"COMMAND_PREFIX" envDefault:"/"`

	// Duplicate frame suppression, off unless DedupTTL > 0; empty RedisAddr
	// keeps it in-process.
	RedisAddr string        `env:"REDIS_ADDR"`
	DedupTTL  time.Duration `env:"DEDUP_TTL" envDefault:"0s"`

	// Server
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Logging
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY must not be negative, got %d", c.QueueCapacity))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("RECONNECT_DELAY must be positive"))
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		errs = append(errs, errors.New("RECONNECT_MAX_DELAY must not be below RECONNECT_DELAY"))
	}
	if c.SendRate < 0 {
		errs = append(errs, fmt.Errorf("SEND_RATE must not be negative, got %d", c.SendRate))
	}
	if c.DedupTTL < 0 {
		errs = append(errs, errors.New("DEDUP_TTL must not be negative"))
	}
	if c.FanoutConcurrency < 0 {
		errs = append(errs, fmt.Errorf("FANOUT_CONCURRENCY must not be negative, got %d", c.FanoutConcurrency))
	}

	for name, raw := range map[string]string{
		"MESSAGE_WS":     c.MessageWS,
		"BACKEND_URL":    c.BackendURL,
		"FRONTEND_URL":   c.FrontendURL,
		"ONEBOT_API_URL": c.OneBotAPIURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}

	return errors.Join(errs...)
}
