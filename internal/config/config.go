package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	GCMAPIKey         string `env:"GCM_API_KEY,required=true"`
	GCMURL            string `env:"GCM_URL,default=https://gcm-http.googleapis.com/gcm/send"`
	GCMTimeoutSeconds int    `env:"GCM_TIMEOUT_SECONDS,default=10"`
	RedisURL          string `env:"REDIS_URL"`
	DatabaseDSN       string `env:"DATABASE_DSN"`
	RabbitMQURL       string `env:"RABBITMQ_URL"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	MaxAttempts       int    `env:"MAX_ATTEMPTS,default=5"`
	SendConcurrency   int    `env:"SEND_CONCURRENCY,default=4"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=2"`
	QueuePrefetch     int    `env:"QUEUE_PREFETCH,default=10"`
	APIPort           int    `env:"API_PORT,default=8080"`
	WorkerPort        int    `env:"WORKER_PORT,default=8081"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.GCMTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("failed to load config: GCM_TIMEOUT_SECONDS must be positive")
	}
	return &cfg, nil
}

func (c *Config) GCMTimeout() time.Duration {
	return time.Duration(c.GCMTimeoutSeconds) * time.Second
}

// AsyncEnabled reports whether the queued delivery path has both of its
// backends configured.
func (c *Config) AsyncEnabled() bool {
	return strings.TrimSpace(c.DatabaseDSN) != "" && strings.TrimSpace(c.RabbitMQURL) != ""
}

// RequireAsync is used by the worker, which cannot run without Postgres and
// RabbitMQ.
func (c *Config) RequireAsync() error {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if strings.TrimSpace(c.RabbitMQURL) == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}
