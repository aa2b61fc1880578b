package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	RabbitMQAddress   string        `env:"RABBITMQ_ADDRESS" envDefault:"amqp://127.0.0.1:5672/%2f"`
	ConnectionName    string        `env:"CONNECTION_NAME" envDefault:"kakigoori-worker"`
	ConnectAttempts   int           `env:"RABBITMQ_CONNECT_ATTEMPTS" envDefault:"5"`
	ConnectRetryDelay time.Duration `env:"RABBITMQ_CONNECT_RETRY_DELAY" envDefault:"5s"`
	PrefetchCount     int           `env:"PREFETCH_COUNT" envDefault:"1"`

	// Comma-separated; empty enables every known format.
	WorkerFileTypes string `env:"WORKER_FILE_TYPES"`
	QueuePrefix     string `env:"QUEUE_PREFIX" envDefault:"kakigoori"`
	ScratchDir      string `env:"SCRATCH_DIR" envDefault:"/tmp"`

	AvifencPath string `env:"AVIFENC_PATH" envDefault:"/usr/bin/avifenc"`
	CwebpPath   string `env:"CWEBP_PATH" envDefault:"/usr/bin/cwebp"`

	HealthPort string `env:"HEALTH_PORT"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if cfg.ConnectAttempts <= 0 {
		return nil, fmt.Errorf("RABBITMQ_CONNECT_ATTEMPTS must be positive, got %d", cfg.ConnectAttempts)
	}
	if cfg.PrefetchCount <= 0 {
		return nil, fmt.Errorf("PREFETCH_COUNT must be positive, got %d", cfg.PrefetchCount)
	}
	return &cfg, nil
}

// Formats returns the requested format names, lowercased. A nil result means
// no preference was given.
func (c *Config) Formats() []string {
	var formats []string
	for _, f := range strings.Split(c.WorkerFileTypes, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			formats = append(formats, f)
		}
	}
	return formats
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
