package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/yungbote/tarotroom-backend/internal/data/db"
)

type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	LogMode string `env:"LOG_MODE" envDefault:"development"`
	Env     string `env:"APP_ENV" envDefault:"development"`
	Version string `env:"APP_VERSION"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH"`
	Postgres   PostgresConfig

	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	RedisChannelPrefix string        `env:"REDIS_CHANNEL_PREFIX" envDefault:"tarotroom"`
	PresenceTTL        time.Duration `env:"PRESENCE_TTL" envDefault:"2m"`

	JWTSecretKey string   `env:"JWT_SECRET_KEY"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:","`

	SyncTimingFile string `env:"SYNC_TIMING_FILE"`

	MetricsEnabled        bool          `env:"METRICS_ENABLED"`
	MetricsAddr           string        `env:"METRICS_ADDR" envDefault:":9090"`
	MetricsScrapeInterval time.Duration `env:"METRICS_SCRAPE_INTERVAL" envDefault:"10s"`
}

type PostgresConfig struct {
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	Name     string `env:"POSTGRES_NAME" envDefault:"tarotroom"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	DSN      string `env:"POSTGRES_DSN"`
}

func (c PostgresConfig) toDB() db.PostgresConfig {
	return db.PostgresConfig{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
		DSN:      c.DSN,
	}
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return cfg, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver)
	}
	if strings.TrimSpace(cfg.JWTSecretKey) == "" {
		return cfg, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	return cfg, nil
}
