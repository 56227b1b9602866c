package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Cache     Cache     `envPrefix:"CACHE_"`
		Prune     Prune     `envPrefix:"PRUNE_"`
		Upstream  Upstream  `envPrefix:"UPSTREAM_"`
		Render    Render    `envPrefix:"RENDER_"`
		Registry  Registry  `envPrefix:"REGISTRY_"`
		Reference Reference `envPrefix:"REFERENCE_"`
	}

	HTTP struct {
		Server Server `envPrefix:"SERVER_"`
	}

	Server struct {
		Port         string        `env:"PORT,required"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL,required"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"tile-gateway"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	Cache struct {
		Dir     string `env:"DIR" envDefault:"./tile-cache"`
		MaxSize string `env:"MAX_SIZE" envDefault:"5GiB"`

		WriteQueueSize int `env:"WRITE_QUEUE_SIZE" envDefault:"256"`
		WriteWorkers   int `env:"WRITE_WORKERS" envDefault:"2"`

		MaxAgeBase        time.Duration `env:"MAX_AGE_BASE" envDefault:"168h"`
		MaxAgeOverlay     time.Duration `env:"MAX_AGE_OVERLAY" envDefault:"24h"`
		MaxAgeChart       time.Duration `env:"MAX_AGE_CHART" envDefault:"168h"`
		MaxAgePlaceholder time.Duration `env:"MAX_AGE_PLACEHOLDER" envDefault:"1h"`
	}

	Prune struct {
		Interval     time.Duration `env:"INTERVAL" envDefault:"1h"`
		StartupDelay time.Duration `env:"STARTUP_DELAY" envDefault:"30s"`
		JournalPath  string        `env:"JOURNAL_PATH" envDefault:"./prune-journal.db"`
	}

	Upstream struct {
		Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
		UserAgent string        `env:"USER_AGENT" envDefault:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
	}

	Render struct {
		// 0 means one render per CPU.
		Concurrency int `env:"CONCURRENCY" envDefault:"0"`
	}

	Registry struct {
		File string `env:"FILE,required"`
	}

	Reference struct {
		Source  string        `env:"SOURCE" envDefault:"none"`
		URL     string        `env:"URL" envDefault:""`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"2s"`
		Redis   Redis         `envPrefix:"REDIS_"`
	}

	Redis struct {
		Addr     string `env:"ADDR" envDefault:"localhost:6379"`
		Password string `env:"PASSWORD" envDefault:""`
		DB       int    `env:"DB" envDefault:"0"`
		Key      string `env:"KEY" envDefault:"reference:location"`
	}
)

const (
	ReferenceSourceNone  = "none"
	ReferenceSourceHTTP  = "http"
	ReferenceSourceRedis = "redis"
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	if _, err := cfg.Cache.MaxBytes(); err != nil {
		return nil, err
	}

	switch cfg.Reference.Source {
	case ReferenceSourceNone, ReferenceSourceHTTP, ReferenceSourceRedis:
	default:
		return nil, fmt.Errorf("unknown reference source %q", cfg.Reference.Source)
	}

	return &cfg, nil
}

// MaxBytes parses the human readable cache budget ("5GiB", "500 MB").
func (c Cache) MaxBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid cache max size %q: %w", c.MaxSize, err)
	}
	return int64(n), nil
}

const redacted = "xxxxx"

// Redacted returns a copy that is safe to log: the redis password is masked
// and credentials are stripped from the reference URL.
func (c Config) Redacted() Config {
	if c.Reference.Redis.Password != "" {
		c.Reference.Redis.Password = redacted
	}
	if u, err := url.Parse(c.Reference.URL); err == nil && u.User != nil {
		c.Reference.URL = u.Redacted()
	}
	return c
}
