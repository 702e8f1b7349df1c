package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type StoreDriver string

const (
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
	StoreMemory   StoreDriver = "memory"
)

const (
	defaultDispatchTimeout = 30 * time.Second
	defaultClaimTimeout    = 5 * time.Second
	defaultReaperBatch     = 100
	maxWorkers             = 64
)

// Config is loaded from environment variables (and .env when present).
type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	WorkerBaseURL   string        `env:"WORKER_BASE_URL" envDefault:"http://localhost:8000"`
	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"30s"`

	Workers      int           `env:"WORKERS" envDefault:"4"`
	ClaimTimeout time.Duration `env:"CLAIM_TIMEOUT" envDefault:"5s"`
	// RunDispatch=false leaves the queue to cmd/worker (Redis only).
	RunDispatch bool `env:"RUN_DISPATCH" envDefault:"true"`

	Store StoreConfig
	Redis RedisConfig `envPrefix:"REDIS_"`

	Reaper ReaperConfig

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type StoreConfig struct {
	Driver        StoreDriver `env:"STORE_DRIVER" envDefault:"memory"`
	PostgresDSN   string      `env:"POSTGRES_DSN"`
	SQLitePath    string      `env:"SQLITE_PATH" envDefault:"detect.db"`
	RunMigrations bool        `env:"RUN_MIGRATIONS" envDefault:"true"`
}

// RedisConfig: пустой Addr означает очередь в памяти процесса.
type RedisConfig struct {
	Addr          string `env:"ADDR"`
	Password      string `env:"PASSWORD"`
	DB            int    `env:"DB" envDefault:"0"`
	QueueKey      string `env:"QUEUE_KEY" envDefault:"detect:dispatch:queue"`
	ProcessingKey string `env:"PROCESSING_KEY" envDefault:"detect:dispatch:processing"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// ReaperConfig controls the stale-job sweep. A zero JobTimeout disables it.
type ReaperConfig struct {
	Schedule   string        `env:"REAPER_SCHEDULE" envDefault:"@every 1m"`
	JobTimeout time.Duration `env:"JOB_TIMEOUT" envDefault:"0s"`
	Batch      int           `env:"REAPER_BATCH" envDefault:"100"`
}

func (r ReaperConfig) Enabled() bool { return r.JobTimeout > 0 }

// Load reads .env if it exists, parses the environment and applies Sanitize.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, cfg.Validate()
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Workers > maxWorkers {
		c.Workers = maxWorkers
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = defaultClaimTimeout
	}
	if c.Reaper.JobTimeout < 0 {
		c.Reaper.JobTimeout = 0
	}
	if c.Reaper.Batch <= 0 {
		c.Reaper.Batch = defaultReaperBatch
	}
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	c.WorkerBaseURL = strings.TrimRight(strings.TrimSpace(c.WorkerBaseURL), "/")
	c.Store.Driver = StoreDriver(strings.ToLower(strings.TrimSpace(string(c.Store.Driver))))
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.PublicBaseURL == "" {
		return errors.New("PUBLIC_BASE_URL must not be empty")
	}
	if c.WorkerBaseURL == "" {
		return errors.New("WORKER_BASE_URL must not be empty")
	}
	if !c.RunDispatch && !c.Redis.Enabled() {
		return errors.New("RUN_DISPATCH=false requires REDIS_ADDR: nobody else can drain an in-process queue")
	}
	return nil
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password: user:pass@ -> user:****@.
// DSNs without a password are returned unchanged.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
