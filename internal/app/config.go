package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development" validate:"oneof=development test production"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080" validate:"required"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s" validate:"gte=0"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"0s" validate:"gte=0"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"0s" validate:"gte=0"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty" validate:"oneof=pretty json"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379" validate:"required,hostname_port"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"720h" validate:"gt=0"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	APIURL           string        `envconfig:"API_URL" default:"http://localhost:5001" validate:"required,url"`
	APITimeout       time.Duration `envconfig:"API_TIMEOUT" default:"0s" validate:"gte=0"`
	AnalysisDispatch string        `envconfig:"ANALYSIS_DISPATCH" default:"inline" validate:"oneof=inline queue"`
	UploadMaxBytes   int64         `envconfig:"UPLOAD_MAX_BYTES" default:"10485760" validate:"gt=0"`
	WorkspaceTTL     time.Duration `envconfig:"WORKSPACE_TTL" default:"24h" validate:"gt=0"`
	StaleAfter       time.Duration `envconfig:"ANALYSIS_STALE_AFTER" default:"10m" validate:"gt=0"`
	RateLimit        int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60" validate:"gte=0"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"gt=0"`

	GotenbergURL string `envconfig:"GOTENBERG_URL" default:"http://127.0.0.1:3000" validate:"omitempty,url"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("session secret must be provided")
	}
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// SecureCookies reports whether session cookies carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return c.IsProduction()
}
